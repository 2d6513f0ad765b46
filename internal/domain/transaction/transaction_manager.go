package transaction

import (
	"context"
)

// TransactionManager トランザクション管理インターフェース
// fnに渡されるctxにはDBトランザクションが紐づいており、リポジトリはそれを使用する
type TransactionManager interface {
	// WithTransaction トランザクション内で関数を実行。fnがエラーを返した場合はロールバック
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
