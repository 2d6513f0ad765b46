package transaction

import (
	"context"
	"time"
)

// TransactionRepository 台帳リポジトリインターフェース
type TransactionRepository interface {
	// Save 台帳行を追記。冪等キーが重複した場合は ErrDuplicateTransaction を返す
	Save(ctx context.Context, transaction *Transaction) error

	// FindByTransactionID トランザクションIDで取得
	FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)

	// FindByIdempotencyKey (user_id, ref_id, action) で取得
	FindByIdempotencyKey(ctx context.Context, userID, refID string, action Action) (*Transaction, error)

	// SumAmountByUserID ユーザーの台帳合計（権威ある残高）を返す
	SumAmountByUserID(ctx context.Context, userID string) (int64, error)

	// FindByUserID ユーザーの履歴を新しい順に取得。actionが空の場合は全件
	FindByUserID(ctx context.Context, userID string, action Action, limit, offset int) ([]*Transaction, error)

	// CountByUserID ユーザーの履歴件数を返す
	CountByUserID(ctx context.Context, userID string, action Action) (int64, error)

	// FindAfterID afterIDより後かつcreatedBefore以前の行をID昇順で取得
	FindAfterID(ctx context.Context, afterID int64, createdBefore time.Time, limit int) ([]*Transaction, error)
}
