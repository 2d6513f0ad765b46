package account

import (
	"context"
)

// AccountRepository 残高キャッシュ（usersテーブル）のリポジトリインターフェース
// ロックを伴うメソッドは TransactionManager.WithTransaction の中で呼び出すこと
type AccountRepository interface {
	// FindByUserID ユーザーIDでアカウントを取得（ロックなし）
	FindByUserID(ctx context.Context, userID string) (*Account, error)

	// LockByUserID 行ロック（SELECT ... FOR UPDATE）を取得してアカウントを返す
	LockByUserID(ctx context.Context, userID string) (*Account, error)

	// EnsureExists アカウント行が無ければ残高0で作成
	EnsureExists(ctx context.Context, userID string) error

	// UpdateCredits キャッシュ残高を指定値に更新
	UpdateCredits(ctx context.Context, userID string, credits int64) error

	// DecrementIfSufficient credits >= amount の場合のみ減算する。更新できた場合 true
	DecrementIfSufficient(ctx context.Context, userID string, amount int64) (bool, error)

	// ListUserIDs afterUserID より後のユーザーIDを昇順で最大limit件取得
	ListUserIDs(ctx context.Context, afterUserID string, limit int) ([]string, error)
}
