package transaction

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionNotFound トランザクションが見つからないエラー
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidTransaction 無効なトランザクションエラー
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrInvalidTransactionID トランザクションIDが無効
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	// ErrInvalidAction アクションタグが無効
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidRefID 参照IDが無効
	ErrInvalidRefID = errors.New("invalid ref id")
	// ErrDuplicateTransaction 冪等キー (user_id, ref_id, action) の重複エラー
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// OpCommit コミット時の失敗を表すOp
// コミット失敗は反映済みかどうか判別できないため、冪等キーがない限り再試行しない
const OpCommit = "commit"

// DatabaseError 永続化層の失敗
// Retryable が true の場合（デッドロック、ロック待ちタイムアウト、接続断など）は再試行してよい
type DatabaseError struct {
	Op        string
	Err       error
	Retryable bool
}

// NewDatabaseError 新しいDatabaseErrorを作成
func NewDatabaseError(op string, err error, retryable bool) *DatabaseError {
	return &DatabaseError{Op: op, Err: err, Retryable: retryable}
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// IsDatabaseError errがDatabaseErrorかどうかを返す
func IsDatabaseError(err error) bool {
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}

// IsRetryable errが再試行可能なDatabaseErrorかどうかを返す
func IsRetryable(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Retryable
	}
	return false
}

// IsCommitFailure errがコミット時のDatabaseErrorかどうかを返す
func IsCommitFailure(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Op == OpCommit
	}
	return false
}
