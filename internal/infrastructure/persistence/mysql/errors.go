package mysql

import (
	"context"
	"database/sql/driver"
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"

	"credits-ledger/internal/domain/transaction"
)

// MySQLのエラー番号
const (
	errDupEntry          uint16 = 1062 // ER_DUP_ENTRY
	errLockWaitTimeout   uint16 = 1205 // ER_LOCK_WAIT_TIMEOUT
	errLockDeadlock      uint16 = 1213 // ER_LOCK_DEADLOCK
	errProcedureNotExist uint16 = 1305 // ER_SP_DOES_NOT_EXIST
)

func mysqlErrorNumber(err error) (uint16, bool) {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number, true
	}
	return 0, false
}

func isMySQLError(err error, number uint16) bool {
	n, ok := mysqlErrorNumber(err)
	return ok && n == number
}

// isDuplicateEntry 一意制約違反かどうか
func isDuplicateEntry(err error) bool {
	return isMySQLError(err, errDupEntry)
}

// isProcedureMissing ストアドプロシージャ未定義かどうか
func isProcedureMissing(err error) bool {
	return isMySQLError(err, errProcedureNotExist)
}

// isRetryable 再試行で解消しうる失敗かどうか
func isRetryable(err error) bool {
	if n, ok := mysqlErrorNumber(err); ok {
		return n == errLockDeadlock || n == errLockWaitTimeout
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn)
}

// dbError ドライバのエラーをドメインのDatabaseErrorに変換
// ctxのキャンセルはそのまま返す
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return transaction.NewDatabaseError(op, err, isRetryable(err))
}
