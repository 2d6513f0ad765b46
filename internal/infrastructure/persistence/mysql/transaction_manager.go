package mysql

import (
	"context"
	"database/sql"

	"credits-ledger/internal/domain/transaction"
)

// ledgerTxOptions 台帳トランザクションの分離レベル
// 行ロック取得後の読み取りは、その時点の最新のコミット済み行を対象にする
var ledgerTxOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// TransactionManager トランザクション管理を提供
type TransactionManager struct {
	db *DB
}

// NewTransactionManager 新しいトランザクションマネージャーを作成
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// WithTransaction トランザクション内で関数を実行
// fnに渡すctxにはトランザクションが紐づく。既にトランザクション内の場合はそれに参加する
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := tm.db.BeginTx(ctx, ledgerTxOptions)
	if err != nil {
		return dbError("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = dbError(transaction.OpCommit, cerr)
		}
	}()

	err = fn(withTx(ctx, tx))
	return err
}
