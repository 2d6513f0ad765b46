package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/transaction"
)

const transactionColumns = `id, transaction_id, user_id, amount, action, ref_id, description, balance_after, created_at`

// TransactionRepository MySQL実装のTransactionRepository（credit_transactions）
type TransactionRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewTransactionRepository 新しいTransactionRepositoryを作成
func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{
		db:     db,
		tracer: otel.Tracer("transaction-repository"),
	}
}

// Save 台帳行を追記
func (r *TransactionRepository) Save(ctx context.Context, t *transaction.Transaction) error {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", t.TransactionID()),
		attribute.String("db.user_id", t.UserID()),
		attribute.String("db.action", t.Action().String()),
		attribute.Int64("db.amount", t.Amount()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `
		INSERT INTO credit_transactions (
			transaction_id, user_id, amount, action, ref_id, description, balance_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var refID interface{}
	if t.RefID() != nil {
		refID = *t.RefID()
	}

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		t.TransactionID(),
		t.UserID(),
		t.Amount(),
		t.Action().String(),
		refID,
		t.Description(),
		t.BalanceAfter(),
		t.CreatedAt(),
	)
	if err != nil {
		if isDuplicateEntry(err) {
			span.SetStatus(otelcodes.Ok, "duplicate idempotency key")
			return transaction.ErrDuplicateTransaction
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("save transaction", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		t.SetID(id)
	}

	span.SetStatus(otelcodes.Ok, "transaction saved")
	return nil
}

// FindByTransactionID トランザクションIDで取得
func (r *TransactionRepository) FindByTransactionID(ctx context.Context, transactionID string) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByTransactionID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.transaction_id", transactionID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE transaction_id = ?
	`

	t, err := scanTransaction(r.db.conn(ctx).QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "transaction not found")
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(otelcodes.Ok, "transaction found")
	return t, nil
}

// FindByIdempotencyKey (user_id, ref_id, action) で取得
func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, userID, refID string, action transaction.Action) (*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByIdempotencyKey")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.ref_id", refID),
		attribute.String("db.action", action.String()),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = ? AND ref_id = ? AND action = ?
	`

	t, err := scanTransaction(r.db.conn(ctx).QueryRowContext(ctx, query, userID, refID, action.String()))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "transaction not found")
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(otelcodes.Ok, "transaction found")
	return t, nil
}

// SumAmountByUserID ユーザーの台帳合計を返す
// 共有ロック付きで読むため、トランザクション内では常に最新のコミット済み行が対象になる
func (r *TransactionRepository) SumAmountByUserID(ctx context.Context, userID string) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.SumAmountByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE user_id = ?
		FOR SHARE
	`

	var sum int64
	if err := r.db.conn(ctx).QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, dbError("sum ledger", err)
	}

	span.SetAttributes(attribute.Int64("db.sum", sum))
	span.SetStatus(otelcodes.Ok, "ledger summed")
	return sum, nil
}

// FindByUserID ユーザーの履歴を新しい順に取得
func (r *TransactionRepository) FindByUserID(ctx context.Context, userID string, action transaction.Action, limit, offset int) ([]*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.action", action.String()),
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE user_id = ?`
	args := []interface{}{userID}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, action.String())
	}
	query += `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	transactions, err := r.query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.count", len(transactions)))
	span.SetStatus(otelcodes.Ok, "transactions found")
	return transactions, nil
}

// CountByUserID ユーザーの履歴件数を返す
func (r *TransactionRepository) CountByUserID(ctx context.Context, userID string, action transaction.Action) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.CountByUserID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT COUNT(*) FROM credit_transactions WHERE user_id = ?`
	args := []interface{}{userID}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, action.String())
	}

	var count int64
	if err := r.db.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, dbError("count transactions", err)
	}

	span.SetStatus(otelcodes.Ok, "transactions counted")
	return count, nil
}

// FindAfterID afterIDより後かつcreatedBefore以前の行をID昇順で取得
func (r *TransactionRepository) FindAfterID(ctx context.Context, afterID int64, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	ctx, span := r.tracer.Start(ctx, "TransactionRepository.FindAfterID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("db.after_id", afterID),
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "credit_transactions"),
	)

	query := `SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE id > ? AND created_at <= ?
		ORDER BY id ASC
		LIMIT ?
	`

	transactions, err := r.query(ctx, query, afterID, createdBefore, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.count", len(transactions)))
	span.SetStatus(otelcodes.Ok, "transactions found")
	return transactions, nil
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...interface{}) ([]*transaction.Transaction, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query transactions", err)
	}
	defer rows.Close()

	var transactions []*transaction.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate transactions", err)
	}
	return transactions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*transaction.Transaction, error) {
	var (
		id            int64
		transactionID string
		userID        string
		amount        int64
		action        string
		refID         sql.NullString
		description   string
		balanceAfter  int64
		createdAt     time.Time
	)

	err := row.Scan(&id, &transactionID, &userID, &amount, &action, &refID, &description, &balanceAfter, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, dbError("scan transaction", err)
	}

	var refIDPtr *string
	if refID.Valid {
		refIDPtr = &refID.String
	}

	t, err := transaction.NewTransaction(transactionID, userID, amount, transaction.Action(action), refIDPtr, description, balanceAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct transaction entity: %w", err)
	}
	t.SetID(id)
	t.SetCreatedAt(createdAt)
	return t, nil
}
