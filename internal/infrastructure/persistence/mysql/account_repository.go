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

	"credits-ledger/internal/domain/account"
)

// AccountRepository MySQL実装のAccountRepository
type AccountRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewAccountRepository 新しいAccountRepositoryを作成
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{
		db:     db,
		tracer: otel.Tracer("account-repository"),
	}
}

// FindByUserID ユーザーIDでアカウントを取得
func (r *AccountRepository) FindByUserID(ctx context.Context, userID string) (*account.Account, error) {
	return r.find(ctx, "AccountRepository.FindByUserID", `
		SELECT user_id, credits, created_at, updated_at
		FROM users
		WHERE user_id = ?
	`, userID)
}

// LockByUserID 行ロックを取得してアカウントを返す
func (r *AccountRepository) LockByUserID(ctx context.Context, userID string) (*account.Account, error) {
	return r.find(ctx, "AccountRepository.LockByUserID", `
		SELECT user_id, credits, created_at, updated_at
		FROM users
		WHERE user_id = ?
		FOR UPDATE
	`, userID)
}

func (r *AccountRepository) find(ctx context.Context, spanName, query, userID string) (*account.Account, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "users"),
	)

	var dbUserID string
	var credits int64
	var createdAt, updatedAt time.Time

	err := r.db.conn(ctx).QueryRowContext(ctx, query, userID).Scan(
		&dbUserID,
		&credits,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "account not found")
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, dbError("find account", err)
	}

	span.SetAttributes(attribute.Int64("db.credits", credits))
	span.SetStatus(otelcodes.Ok, "account found")

	// キャッシュ値はずれている可能性があるため範囲検証で弾かない
	a, err := account.NewAccount(dbUserID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct account entity: %w", err)
	}
	a.SyncTo(credits)
	a.SetTimestamps(createdAt, updatedAt)
	return a, nil
}

// EnsureExists アカウント行が無ければ残高0で作成
func (r *AccountRepository) EnsureExists(ctx context.Context, userID string) error {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.EnsureExists")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "users"),
	)

	query := `
		INSERT INTO users (user_id, credits)
		VALUES (?, 0)
		ON DUPLICATE KEY UPDATE user_id = user_id
	`

	if _, err := r.db.conn(ctx).ExecContext(ctx, query, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("ensure account", err)
	}

	span.SetStatus(otelcodes.Ok, "account ensured")
	return nil
}

// UpdateCredits キャッシュ残高を指定値に更新
func (r *AccountRepository) UpdateCredits(ctx context.Context, userID string, credits int64) error {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.UpdateCredits")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.Int64("db.credits", credits),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "users"),
	)

	query := `
		UPDATE users
		SET credits = ?, updated_at = CURRENT_TIMESTAMP(6)
		WHERE user_id = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query, credits, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("update credits", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("update credits rows affected", err)
	}
	if rowsAffected == 0 {
		span.SetStatus(otelcodes.Ok, "account not found")
		return account.ErrAccountNotFound
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	span.SetStatus(otelcodes.Ok, "credits updated")
	return nil
}

// DecrementIfSufficient credits >= amount の場合のみ減算する
func (r *AccountRepository) DecrementIfSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.DecrementIfSufficient")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", userID),
		attribute.Int64("db.amount", amount),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "users"),
	)

	query := `
		UPDATE users
		SET credits = credits - ?, updated_at = CURRENT_TIMESTAMP(6)
		WHERE user_id = ? AND credits >= ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query, amount, userID, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, dbError("decrement credits", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return false, dbError("decrement credits rows affected", err)
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	span.SetStatus(otelcodes.Ok, "credits decremented")
	return rowsAffected > 0, nil
}

// ListUserIDs afterUserIDより後のユーザーIDを昇順で取得
func (r *AccountRepository) ListUserIDs(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "AccountRepository.ListUserIDs")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.after_user_id", afterUserID),
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "users"),
	)

	query := `
		SELECT user_id
		FROM users
		WHERE user_id > ?
		ORDER BY user_id ASC
		LIMIT ?
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, afterUserID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, dbError("list user ids", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, dbError("scan user id", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, dbError("iterate user ids", err)
	}

	span.SetAttributes(attribute.Int("db.count", len(userIDs)))
	span.SetStatus(otelcodes.Ok, "user ids listed")
	return userIDs, nil
}
