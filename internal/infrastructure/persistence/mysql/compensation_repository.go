package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/compensation"
)

const compensationColumns = `compensation_id, user_id, amount, reason, ref_id, status, retry_count, last_error, created_at, updated_at`

// CompensationRepository MySQL実装のCompensationRepository
type CompensationRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewCompensationRepository 新しいCompensationRepositoryを作成
func NewCompensationRepository(db *DB) *CompensationRepository {
	return &CompensationRepository{
		db:     db,
		tracer: otel.Tracer("compensation-repository"),
	}
}

// Save 補填を保存
func (r *CompensationRepository) Save(ctx context.Context, c *compensation.Compensation) error {
	ctx, span := r.tracer.Start(ctx, "CompensationRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.compensation_id", c.CompensationID()),
		attribute.String("db.user_id", c.UserID()),
		attribute.Int64("db.amount", c.Amount()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "pending_compensations"),
	)

	query := `
		INSERT INTO pending_compensations (
			compensation_id, user_id, amount, reason, ref_id, status, retry_count, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		c.CompensationID(),
		c.UserID(),
		c.Amount(),
		c.Reason(),
		c.RefID(),
		c.Status().String(),
		c.RetryCount(),
		c.LastError(),
		c.CreatedAt(),
		c.UpdatedAt(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("save compensation", err)
	}

	span.SetStatus(otelcodes.Ok, "compensation saved")
	return nil
}

// FindByCompensationID 補填IDで取得
func (r *CompensationRepository) FindByCompensationID(ctx context.Context, compensationID string) (*compensation.Compensation, error) {
	ctx, span := r.tracer.Start(ctx, "CompensationRepository.FindByCompensationID")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.compensation_id", compensationID),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "pending_compensations"),
	)

	query := `SELECT ` + compensationColumns + `
		FROM pending_compensations
		WHERE compensation_id = ?
	`

	c, err := scanCompensation(r.db.conn(ctx).QueryRowContext(ctx, query, compensationID))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "compensation not found")
		return nil, compensation.ErrCompensationNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(otelcodes.Ok, "compensation found")
	return c, nil
}

// FindPending 未処理の補填を古い順に取得
func (r *CompensationRepository) FindPending(ctx context.Context, limit int) ([]*compensation.Compensation, error) {
	ctx, span := r.tracer.Start(ctx, "CompensationRepository.FindPending")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "pending_compensations"),
	)

	query := `SELECT ` + compensationColumns + `
		FROM pending_compensations
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	list, err := r.query(ctx, query, compensation.StatusPending.String(), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.count", len(list)))
	span.SetStatus(otelcodes.Ok, "pending compensations found")
	return list, nil
}

// Update ステータス・リトライ回数・エラーを更新
func (r *CompensationRepository) Update(ctx context.Context, c *compensation.Compensation) error {
	ctx, span := r.tracer.Start(ctx, "CompensationRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.compensation_id", c.CompensationID()),
		attribute.String("db.status", c.Status().String()),
		attribute.Int("db.retry_count", c.RetryCount()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "pending_compensations"),
	)

	query := `
		UPDATE pending_compensations
		SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		WHERE compensation_id = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		c.Status().String(),
		c.RetryCount(),
		c.LastError(),
		c.UpdatedAt(),
		c.CompensationID(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("update compensation", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("update compensation rows affected", err)
	}
	if rowsAffected == 0 {
		span.SetStatus(otelcodes.Ok, "compensation not found")
		return compensation.ErrCompensationNotFound
	}

	span.SetStatus(otelcodes.Ok, "compensation updated")
	return nil
}

// ListByStatus ステータスで一覧取得
func (r *CompensationRepository) ListByStatus(ctx context.Context, status compensation.Status, limit, offset int) ([]*compensation.Compensation, error) {
	ctx, span := r.tracer.Start(ctx, "CompensationRepository.ListByStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.status", status.String()),
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "pending_compensations"),
	)

	query := `SELECT ` + compensationColumns + `
		FROM pending_compensations
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	list, err := r.query(ctx, query, status.String(), limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("db.count", len(list)))
	span.SetStatus(otelcodes.Ok, "compensations listed")
	return list, nil
}

// CountByStatus ステータスごとの件数を返す
func (r *CompensationRepository) CountByStatus(ctx context.Context, status compensation.Status) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CompensationRepository.CountByStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.status", status.String()),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "pending_compensations"),
	)

	var count int64
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_compensations WHERE status = ?`,
		status.String(),
	).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, dbError("count compensations", err)
	}

	span.SetStatus(otelcodes.Ok, "compensations counted")
	return count, nil
}

func (r *CompensationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*compensation.Compensation, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query compensations", err)
	}
	defer rows.Close()

	var list []*compensation.Compensation
	for rows.Next() {
		c, err := scanCompensation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate compensations", err)
	}
	return list, nil
}

func scanCompensation(row rowScanner) (*compensation.Compensation, error) {
	var (
		compensationID string
		userID         string
		amount         int64
		reason         string
		refID          string
		status         string
		retryCount     int
		lastError      sql.NullString
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(&compensationID, &userID, &amount, &reason, &refID, &status, &retryCount, &lastError, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, dbError("scan compensation", err)
	}

	s, err := compensation.NewStatus(status)
	if err != nil {
		return nil, err
	}

	return compensation.Reconstruct(
		compensationID,
		userID,
		amount,
		reason,
		refID,
		s,
		retryCount,
		lastError.String,
		createdAt,
		updatedAt,
	), nil
}
