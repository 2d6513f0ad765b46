package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/redeem_code"
)

const redeemCodeColumns = `code, amount, used, used_by, used_at, expires_at, disabled, disabled_at, disabled_by, note, created_at`

// RedeemCodeRepository MySQL実装のRedeemCodeRepository
type RedeemCodeRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewRedeemCodeRepository 新しいRedeemCodeRepositoryを作成
func NewRedeemCodeRepository(db *DB) *RedeemCodeRepository {
	return &RedeemCodeRepository{
		db:     db,
		tracer: otel.Tracer("redeem-code-repository"),
	}
}

// Save 新しいコードを保存
func (r *RedeemCodeRepository) Save(ctx context.Context, rc *redeem_code.RedeemCode) error {
	ctx, span := r.tracer.Start(ctx, "RedeemCodeRepository.Save")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.code", rc.Code()),
		attribute.Int64("db.amount", rc.Amount()),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "redeem_codes"),
	)

	query := `
		INSERT INTO redeem_codes (code, amount, expires_at, note, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		rc.Code(),
		rc.Amount(),
		nullTime(rc.ExpiresAt()),
		rc.Note(),
		rc.CreatedAt(),
	)
	if err != nil {
		if isDuplicateEntry(err) {
			span.SetStatus(otelcodes.Ok, "code already exists")
			return redeem_code.ErrCodeAlreadyExists
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("save redeem code", err)
	}

	span.SetStatus(otelcodes.Ok, "redeem code saved")
	return nil
}

// FindByCode コードで取得
func (r *RedeemCodeRepository) FindByCode(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	return r.find(ctx, "RedeemCodeRepository.FindByCode", `SELECT `+redeemCodeColumns+`
		FROM redeem_codes
		WHERE code = ?
	`, code)
}

// LockByCode 行ロックを取得してコードを返す
func (r *RedeemCodeRepository) LockByCode(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	return r.find(ctx, "RedeemCodeRepository.LockByCode", `SELECT `+redeemCodeColumns+`
		FROM redeem_codes
		WHERE code = ?
		FOR UPDATE
	`, code)
}

func (r *RedeemCodeRepository) find(ctx context.Context, spanName, query, code string) (*redeem_code.RedeemCode, error) {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("db.code", code),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "redeem_codes"),
	)

	rc, err := scanRedeemCode(r.db.conn(ctx).QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "redeem code not found")
		return nil, redeem_code.ErrCodeNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(otelcodes.Ok, "redeem code found")
	return rc, nil
}

// Update 使用・無効化の状態を更新
func (r *RedeemCodeRepository) Update(ctx context.Context, rc *redeem_code.RedeemCode) error {
	ctx, span := r.tracer.Start(ctx, "RedeemCodeRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.code", rc.Code()),
		attribute.Bool("db.used", rc.Used()),
		attribute.Bool("db.disabled", rc.Disabled()),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.table", "redeem_codes"),
	)

	query := `
		UPDATE redeem_codes
		SET used = ?, used_by = ?, used_at = ?, disabled = ?, disabled_at = ?, disabled_by = ?
		WHERE code = ?
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query,
		rc.Used(),
		nullString(rc.UsedBy()),
		nullTime(rc.UsedAt()),
		rc.Disabled(),
		nullTime(rc.DisabledAt()),
		nullString(rc.DisabledBy()),
		rc.Code(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("update redeem code", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("update redeem code rows affected", err)
	}
	if rowsAffected == 0 {
		span.SetStatus(otelcodes.Ok, "redeem code not found")
		return redeem_code.ErrCodeNotFound
	}

	span.SetStatus(otelcodes.Ok, "redeem code updated")
	return nil
}

// List 作成日時の新しい順に取得
func (r *RedeemCodeRepository) List(ctx context.Context, filter redeem_code.ListFilter, limit, offset int) ([]*redeem_code.RedeemCode, error) {
	ctx, span := r.tracer.Start(ctx, "RedeemCodeRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int("db.limit", limit),
		attribute.Int("db.offset", offset),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "redeem_codes"),
	)

	where, args := buildCodeFilter(filter)
	query := `SELECT ` + redeemCodeColumns + ` FROM redeem_codes` + where + `
		ORDER BY created_at DESC, code ASC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, dbError("list redeem codes", err)
	}
	defer rows.Close()

	var codes []*redeem_code.RedeemCode
	for rows.Next() {
		rc, err := scanRedeemCode(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		codes = append(codes, rc)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, dbError("iterate redeem codes", err)
	}

	span.SetAttributes(attribute.Int("db.count", len(codes)))
	span.SetStatus(otelcodes.Ok, "redeem codes listed")
	return codes, nil
}

// Count 条件に一致する件数を返す
func (r *RedeemCodeRepository) Count(ctx context.Context, filter redeem_code.ListFilter) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "RedeemCodeRepository.Count")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "redeem_codes"),
	)

	where, args := buildCodeFilter(filter)
	query := `SELECT COUNT(*) FROM redeem_codes` + where

	var count int64
	if err := r.db.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, dbError("count redeem codes", err)
	}

	span.SetStatus(otelcodes.Ok, "redeem codes counted")
	return count, nil
}

// Statistics 全体の集計を返す
func (r *RedeemCodeRepository) Statistics(ctx context.Context) (*redeem_code.Statistics, error) {
	ctx, span := r.tracer.Start(ctx, "RedeemCodeRepository.Statistics")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "redeem_codes"),
	)

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN used THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN disabled THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(CASE WHEN used THEN amount ELSE 0 END), 0)
		FROM redeem_codes
	`

	var stats redeem_code.Statistics
	err := r.db.conn(ctx).QueryRowContext(ctx, query).Scan(
		&stats.Total,
		&stats.Used,
		&stats.Disabled,
		&stats.TotalAmount,
		&stats.UsedAmount,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, dbError("redeem code statistics", err)
	}
	stats.Unused = stats.Total - stats.Used

	span.SetAttributes(
		attribute.Int64("db.total", stats.Total),
		attribute.Int64("db.used", stats.Used),
	)
	span.SetStatus(otelcodes.Ok, "statistics computed")
	return &stats, nil
}

func buildCodeFilter(filter redeem_code.ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Used != nil {
		conds = append(conds, "used = ?")
		args = append(args, *filter.Used)
	}
	if filter.Disabled != nil {
		conds = append(conds, "disabled = ?")
		args = append(args, *filter.Disabled)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRedeemCode(row rowScanner) (*redeem_code.RedeemCode, error) {
	var (
		code       string
		amount     int64
		used       bool
		usedBy     sql.NullString
		usedAt     sql.NullTime
		expiresAt  sql.NullTime
		disabled   bool
		disabledAt sql.NullTime
		disabledBy sql.NullString
		note       string
		createdAt  time.Time
	)

	err := row.Scan(&code, &amount, &used, &usedBy, &usedAt, &expiresAt, &disabled, &disabledAt, &disabledBy, &note, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, dbError("scan redeem code", err)
	}

	rc, err := redeem_code.NewRedeemCode(code, amount, timePtr(expiresAt), note)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct redeem code entity: %w", err)
	}
	rc.SetUsage(used, stringPtr(usedBy), timePtr(usedAt))
	rc.SetDisabled(disabled, timePtr(disabledAt), stringPtr(disabledBy))
	rc.SetCreatedAt(createdAt)
	return rc, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
