package mysql

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RelayCursorRepository 台帳イベントリレーのカーソル（ledger_relay_cursors）
type RelayCursorRepository struct {
	db     *DB
	tracer trace.Tracer
}

// NewRelayCursorRepository 新しいRelayCursorRepositoryを作成
func NewRelayCursorRepository(db *DB) *RelayCursorRepository {
	return &RelayCursorRepository{
		db:     db,
		tracer: otel.Tracer("relay-cursor-repository"),
	}
}

// Load カーソル位置を返す。未登録の場合は0
func (r *RelayCursorRepository) Load(ctx context.Context, name string) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "RelayCursorRepository.Load")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.cursor", name),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.table", "ledger_relay_cursors"),
	)

	var lastID int64
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT last_id FROM ledger_relay_cursors WHERE name = ?`,
		name,
	).Scan(&lastID)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(otelcodes.Ok, "cursor not found")
		return 0, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return 0, dbError("load relay cursor", err)
	}

	span.SetAttributes(attribute.Int64("db.last_id", lastID))
	span.SetStatus(otelcodes.Ok, "cursor loaded")
	return lastID, nil
}

// Store カーソル位置を保存（後退はしない）
func (r *RelayCursorRepository) Store(ctx context.Context, name string, lastID int64) error {
	ctx, span := r.tracer.Start(ctx, "RelayCursorRepository.Store")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.cursor", name),
		attribute.Int64("db.last_id", lastID),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.table", "ledger_relay_cursors"),
	)

	query := `
		INSERT INTO ledger_relay_cursors (name, last_id)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_id = GREATEST(last_id, VALUES(last_id))
	`

	if _, err := r.db.conn(ctx).ExecContext(ctx, query, name, lastID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return dbError("store relay cursor", err)
	}

	span.SetStatus(otelcodes.Ok, "cursor stored")
	return nil
}
