package mysql

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
)

// AtomicDebiter consume_credits プロシージャによるAtomicDebiter実装
type AtomicDebiter struct {
	db     *DB
	tracer trace.Tracer
}

// NewAtomicDebiter 新しいAtomicDebiterを作成
func NewAtomicDebiter(db *DB) *AtomicDebiter {
	return &AtomicDebiter{
		db:     db,
		tracer: otel.Tracer("atomic-debiter"),
	}
}

// TryAtomicDebit プロシージャを呼び出して減算を試みる
func (d *AtomicDebiter) TryAtomicDebit(ctx context.Context, req transaction.DebitRequest) (transaction.DebitResult, error) {
	ctx, span := d.tracer.Start(ctx, "AtomicDebiter.TryAtomicDebit")
	defer span.End()

	span.SetAttributes(
		attribute.String("db.user_id", req.UserID),
		attribute.Int64("db.amount", req.Amount),
		attribute.String("db.action", req.Action.String()),
		attribute.String("db.operation", "CALL"),
		attribute.String("db.procedure", ConsumeProcedure),
	)

	var refID interface{}
	if req.RefID != nil {
		refID = *req.RefID
	}

	query := `CALL ` + ConsumeProcedure + `(?, ?, ?, ?, ?, ?)`

	var outcome string
	var balance int64
	err := d.db.conn(ctx).QueryRowContext(ctx, query,
		req.TransactionID,
		req.UserID,
		req.Amount,
		req.Action.String(),
		refID,
		req.Description,
	).Scan(&outcome, &balance)
	if err != nil {
		switch {
		case isProcedureMissing(err):
			span.SetStatus(otelcodes.Ok, "procedure unavailable")
			return transaction.PrimitiveUnavailable(), nil
		case isDuplicateEntry(err):
			span.SetStatus(otelcodes.Ok, "duplicate idempotency key")
			return transaction.DebitResult{}, transaction.ErrDuplicateTransaction
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return transaction.DebitResult{}, dbError("call consume procedure", err)
	}

	span.SetAttributes(
		attribute.String("db.outcome", outcome),
		attribute.Int64("db.balance", balance),
	)

	switch outcome {
	case "applied":
		span.SetStatus(otelcodes.Ok, "debit applied")
		return transaction.Applied(balance, req.TransactionID), nil
	case "insufficient":
		span.SetStatus(otelcodes.Ok, "insufficient funds")
		return transaction.InsufficientFunds(balance), nil
	case "not_found":
		span.SetStatus(otelcodes.Ok, "account not found")
		return transaction.DebitResult{}, account.ErrAccountNotFound
	default:
		err := fmt.Errorf("unexpected consume procedure outcome: %q", outcome)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return transaction.DebitResult{}, err
	}
}
