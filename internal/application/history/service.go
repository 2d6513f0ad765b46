package history

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

const (
	// DefaultLimit 履歴取得のデフォルト件数
	DefaultLimit = 50
	// MaxLimit 履歴取得の最大件数
	MaxLimit = 100
)

// HistoryApplicationService 履歴アプリケーションサービス
type HistoryApplicationService struct {
	transactionRepo transaction.TransactionRepository
	logger          *otelinfra.Logger
	tracer          trace.Tracer
}

// NewHistoryApplicationService 新しいHistoryApplicationServiceを作成
func NewHistoryApplicationService(
	transactionRepo transaction.TransactionRepository,
	logger *otelinfra.Logger,
) *HistoryApplicationService {
	return &HistoryApplicationService{
		transactionRepo: transactionRepo,
		logger:          logger,
		tracer:          otel.Tracer("history-service"),
	}
}

// GetTransactionHistory 台帳履歴を新しい順に取得
func (s *HistoryApplicationService) GetTransactionHistory(ctx context.Context, req *GetTransactionHistoryRequest) (*GetTransactionHistoryResponse, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryApplicationService.GetTransactionHistory")
	defer span.End()

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
		attribute.String("action", req.Action),
	)

	if err := account.ValidateUserID(req.UserID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	var action transaction.Action
	if req.Action != "" {
		a, err := transaction.NewAction(req.Action)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			return nil, err
		}
		action = a
	}

	rows, err := s.transactionRepo.FindByUserID(ctx, req.UserID, action, limit, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to get transaction history", err, map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, err
	}

	total, err := s.transactionRepo.CountByUserID(ctx, req.UserID, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to count transaction history", err, map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, err
	}

	views := make([]*TransactionView, 0, len(rows))
	for _, t := range rows {
		views = append(views, &TransactionView{
			TransactionID: t.TransactionID(),
			UserID:        t.UserID(),
			Amount:        t.Amount(),
			Action:        t.Action().String(),
			RefID:         t.RefID(),
			Description:   t.Description(),
			BalanceAfter:  t.BalanceAfter(),
			CreatedAt:     t.CreatedAt(),
		})
	}

	return &GetTransactionHistoryResponse{
		Transactions: views,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}
