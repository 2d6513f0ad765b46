package compensation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/compensation"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

const (
	// DefaultPageSize 一覧取得のデフォルト件数
	DefaultPageSize = 50
	// MaxPageSize 一覧取得の最大件数
	MaxPageSize = 100
)

// Refunder 補填の返金を実行する
type Refunder interface {
	Refund(ctx context.Context, req *credits.RefundRequest) (*credits.RefundResponse, error)
}

// CompensationApplicationService 返金に失敗した補填を記録・再実行するアプリケーションサービス
type CompensationApplicationService struct {
	repo       compensation.CompensationRepository
	refunder   Refunder
	logger     *otelinfra.Logger
	metrics    *otelinfra.Metrics
	tracer     trace.Tracer
	batchSize  int
	maxRetries int
}

// NewCompensationApplicationService 新しいCompensationApplicationServiceを作成
func NewCompensationApplicationService(
	repo compensation.CompensationRepository,
	refunder Refunder,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	batchSize int,
	maxRetries int,
) *CompensationApplicationService {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &CompensationApplicationService{
		repo:       repo,
		refunder:   refunder,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("compensation-service"),
		batchSize:  batchSize,
		maxRetries: maxRetries,
	}
}

// Record 返金できなかった補填を pending として記録する
func (s *CompensationApplicationService) Record(ctx context.Context, req *RecordRequest) (*CompensationView, error) {
	ctx, span := s.tracer.Start(ctx, "CompensationApplicationService.Record")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.String("ref_id", req.RefID),
	)

	cause := ""
	if req.Cause != nil {
		cause = req.Cause.Error()
	}
	c, err := compensation.NewCompensation(req.UserID, req.Amount, req.Reason, req.RefID, cause)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	if err := s.repo.Save(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		// ここで失われた補填は照合でしか検出できない
		s.logger.Error(ctx, "Failed to record pending compensation", err, map[string]interface{}{
			"user_id": req.UserID,
			"amount":  req.Amount,
			"ref_id":  req.RefID,
			"reason":  req.Reason,
		})
		return nil, err
	}

	s.metrics.RecordCompensation(ctx, compensation.StatusPending.String())
	s.logger.Warn(ctx, "Pending compensation recorded", map[string]interface{}{
		"compensation_id": c.CompensationID(),
		"user_id":         req.UserID,
		"amount":          req.Amount,
		"ref_id":          req.RefID,
		"cause":           cause,
	})

	return newCompensationView(c), nil
}

// ProcessPending 未処理の補填を1バッチ分再実行する
func (s *CompensationApplicationService) ProcessPending(ctx context.Context) (*ProcessResult, error) {
	ctx, span := s.tracer.Start(ctx, "CompensationApplicationService.ProcessPending")
	defer span.End()

	pending, err := s.repo.FindPending(ctx, s.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to load pending compensations", err, nil)
		return nil, err
	}

	result := &ProcessResult{}
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++
		switch s.processOne(ctx, c) {
		case compensation.StatusCompleted:
			result.Completed++
		case compensation.StatusFailed:
			result.Failed++
		default:
			result.Retried++
		}
	}

	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("completed", result.Completed),
		attribute.Int("failed", result.Failed),
	)
	if result.Processed > 0 {
		s.logger.Info(ctx, "Pending compensations processed", map[string]interface{}{
			"processed": result.Processed,
			"completed": result.Completed,
			"retried":   result.Retried,
			"failed":    result.Failed,
		})
	}

	return result, nil
}

// processOne 返金を実行し、補填の新しいステータスを返す
func (s *CompensationApplicationService) processOne(ctx context.Context, c *compensation.Compensation) compensation.Status {
	refID := c.RefID()
	fields := map[string]interface{}{
		"compensation_id": c.CompensationID(),
		"user_id":         c.UserID(),
		"amount":          c.Amount(),
		"ref_id":          refID,
	}

	_, refundErr := s.refunder.Refund(ctx, &credits.RefundRequest{
		UserID: c.UserID(),
		Amount: c.Amount(),
		Reason: c.Reason(),
		RefID:  &refID,
	})

	if refundErr == nil {
		if err := c.MarkCompleted(); err != nil {
			return c.Status()
		}
	} else {
		exhausted, err := c.RecordFailure(refundErr, s.maxRetries)
		if err != nil {
			return c.Status()
		}
		fields["retry_count"] = c.RetryCount()
		if exhausted {
			s.logger.Error(ctx, "Compensation gave up after max retries, manual reconciliation required", refundErr, fields)
		} else {
			s.logger.Warn(ctx, "Compensation refund failed, will retry", map[string]interface{}{
				"compensation_id": c.CompensationID(),
				"retry_count":     c.RetryCount(),
				"error":           refundErr.Error(),
			})
		}
	}

	if err := s.repo.Update(ctx, c); err != nil {
		// 次回の実行では返金が既存の結果として再生される
		s.logger.Error(ctx, "Failed to update compensation", err, fields)
		return compensation.StatusPending
	}

	s.metrics.RecordCompensation(ctx, c.Status().String())
	return c.Status()
}

// List ステータスで補填の一覧を取得
func (s *CompensationApplicationService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CompensationApplicationService.List")
	defer span.End()

	statusStr := req.Status
	if statusStr == "" {
		statusStr = compensation.StatusPending.String()
	}
	status, err := compensation.NewStatus(statusStr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	span.SetAttributes(
		attribute.String("status", status.String()),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	items, err := s.repo.ListByStatus(ctx, status, pageSize, (page-1)*pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to list compensations", err, nil)
		return nil, err
	}
	total, err := s.repo.CountByStatus(ctx, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to count compensations", err, nil)
		return nil, err
	}

	views := make([]*CompensationView, 0, len(items))
	for _, c := range items {
		views = append(views, newCompensationView(c))
	}

	return &ListResponse{
		Compensations: views,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
	}, nil
}
