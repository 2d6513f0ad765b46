package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/application/compensation"
	"credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// ErrDuplicateJob 同じジョブIDで既に課金済み
var ErrDuplicateJob = fmt.Errorf("job already charged: %w", transaction.ErrDuplicateTransaction)

// CreditsService 課金と返金
type CreditsService interface {
	Consume(ctx context.Context, req *credits.ConsumeRequest) (*credits.ConsumeResponse, error)
	Refund(ctx context.Context, req *credits.RefundRequest) (*credits.RefundResponse, error)
}

// CompensationRecorder 返金できなかった補填を記録する
type CompensationRecorder interface {
	Record(ctx context.Context, req *compensation.RecordRequest) (*compensation.CompensationView, error)
}

// GenerationApplicationService 課金 → 生成 → 失敗時返金 を行うアプリケーションサービス
type GenerationApplicationService struct {
	credits       CreditsService
	compensations CompensationRecorder
	providers     map[Kind]Provider
	timeout       time.Duration
	logger        *otelinfra.Logger
	tracer        trace.Tracer
}

// NewGenerationApplicationService 新しいGenerationApplicationServiceを作成
func NewGenerationApplicationService(
	creditsService CreditsService,
	compensations CompensationRecorder,
	providers map[Kind]Provider,
	timeout time.Duration,
	logger *otelinfra.Logger,
) *GenerationApplicationService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	registered := make(map[Kind]Provider, len(providers))
	for k, p := range providers {
		registered[k] = p
	}
	return &GenerationApplicationService{
		credits:       creditsService,
		compensations: compensations,
		providers:     registered,
		timeout:       timeout,
		logger:        logger,
		tracer:        otel.Tracer("generation-service"),
	}
}

// Generate クレジットを消費して生成を実行する
// 生成に失敗した場合は同じジョブIDで返金し、返金もできなければ補填として記録する
func (s *GenerationApplicationService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "GenerationApplicationService.Generate")
	defer span.End()

	kind, provider, err := s.resolve(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = "job_" + uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("kind", kind.String()),
		attribute.String("job_id", jobID),
		attribute.Int64("cost", req.Cost),
	)

	charged, err := s.credits.Consume(ctx, &credits.ConsumeRequest{
		UserID:      req.UserID,
		Amount:      req.Cost,
		Action:      kind.Action(),
		RefID:       &jobID,
		Description: "generation " + kind.String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	if charged.Replayed {
		// 同じジョブの再実行は課金なしの生成になるため受け付けない
		span.SetStatus(otelcodes.Error, ErrDuplicateJob.Error())
		return nil, ErrDuplicateJob
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, genErr := provider.Generate(callCtx, &ProviderRequest{
		JobID:  jobID,
		UserID: req.UserID,
		Prompt: req.Prompt,
	})
	cancel()
	if genErr == nil && result == nil {
		genErr = errors.New("provider returned no result")
	}

	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(otelcodes.Error, genErr.Error())
		s.logger.Warn(ctx, "Generation failed, refunding", map[string]interface{}{
			"user_id": req.UserID,
			"job_id":  jobID,
			"kind":    kind.String(),
			"error":   genErr.Error(),
		})
		// 呼び出し元がキャンセルしても返金は続ける
		s.refund(context.WithoutCancel(ctx), req.UserID, req.Cost, kind, jobID, genErr)
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, genErr)
	}

	s.logger.Info(ctx, "Generation completed", map[string]interface{}{
		"user_id": req.UserID,
		"job_id":  jobID,
		"kind":    kind.String(),
		"charged": req.Cost,
		"balance": charged.Balance,
	})

	return &GenerateResponse{
		JobID:         jobID,
		Kind:          kind.String(),
		Output:        result.Output,
		Charged:       req.Cost,
		Balance:       charged.Balance,
		TransactionID: charged.TransactionID,
	}, nil
}

func (s *GenerationApplicationService) resolve(req *GenerateRequest) (Kind, Provider, error) {
	if err := account.ValidateUserID(req.UserID); err != nil {
		return "", nil, err
	}
	if err := account.ValidateAmount(req.Cost); err != nil {
		return "", nil, err
	}
	if req.Prompt == "" {
		return "", nil, ErrEmptyPrompt
	}
	if req.JobID != "" {
		if err := transaction.ValidateRefID(req.JobID); err != nil {
			return "", nil, err
		}
	}
	kind, err := NewKind(req.Kind)
	if err != nil {
		return "", nil, err
	}
	provider, ok := s.providers[kind]
	if !ok {
		return "", nil, fmt.Errorf("%w: no provider for %s", ErrUnsupportedKind, kind)
	}
	return kind, provider, nil
}

// refund 返金を試み、失敗した場合は補填として記録する
func (s *GenerationApplicationService) refund(ctx context.Context, userID string, amount int64, kind Kind, jobID string, cause error) {
	reason := fmt.Sprintf("generation %s failed", kind)
	_, err := s.credits.Refund(ctx, &credits.RefundRequest{
		UserID: userID,
		Amount: amount,
		Reason: reason,
		RefID:  &jobID,
	})
	if err == nil {
		return
	}

	s.logger.Error(ctx, "Refund after failed generation did not complete", err, map[string]interface{}{
		"user_id": userID,
		"job_id":  jobID,
		"amount":  amount,
		"cause":   cause.Error(),
	})
	if _, recErr := s.compensations.Record(ctx, &compensation.RecordRequest{
		UserID: userID,
		Amount: amount,
		Reason: reason,
		RefID:  jobID,
		Cause:  err,
	}); recErr != nil {
		s.logger.Error(ctx, "Compensation could not be recorded, manual reconciliation required", recErr, map[string]interface{}{
			"user_id": userID,
			"job_id":  jobID,
			"amount":  amount,
		})
	}
}
