package code_redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/infrastructure/retry"
)

// maxGenerateAttempts 1コードあたりの衝突時の再生成回数
const maxGenerateAttempts = 5

// DefaultAdminUserID 管理者IDが不明な場合に記録する値
const DefaultAdminUserID = "admin"

// CodeRedemptionApplicationService 引き換えコードの発行・検証・引き換えを行うアプリケーションサービス
type CodeRedemptionApplicationService struct {
	codeRepo       redeem_code.RedeemCodeRepository
	accountRepo    account.AccountRepository
	txManager      transaction.TransactionManager
	balanceService *service.BalanceService
	generator      redeem_code.CodeGenerator
	logger         *otelinfra.Logger
	metrics        *otelinfra.Metrics
	tracer         trace.Tracer
	retryPolicy    retry.Policy
	now            func() time.Time
}

// NewCodeRedemptionApplicationService 新しいCodeRedemptionApplicationServiceを作成
func NewCodeRedemptionApplicationService(
	codeRepo redeem_code.RedeemCodeRepository,
	accountRepo account.AccountRepository,
	txManager transaction.TransactionManager,
	balanceService *service.BalanceService,
	generator redeem_code.CodeGenerator,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *CodeRedemptionApplicationService {
	if generator == nil {
		generator = redeem_code.NewRandomCodeGenerator()
	}
	return &CodeRedemptionApplicationService{
		codeRepo:       codeRepo,
		accountRepo:    accountRepo,
		txManager:      txManager,
		balanceService: balanceService,
		generator:      generator,
		logger:         logger,
		metrics:        metrics,
		tracer:         otel.Tracer("code-redemption-service"),
		retryPolicy:    retry.DefaultPolicy(nil),
		now:            time.Now,
	}
}

// GenerateCodes 引き換えコードを一括生成する
// すべてのコードは1つのトランザクションで保存される
func (s *CodeRedemptionApplicationService) GenerateCodes(ctx context.Context, req *GenerateCodesRequest) (*GenerateCodesResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CodeRedemptionApplicationService.GenerateCodes")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("amount", req.Amount),
		attribute.Int("count", req.Count),
	)

	if err := s.validateGenerate(req); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	var codes []*redeem_code.RedeemCode
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		codes = make([]*redeem_code.RedeemCode, 0, req.Count)
		for i := 0; i < req.Count; i++ {
			rc, err := s.generateOne(ctx, req)
			if err != nil {
				return err
			}
			codes = append(codes, rc)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to generate redeem codes", err, map[string]interface{}{
			"amount": req.Amount,
			"count":  req.Count,
		})
		return nil, err
	}

	s.logger.Info(ctx, "Redeem codes generated", map[string]interface{}{
		"amount": req.Amount,
		"count":  len(codes),
		"note":   req.Note,
	})

	now := s.now()
	views := make([]*CodeView, 0, len(codes))
	for _, rc := range codes {
		views = append(views, newCodeView(rc, now))
	}
	return &GenerateCodesResponse{Codes: views}, nil
}

func (s *CodeRedemptionApplicationService) validateGenerate(req *GenerateCodesRequest) error {
	if err := account.ValidateAmount(req.Amount); err != nil {
		return err
	}
	if req.Count < 1 || req.Count > redeem_code.MaxGenerateCount {
		return fmt.Errorf("%w: count must be between 1 and %d", redeem_code.ErrInvalidCount, redeem_code.MaxGenerateCount)
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return redeem_code.ErrInvalidExpiry
	}
	if len(req.Note) > redeem_code.MaxNoteLength {
		return redeem_code.ErrNoteTooLong
	}
	return nil
}

// generateOne コードを生成して保存。衝突した場合は新しいコードで再試行する
func (s *CodeRedemptionApplicationService) generateOne(ctx context.Context, req *GenerateCodesRequest) (*redeem_code.RedeemCode, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := s.generator.Generate()
		if err != nil {
			return nil, err
		}
		rc, err := redeem_code.NewRedeemCode(code, req.Amount, req.ExpiresAt, req.Note)
		if err != nil {
			return nil, err
		}
		err = s.codeRepo.Save(ctx, rc)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, redeem_code.ErrCodeAlreadyExists) {
			return nil, err
		}
		s.logger.Debug(ctx, "Redeem code collision, regenerating", map[string]interface{}{
			"attempt": attempt + 1,
		})
	}
	return nil, fmt.Errorf("%w: gave up after %d collisions", redeem_code.ErrCodeAlreadyExists, maxGenerateAttempts)
}

// ValidateCode コードが引き換え可能かを検証する（状態は変更しない）
func (s *CodeRedemptionApplicationService) ValidateCode(ctx context.Context, req *ValidateCodeRequest) (*ValidateCodeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CodeRedemptionApplicationService.ValidateCode")
	defer span.End()

	code := redeem_code.NormalizeCode(req.Code)
	span.SetAttributes(attribute.String("code", code))

	rc, err := s.findRedeemable(ctx, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	return &ValidateCodeResponse{
		Code:      rc.Code(),
		Amount:    rc.Amount(),
		ExpiresAt: rc.ExpiresAt(),
	}, nil
}

// checkCodeFormat 発行され得ない形式のコードは存在しないコードとして扱う
func checkCodeFormat(code string) error {
	if err := redeem_code.ValidateCode(code); err != nil {
		return fmt.Errorf("%w: %s", redeem_code.ErrCodeNotFound, err.Error())
	}
	return nil
}

func (s *CodeRedemptionApplicationService) findRedeemable(ctx context.Context, code string) (*redeem_code.RedeemCode, error) {
	if err := checkCodeFormat(code); err != nil {
		return nil, err
	}
	rc, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := rc.CheckRedeemable(s.now()); err != nil {
		return nil, err
	}
	return rc, nil
}

// RedeemCode コードを引き換えてクレジットを付与する
// コードの使用済み化・台帳行・残高キャッシュは同じトランザクションで確定する
func (s *CodeRedemptionApplicationService) RedeemCode(ctx context.Context, req *RedeemCodeRequest) (*RedeemCodeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CodeRedemptionApplicationService.RedeemCode")
	defer span.End()

	code := redeem_code.NormalizeCode(req.Code)
	span.SetAttributes(
		attribute.String("code", code),
		attribute.String("user_id", req.UserID),
	)

	if err := account.ValidateUserID(req.UserID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	if _, err := s.findRedeemable(ctx, code); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logFailure(ctx, "Redeem code rejected", err, code, req.UserID)
		return nil, err
	}

	// コミット失敗は反映済みの可能性があるため再試行しない
	policy := s.retryPolicy
	policy.Retryable = func(err error) bool {
		return transaction.IsRetryable(err) && !transaction.IsCommitFailure(err)
	}
	policy.OnRetry = func(err error, wait time.Duration) {
		s.logger.Warn(ctx, "Retrying redeem after database error", map[string]interface{}{
			"code":    code,
			"error":   err.Error(),
			"wait_ms": wait.Milliseconds(),
		})
	}

	resp, err := retry.Do(ctx, policy, func(ctx context.Context) (*RedeemCodeResponse, error) {
		return s.redeemOnce(ctx, code, req.UserID)
	})
	if errors.Is(err, transaction.ErrDuplicateTransaction) {
		err = fmt.Errorf("%w: %v", redeem_code.ErrCodeAlreadyUsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logFailure(ctx, "Failed to redeem code", err, code, req.UserID)
		return nil, err
	}

	s.metrics.RecordRedeem(ctx, resp.Amount)
	span.SetAttributes(attribute.String("transaction_id", resp.TransactionID))
	s.logger.Info(ctx, "Code redeemed", map[string]interface{}{
		"code":           code,
		"user_id":        req.UserID,
		"amount":         resp.Amount,
		"balance":        resp.Balance,
		"transaction_id": resp.TransactionID,
	})

	return resp, nil
}

func (s *CodeRedemptionApplicationService) redeemOnce(ctx context.Context, code, userID string) (*RedeemCodeResponse, error) {
	var resp *RedeemCodeResponse
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		rc, err := s.codeRepo.LockByCode(ctx, code)
		if err != nil {
			return err
		}
		now := s.now()
		if err := rc.CheckRedeemable(now); err != nil {
			return err
		}

		if err := s.accountRepo.EnsureExists(ctx, userID); err != nil {
			return err
		}

		refID := RedeemRefID(code)
		posting, err := s.balanceService.Credit(
			ctx,
			userID,
			rc.Amount(),
			transaction.ActionRedeemCode,
			&refID,
			"redeem code "+code,
		)
		if err != nil {
			return err
		}

		if err := rc.MarkUsed(userID, now); err != nil {
			return err
		}
		if err := s.codeRepo.Update(ctx, rc); err != nil {
			return err
		}

		resp = &RedeemCodeResponse{
			Code:          code,
			UserID:        userID,
			Amount:        rc.Amount(),
			Balance:       posting.Balance(),
			TransactionID: posting.Transaction.TransactionID(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// RedeemRefID 引き換えの台帳行に付ける参照ID
func RedeemRefID(code string) string {
	return "redeem:" + code
}

// DisableCode コードを無効化する。使用済みのコードは無効化できない
func (s *CodeRedemptionApplicationService) DisableCode(ctx context.Context, req *DisableCodeRequest) (*DisableCodeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CodeRedemptionApplicationService.DisableCode")
	defer span.End()

	code := redeem_code.NormalizeCode(req.Code)
	adminUserID := req.AdminUserID
	if adminUserID == "" {
		adminUserID = DefaultAdminUserID
	}
	span.SetAttributes(
		attribute.String("code", code),
		attribute.String("admin_user_id", adminUserID),
	)

	if err := checkCodeFormat(code); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	var disabled *redeem_code.RedeemCode
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		rc, err := s.codeRepo.LockByCode(ctx, code)
		if err != nil {
			return err
		}
		if err := rc.Disable(adminUserID, s.now()); err != nil {
			return err
		}
		if err := s.codeRepo.Update(ctx, rc); err != nil {
			return err
		}
		disabled = rc
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logFailure(ctx, "Failed to disable code", err, code, adminUserID)
		return nil, err
	}

	s.logger.Info(ctx, "Code disabled", map[string]interface{}{
		"code":          code,
		"admin_user_id": adminUserID,
	})

	return &DisableCodeResponse{Code: newCodeView(disabled, s.now())}, nil
}

// ListCodes コードの一覧を取得
func (s *CodeRedemptionApplicationService) ListCodes(ctx context.Context, req *ListCodesRequest) (*ListCodesResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CodeRedemptionApplicationService.ListCodes")
	defer span.End()

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = redeem_code.DefaultPageSize
	}
	span.SetAttributes(
		attribute.Int("page", req.Page),
		attribute.Int("page_size", pageSize),
	)

	if req.Page < 1 {
		err := redeem_code.ErrInvalidPage
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	if pageSize < 1 || pageSize > redeem_code.MaxPageSize {
		err := fmt.Errorf("%w: must be between 1 and %d", redeem_code.ErrInvalidPageSize, redeem_code.MaxPageSize)
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	filter := redeem_code.ListFilter{Used: req.Used, Disabled: req.Disabled}
	offset := (req.Page - 1) * pageSize

	codes, err := s.codeRepo.List(ctx, filter, pageSize, offset)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to list redeem codes", err, nil)
		return nil, err
	}
	total, err := s.codeRepo.Count(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to count redeem codes", err, nil)
		return nil, err
	}

	now := s.now()
	views := make([]*CodeView, 0, len(codes))
	for _, rc := range codes {
		views = append(views, newCodeView(rc, now))
	}

	return &ListCodesResponse{
		Codes:    views,
		Total:    total,
		Page:     req.Page,
		PageSize: pageSize,
	}, nil
}

// Statistics コード全体の集計を取得
func (s *CodeRedemptionApplicationService) Statistics(ctx context.Context) (*StatisticsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CodeRedemptionApplicationService.Statistics")
	defer span.End()

	stats, err := s.codeRepo.Statistics(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Error(ctx, "Failed to get redeem code statistics", err, nil)
		return nil, err
	}

	return &StatisticsResponse{
		Total:       stats.Total,
		Used:        stats.Used,
		Unused:      stats.Unused,
		Disabled:    stats.Disabled,
		TotalAmount: stats.TotalAmount,
		UsedAmount:  stats.UsedAmount,
	}, nil
}

func (s *CodeRedemptionApplicationService) logFailure(ctx context.Context, message string, err error, code, userID string) {
	fields := map[string]interface{}{
		"code":    code,
		"user_id": userID,
	}
	if transaction.IsDatabaseError(err) {
		s.metrics.RecordError(ctx, "database")
		s.logger.Error(ctx, message, err, fields)
		return
	}
	fields["error"] = err.Error()
	s.logger.Warn(ctx, message, fields)
}
