package credits

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
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/infrastructure/retry"
)

const (
	// DefaultReconcileBatchSize 照合時に1回で読むユーザー数
	DefaultReconcileBatchSize = 100
	// MaxReconcileBatchSize 照合バッチの上限
	MaxReconcileBatchSize = 1000
)

// CreditsApplicationService クレジットの消費・返金・照合を行うアプリケーションサービス
type CreditsApplicationService struct {
	accountRepo     account.AccountRepository
	transactionRepo transaction.TransactionRepository
	txManager       transaction.TransactionManager
	debiter         transaction.AtomicDebiter
	balanceService  *service.BalanceService
	logger          *otelinfra.Logger
	metrics         *otelinfra.Metrics
	tracer          trace.Tracer
	retryPolicy     retry.Policy
}

// NewCreditsApplicationService 新しいCreditsApplicationServiceを作成
func NewCreditsApplicationService(
	accountRepo account.AccountRepository,
	transactionRepo transaction.TransactionRepository,
	txManager transaction.TransactionManager,
	debiter transaction.AtomicDebiter,
	balanceService *service.BalanceService,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
) *CreditsApplicationService {
	return &CreditsApplicationService{
		accountRepo:     accountRepo,
		transactionRepo: transactionRepo,
		txManager:       txManager,
		debiter:         debiter,
		balanceService:  balanceService,
		logger:          logger,
		metrics:         metrics,
		tracer:          otel.Tracer("credits-service"),
		retryPolicy:     retry.DefaultPolicy(nil),
	}
}

// Consume クレジットを消費する
// 同じ (user_id, ref_id, action) の消費が既にあれば、その結果を返す
func (s *CreditsApplicationService) Consume(ctx context.Context, req *ConsumeRequest) (*ConsumeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreditsApplicationService.Consume")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.String("action", req.Action),
	)

	debitReq, err := newDebitRequest(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	resp, err := retry.Do(ctx, s.policy(ctx, "consume", req.RefID != nil), func(ctx context.Context) (*ConsumeResponse, error) {
		return s.consumeOnce(ctx, debitReq)
	})
	if errors.Is(err, transaction.ErrDuplicateTransaction) && req.RefID != nil {
		// 並行する同一キーの消費に負けた場合は、確定した側の結果を返す
		if prior, perr := s.findPrior(ctx, req.UserID, *req.RefID, debitReq.Action); perr == nil {
			resp, err = consumeReplay(prior), nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		var insufficient *account.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.metrics.RecordInsufficientCredits(ctx, debitReq.Action.String())
		}
		s.logFailure(ctx, "Failed to consume credits", err, map[string]interface{}{
			"user_id": req.UserID,
			"amount":  req.Amount,
			"action":  req.Action,
		})
		return nil, err
	}

	if !resp.Replayed {
		s.metrics.RecordConsume(ctx, debitReq.Action.String(), req.Amount)
	}
	span.SetAttributes(
		attribute.String("transaction_id", resp.TransactionID),
		attribute.Bool("replayed", resp.Replayed),
	)
	s.logger.Info(ctx, "Credits consumed", map[string]interface{}{
		"user_id":        req.UserID,
		"amount":         req.Amount,
		"action":         req.Action,
		"balance":        resp.Balance,
		"transaction_id": resp.TransactionID,
		"replayed":       resp.Replayed,
	})

	return resp, nil
}

func (s *CreditsApplicationService) consumeOnce(ctx context.Context, req transaction.DebitRequest) (*ConsumeResponse, error) {
	var resp *ConsumeResponse
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if req.RefID != nil {
			prior, err := s.findPrior(ctx, req.UserID, *req.RefID, req.Action)
			if err == nil {
				resp = consumeReplay(prior)
				return nil
			}
			if !errors.Is(err, transaction.ErrTransactionNotFound) {
				return err
			}
		}

		result, err := s.debiter.TryAtomicDebit(ctx, req)
		if err != nil {
			return err
		}

		switch result.Outcome {
		case transaction.DebitApplied:
			resp = &ConsumeResponse{
				UserID:        req.UserID,
				Balance:       result.Balance,
				TransactionID: result.TransactionID,
			}
			return nil
		case transaction.DebitInsufficientFunds:
			return account.NewInsufficientCreditsError(result.Balance, req.Amount)
		case transaction.DebitPrimitiveUnavailable:
			posting, err := s.balanceService.Debit(ctx, req)
			if err != nil {
				return err
			}
			s.recordDrift(ctx, "consume", req.UserID, posting.Drift)
			resp = &ConsumeResponse{
				UserID:        req.UserID,
				Balance:       posting.Balance(),
				TransactionID: posting.Transaction.TransactionID(),
			}
			return nil
		default:
			return fmt.Errorf("unexpected debit outcome: %s", result.Outcome)
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Refund 補償として加算行を記帳する。元の消費行はそのまま残る
func (s *CreditsApplicationService) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreditsApplicationService.Refund")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
	)

	if err := validateRefund(req); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	resp, err := retry.Do(ctx, s.policy(ctx, "refund", req.RefID != nil), func(ctx context.Context) (*RefundResponse, error) {
		return s.refundOnce(ctx, req)
	})
	if errors.Is(err, transaction.ErrDuplicateTransaction) && req.RefID != nil {
		if prior, perr := s.findPrior(ctx, req.UserID, *req.RefID, transaction.ActionRefund); perr == nil {
			resp, err = refundReplay(prior), nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logFailure(ctx, "Failed to refund credits", err, map[string]interface{}{
			"user_id": req.UserID,
			"amount":  req.Amount,
			"reason":  req.Reason,
		})
		return nil, err
	}

	if !resp.Replayed {
		s.metrics.RecordRefund(ctx, req.Amount)
	}
	s.logger.Info(ctx, "Credits refunded", map[string]interface{}{
		"user_id":        req.UserID,
		"amount":         req.Amount,
		"reason":         req.Reason,
		"balance":        resp.Balance,
		"transaction_id": resp.TransactionID,
		"replayed":       resp.Replayed,
	})

	return resp, nil
}

func (s *CreditsApplicationService) refundOnce(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	var resp *RefundResponse
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if req.RefID != nil {
			prior, err := s.findPrior(ctx, req.UserID, *req.RefID, transaction.ActionRefund)
			if err == nil {
				resp = refundReplay(prior)
				return nil
			}
			if !errors.Is(err, transaction.ErrTransactionNotFound) {
				return err
			}
		}

		// 未登録ユーザーへの返金は残高0のアカウントを作ってから記帳する
		if err := s.accountRepo.EnsureExists(ctx, req.UserID); err != nil {
			return err
		}

		posting, err := s.balanceService.Credit(ctx, req.UserID, req.Amount, transaction.ActionRefund, req.RefID, req.Reason)
		if err != nil {
			return err
		}
		s.recordDrift(ctx, "refund", req.UserID, posting.Drift)
		resp = &RefundResponse{
			UserID:        req.UserID,
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

// GetBalance キャッシュ残高を取得
func (s *CreditsApplicationService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreditsApplicationService.GetBalance")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", req.UserID))

	if err := account.ValidateUserID(req.UserID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	acct, err := s.accountRepo.FindByUserID(ctx, req.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		if !errors.Is(err, account.ErrAccountNotFound) {
			s.logger.Error(ctx, "Failed to get balance", err, map[string]interface{}{
				"user_id": req.UserID,
			})
		}
		return nil, err
	}

	return &GetBalanceResponse{
		UserID:  req.UserID,
		Balance: acct.Credits(),
	}, nil
}

// RecomputeBalance ユーザー行をロックし、キャッシュと台帳合計を比較する
// Repair が true の場合はキャッシュを台帳合計に書き戻す（台帳には書き込まない）
func (s *CreditsApplicationService) RecomputeBalance(ctx context.Context, req *RecomputeBalanceRequest) (*RecomputeBalanceResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreditsApplicationService.RecomputeBalance")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Bool("repair", req.Repair),
	)

	if err := account.ValidateUserID(req.UserID); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}

	resp, err := retry.Do(ctx, s.policy(ctx, "recompute", true), func(ctx context.Context) (*RecomputeBalanceResponse, error) {
		var resp *RecomputeBalanceResponse
		err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			locked, err := s.balanceService.Lock(ctx, req.UserID)
			if err != nil {
				return err
			}
			resp = &RecomputeBalanceResponse{
				UserID: req.UserID,
				Cached: locked.Cached,
				Ledger: locked.Ledger,
				Drift:  locked.Drift(),
			}
			if req.Repair && resp.Drift != 0 {
				if err := s.accountRepo.UpdateCredits(ctx, req.UserID, locked.Ledger); err != nil {
					return err
				}
				resp.Repaired = true
			}
			return nil
		})
		return resp, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logFailure(ctx, "Failed to recompute balance", err, map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, err
	}

	span.SetAttributes(attribute.Int64("drift", resp.Drift))
	if resp.Drift != 0 {
		s.metrics.RecordBalanceDrift(ctx, "reconcile")
		s.logger.Warn(ctx, "Balance drift detected", map[string]interface{}{
			"user_id":  resp.UserID,
			"cached":   resp.Cached,
			"ledger":   resp.Ledger,
			"drift":    resp.Drift,
			"repaired": resp.Repaired,
		})
	}

	return resp, nil
}

// ReconcileAll 全ユーザーをuser_id順に走査して残高を照合する
func (s *CreditsApplicationService) ReconcileAll(ctx context.Context, req *ReconcileAllRequest) (*ReconcileAllResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreditsApplicationService.ReconcileAll")
	defer span.End()

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultReconcileBatchSize
	}
	if batchSize > MaxReconcileBatchSize {
		batchSize = MaxReconcileBatchSize
	}
	span.SetAttributes(
		attribute.Bool("repair", req.Repair),
		attribute.Int("batch_size", batchSize),
	)

	summary := &ReconcileAllResponse{Drifts: []*RecomputeBalanceResponse{}}
	after := ""
	for {
		userIDs, err := s.accountRepo.ListUserIDs(ctx, after, batchSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			s.logger.Error(ctx, "Failed to list users for reconcile", err, map[string]interface{}{
				"after": after,
			})
			return nil, err
		}

		for _, userID := range userIDs {
			summary.Scanned++
			r, err := s.RecomputeBalance(ctx, &RecomputeBalanceRequest{UserID: userID, Repair: req.Repair})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				summary.Failed++
				continue
			}
			if r.Drift != 0 {
				summary.Drifted++
				summary.Drifts = append(summary.Drifts, r)
			}
			if r.Repaired {
				summary.Repaired++
			}
		}

		if len(userIDs) < batchSize {
			break
		}
		after = userIDs[len(userIDs)-1]
	}

	s.logger.Info(ctx, "Reconcile finished", map[string]interface{}{
		"scanned":  summary.Scanned,
		"drifted":  summary.Drifted,
		"repaired": summary.Repaired,
		"failed":   summary.Failed,
	})

	return summary, nil
}

// policy 冪等キーがある場合はコミット失敗も再試行する
func (s *CreditsApplicationService) policy(ctx context.Context, op string, hasKey bool) retry.Policy {
	p := s.retryPolicy
	p.Retryable = func(err error) bool {
		if !transaction.IsRetryable(err) {
			return false
		}
		return hasKey || !transaction.IsCommitFailure(err)
	}
	p.OnRetry = func(err error, wait time.Duration) {
		s.logger.Warn(ctx, "Retrying after database error", map[string]interface{}{
			"operation": op,
			"error":     err.Error(),
			"wait_ms":   wait.Milliseconds(),
		})
	}
	return p
}

func (s *CreditsApplicationService) findPrior(ctx context.Context, userID, refID string, action transaction.Action) (*transaction.Transaction, error) {
	return s.transactionRepo.FindByIdempotencyKey(ctx, userID, refID, action)
}

func (s *CreditsApplicationService) recordDrift(ctx context.Context, source, userID string, drift int64) {
	if drift == 0 {
		return
	}
	s.metrics.RecordBalanceDrift(ctx, source)
	s.logger.Warn(ctx, "Cached balance drifted from ledger and was repaired", map[string]interface{}{
		"user_id": userID,
		"drift":   drift,
		"source":  source,
	})
}

// logFailure DBエラーはERROR、業務エラーはWARNで記録
func (s *CreditsApplicationService) logFailure(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if transaction.IsDatabaseError(err) {
		s.metrics.RecordError(ctx, "database")
		s.logger.Error(ctx, message, err, fields)
		return
	}
	fields["error"] = err.Error()
	s.logger.Warn(ctx, message, fields)
}

func newDebitRequest(req *ConsumeRequest) (transaction.DebitRequest, error) {
	if err := account.ValidateUserID(req.UserID); err != nil {
		return transaction.DebitRequest{}, err
	}
	if err := account.ValidateAmount(req.Amount); err != nil {
		return transaction.DebitRequest{}, err
	}
	action, err := transaction.NewAction(req.Action)
	if err != nil {
		return transaction.DebitRequest{}, err
	}
	if action.IsCredit() {
		return transaction.DebitRequest{}, fmt.Errorf("%w: %s is a credit action", transaction.ErrInvalidAction, action)
	}
	if req.RefID != nil {
		if err := transaction.ValidateRefID(*req.RefID); err != nil {
			return transaction.DebitRequest{}, err
		}
	}
	return transaction.DebitRequest{
		TransactionID: transaction.NewTransactionID(),
		UserID:        req.UserID,
		Amount:        req.Amount,
		Action:        action,
		RefID:         req.RefID,
		Description:   req.Description,
	}, nil
}

func validateRefund(req *RefundRequest) error {
	if err := account.ValidateUserID(req.UserID); err != nil {
		return err
	}
	if err := account.ValidateAmount(req.Amount); err != nil {
		return err
	}
	if req.RefID != nil {
		if err := transaction.ValidateRefID(*req.RefID); err != nil {
			return err
		}
	}
	return nil
}

func consumeReplay(t *transaction.Transaction) *ConsumeResponse {
	return &ConsumeResponse{
		UserID:        t.UserID(),
		Balance:       t.BalanceAfter(),
		TransactionID: t.TransactionID(),
		Replayed:      true,
	}
}

func refundReplay(t *transaction.Transaction) *RefundResponse {
	return &RefundResponse{
		UserID:        t.UserID(),
		Balance:       t.BalanceAfter(),
		TransactionID: t.TransactionID(),
		Replayed:      true,
	}
}
