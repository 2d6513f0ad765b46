package handler

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	redemptionapp "credits-ledger/internal/application/code_redemption"
	creditsapp "credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/transaction"
	"credits-ledger/internal/presentation/grpc/interceptor"
)

// CreditsHandler gRPCクレジットサービスハンドラー
type CreditsHandler struct {
	creditsService    *creditsapp.CreditsApplicationService
	redemptionService *redemptionapp.CodeRedemptionApplicationService
}

var _ CreditsServiceServer = (*CreditsHandler)(nil)

// NewCreditsHandler 新しいCreditsHandlerを作成
func NewCreditsHandler(
	creditsService *creditsapp.CreditsApplicationService,
	redemptionService *redemptionapp.CodeRedemptionApplicationService,
) *CreditsHandler {
	return &CreditsHandler{
		creditsService:    creditsService,
		redemptionService: redemptionService,
	}
}

// GetBalance 残高取得
func (h *CreditsHandler) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx, stringField(req, "user_id"))
	if err != nil {
		return nil, err
	}

	resp, err := h.creditsService.GetBalance(ctx, &creditsapp.GetBalanceRequest{UserID: userID})
	if err != nil {
		return nil, h.handleError(err)
	}

	return newStruct(map[string]interface{}{
		"user_id": resp.UserID,
		"balance": formatAmount(resp.Balance),
	})
}

// Consume クレジット消費
func (h *CreditsHandler) Consume(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireUser(ctx, stringField(req, "user_id"))
	if err != nil {
		return nil, err
	}
	amount, err := amountField(req, "amount")
	if err != nil {
		return nil, err
	}

	resp, err := h.creditsService.Consume(ctx, &creditsapp.ConsumeRequest{
		UserID:      userID,
		Amount:      amount,
		Action:      stringField(req, "action"),
		RefID:       optionalStringField(req, "ref_id"),
		Description: stringField(req, "description"),
	})
	if err != nil {
		return nil, h.handleError(err)
	}

	return newStruct(map[string]interface{}{
		"user_id":        resp.UserID,
		"balance":        formatAmount(resp.Balance),
		"transaction_id": resp.TransactionID,
		"replayed":       resp.Replayed,
	})
}

// Refund 返金（管理者用）
func (h *CreditsHandler) Refund(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := stringField(req, "user_id")
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	amount, err := amountField(req, "amount")
	if err != nil {
		return nil, err
	}

	resp, err := h.creditsService.Refund(ctx, &creditsapp.RefundRequest{
		UserID: userID,
		Amount: amount,
		Reason: stringField(req, "reason"),
		RefID:  optionalStringField(req, "ref_id"),
	})
	if err != nil {
		return nil, h.handleError(err)
	}

	return newStruct(map[string]interface{}{
		"user_id":        resp.UserID,
		"balance":        formatAmount(resp.Balance),
		"transaction_id": resp.TransactionID,
		"replayed":       resp.Replayed,
	})
}

// RedeemCode コード引き換え
// user_idを省略した場合はトークンのユーザー
func (h *CreditsHandler) RedeemCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	code := stringField(req, "code")
	if code == "" {
		return nil, status.Error(codes.InvalidArgument, "code is required")
	}
	userID, err := requireUser(ctx, stringField(req, "user_id"))
	if err != nil {
		return nil, err
	}

	resp, err := h.redemptionService.RedeemCode(ctx, &redemptionapp.RedeemCodeRequest{
		Code:   code,
		UserID: userID,
	})
	if err != nil {
		return nil, h.handleError(err)
	}

	return newStruct(map[string]interface{}{
		"code":           resp.Code,
		"user_id":        resp.UserID,
		"amount":         formatAmount(resp.Amount),
		"balance":        formatAmount(resp.Balance),
		"transaction_id": resp.TransactionID,
	})
}

// requireUser リクエストのuser_idとトークンのユーザーを突き合わせる
// requestedが空ならトークンのユーザーを返す
func requireUser(ctx context.Context, requested string) (string, error) {
	tokenUserID, ok := interceptor.UserIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing user")
	}
	if requested == "" {
		return tokenUserID, nil
	}
	if requested != tokenUserID {
		return "", status.Error(codes.PermissionDenied, "user_id does not match token")
	}
	return requested, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func optionalStringField(req *structpb.Struct, name string) *string {
	v := stringField(req, name)
	if v == "" {
		return nil
	}
	return &v
}

// amountField 金額は文字列で受け取る
func amountField(req *structpb.Struct, name string) (int64, error) {
	s := stringField(req, name)
	if s == "" {
		return 0, status.Error(codes.InvalidArgument, name+" is required")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, "invalid "+name+" format")
	}
	return v, nil
}

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to build response")
	}
	return s, nil
}

var invalidArgumentErrors = []error{
	account.ErrInvalidUserID,
	account.ErrInvalidAmount,
	account.ErrAmountTooLarge,
	account.ErrBalanceOutOfRange,
	transaction.ErrInvalidAction,
	transaction.ErrInvalidRefID,
	transaction.ErrInvalidTransaction,
	redeem_code.ErrInvalidCode,
}

// handleError エラーをgRPCステータスコードに変換
func (h *CreditsHandler) handleError(err error) error {
	var insufficient *account.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return status.Errorf(codes.FailedPrecondition,
			"insufficient credits: balance=%d, required=%d", insufficient.Balance, insufficient.Required)
	}
	if errors.Is(err, account.ErrInsufficientCredits) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	if errors.Is(err, account.ErrAccountNotFound) ||
		errors.Is(err, redeem_code.ErrCodeNotFound) ||
		errors.Is(err, transaction.ErrTransactionNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}

	if errors.Is(err, redeem_code.ErrCodeAlreadyUsed) ||
		errors.Is(err, transaction.ErrDuplicateTransaction) {
		return status.Error(codes.AlreadyExists, err.Error())
	}

	if errors.Is(err, redeem_code.ErrCodeExpired) ||
		errors.Is(err, redeem_code.ErrCodeDisabled) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}

	for _, target := range invalidArgumentErrors {
		if errors.Is(err, target) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}

	if transaction.IsDatabaseError(err) {
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	}

	return status.Error(codes.Internal, "internal server error")
}
