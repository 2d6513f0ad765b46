package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"credits-ledger/internal/application/generation"
	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/domain/compensation"
	"credits-ledger/internal/domain/redeem_code"
	"credits-ledger/internal/domain/transaction"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Balance  string `json:"balance,omitempty"`
	Required string `json:"required,omitempty"`
}

// errorMapping ドメインエラーとHTTPステータスの対応
type errorMapping struct {
	target error
	status int
	code   string
}

// 上から順に判定する。ErrDuplicateJob は ErrDuplicateTransaction より先に置く
var errorMappings = []errorMapping{
	{account.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},

	{account.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{redeem_code.ErrCodeNotFound, http.StatusNotFound, "code_not_found"},
	{transaction.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{compensation.ErrCompensationNotFound, http.StatusNotFound, "compensation_not_found"},

	{redeem_code.ErrCodeAlreadyUsed, http.StatusConflict, "code_already_used"},
	{redeem_code.ErrCodeDisabled, http.StatusConflict, "code_disabled"},
	{redeem_code.ErrCodeAlreadyExists, http.StatusConflict, "code_already_exists"},
	{generation.ErrDuplicateJob, http.StatusConflict, "duplicate_job"},
	{transaction.ErrDuplicateTransaction, http.StatusConflict, "duplicate_transaction"},
	{compensation.ErrCompensationAlreadyProcessed, http.StatusConflict, "compensation_already_processed"},

	{redeem_code.ErrCodeExpired, http.StatusGone, "code_expired"},

	{account.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{account.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{account.ErrAmountTooLarge, http.StatusBadRequest, "amount_too_large"},
	{account.ErrBalanceOutOfRange, http.StatusBadRequest, "balance_out_of_range"},
	{transaction.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
	{transaction.ErrInvalidRefID, http.StatusBadRequest, "invalid_ref_id"},
	{redeem_code.ErrInvalidCode, http.StatusBadRequest, "invalid_code"},
	{redeem_code.ErrInvalidCount, http.StatusBadRequest, "invalid_count"},
	{redeem_code.ErrInvalidExpiry, http.StatusBadRequest, "invalid_expiry"},
	{redeem_code.ErrNoteTooLong, http.StatusBadRequest, "note_too_long"},
	{redeem_code.ErrInvalidPage, http.StatusBadRequest, "invalid_page"},
	{redeem_code.ErrInvalidPageSize, http.StatusBadRequest, "invalid_page_size"},
	{compensation.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{generation.ErrUnsupportedKind, http.StatusBadRequest, "unsupported_kind"},
	{generation.ErrEmptyPrompt, http.StatusBadRequest, "empty_prompt"},

	{generation.ErrGenerationFailed, http.StatusBadGateway, "generation_failed"},
}

// ErrorHandlerMiddleware エラーハンドリングミドルウェア
func ErrorHandlerMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// エラーハンドリング
			return handleError(c, err, logger)
		}
	}
}

// handleError エラーを処理して適切なHTTPレスポンスを返す
func handleError(c echo.Context, err error, logger *otelinfra.Logger) error {
	ctx := c.Request().Context()

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		logger.Warn(ctx, "Request failed", map[string]interface{}{
			"code":  m.code,
			"error": err.Error(),
		})
		resp := ErrorResponse{
			Error:   m.code,
			Message: err.Error(),
		}
		var insufficient *account.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			resp.Balance = strconv.FormatInt(insufficient.Balance, 10)
			resp.Required = strconv.FormatInt(insufficient.Required, 10)
		}
		return c.JSON(m.status, resp)
	}

	// 永続化層の失敗（再試行しても解消しなかったもの）
	if transaction.IsDatabaseError(err) {
		logger.Error(ctx, "Database error", err, map[string]interface{}{
			"path": c.Request().URL.Path,
		})
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "service_unavailable",
			Message: "The ledger is temporarily unavailable",
		})
	}

	// EchoのHTTPエラー
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		logger.Warn(ctx, "HTTP error", map[string]interface{}{
			"status_code": httpErr.Code,
			"message":     httpErr.Message,
		})
		message := ""
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(httpErr.Code)
		}
		return c.JSON(httpErr.Code, ErrorResponse{
			Error:   http.StatusText(httpErr.Code),
			Message: message,
		})
	}

	// 予期しないエラー
	logger.Error(ctx, "Internal server error", err, map[string]interface{}{
		"path": c.Request().URL.Path,
	})
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_server_error",
		Message: "An unexpected error occurred",
	})
}
