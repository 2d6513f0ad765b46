package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	creditsapp "credits-ledger/internal/application/credits"
	restmiddleware "credits-ledger/internal/presentation/rest/middleware"
)

// CreditsHandler 残高・消費・返金・照合ハンドラー
type CreditsHandler struct {
	creditsService *creditsapp.CreditsApplicationService
}

// NewCreditsHandler 新しいCreditsHandlerを作成
func NewCreditsHandler(creditsService *creditsapp.CreditsApplicationService) *CreditsHandler {
	return &CreditsHandler{
		creditsService: creditsService,
	}
}

// GetBalance 残高取得
// GET /api/v1/users/:user_id/balance
func (h *CreditsHandler) GetBalance(c echo.Context) error {
	userID := c.Param("user_id")
	if err := restmiddleware.RequireUser(c, userID); err != nil {
		return err
	}

	resp, err := h.creditsService.GetBalance(c.Request().Context(), &creditsapp.GetBalanceRequest{
		UserID: userID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, BalanceResponse{
		UserID:  resp.UserID,
		Balance: formatAmount(resp.Balance),
	})
}

// Consume クレジット消費
// POST /api/v1/users/:user_id/consume
func (h *CreditsHandler) Consume(c echo.Context) error {
	userID := c.Param("user_id")
	if err := restmiddleware.RequireUser(c, userID); err != nil {
		return err
	}

	var reqBody ConsumeRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := parseAmount(reqBody.Amount)
	if err != nil {
		return err
	}

	resp, err := h.creditsService.Consume(c.Request().Context(), &creditsapp.ConsumeRequest{
		UserID:      userID,
		Amount:      amount,
		Action:      reqBody.Action,
		RefID:       reqBody.RefID,
		Description: reqBody.Description,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, LedgerEntryResponse{
		UserID:        resp.UserID,
		TransactionID: resp.TransactionID,
		BalanceAfter:  formatAmount(resp.Balance),
		Replayed:      resp.Replayed,
	})
}

// Refund 返金（管理API）
// POST /api/v1/admin/users/:user_id/refund
func (h *CreditsHandler) Refund(c echo.Context) error {
	userID := c.Param("user_id")

	var reqBody RefundRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := parseAmount(reqBody.Amount)
	if err != nil {
		return err
	}

	resp, err := h.creditsService.Refund(c.Request().Context(), &creditsapp.RefundRequest{
		UserID: userID,
		Amount: amount,
		Reason: reqBody.Reason,
		RefID:  reqBody.RefID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, LedgerEntryResponse{
		UserID:        resp.UserID,
		TransactionID: resp.TransactionID,
		BalanceAfter:  formatAmount(resp.Balance),
		Replayed:      resp.Replayed,
	})
}

// RecomputeBalance 1ユーザーの残高照合（管理API）
// POST /api/v1/admin/users/:user_id/reconcile?repair=true
func (h *CreditsHandler) RecomputeBalance(c echo.Context) error {
	repair, err := queryBool(c, "repair")
	if err != nil {
		return err
	}

	resp, err := h.creditsService.RecomputeBalance(c.Request().Context(), &creditsapp.RecomputeBalanceRequest{
		UserID: c.Param("user_id"),
		Repair: repair != nil && *repair,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toRecomputeBalanceResponse(resp))
}

// ReconcileAll 全ユーザーの残高照合（管理API）
// POST /api/v1/admin/reconcile
func (h *CreditsHandler) ReconcileAll(c echo.Context) error {
	var reqBody ReconcileAllRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.creditsService.ReconcileAll(c.Request().Context(), &creditsapp.ReconcileAllRequest{
		Repair:    reqBody.Repair,
		BatchSize: reqBody.BatchSize,
	})
	if err != nil {
		return err
	}

	drifts := make([]RecomputeBalanceResponse, len(resp.Drifts))
	for i, d := range resp.Drifts {
		drifts[i] = toRecomputeBalanceResponse(d)
	}
	return c.JSON(http.StatusOK, ReconcileAllResponse{
		Scanned:  resp.Scanned,
		Drifted:  resp.Drifted,
		Repaired: resp.Repaired,
		Failed:   resp.Failed,
		Drifts:   drifts,
	})
}

func toRecomputeBalanceResponse(r *creditsapp.RecomputeBalanceResponse) RecomputeBalanceResponse {
	return RecomputeBalanceResponse{
		UserID:   r.UserID,
		Cached:   formatAmount(r.Cached),
		Ledger:   formatAmount(r.Ledger),
		Drift:    formatAmount(r.Drift),
		Repaired: r.Repaired,
	}
}
