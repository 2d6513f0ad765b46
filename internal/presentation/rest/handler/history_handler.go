package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	historyapp "credits-ledger/internal/application/history"
	restmiddleware "credits-ledger/internal/presentation/rest/middleware"
)

// HistoryHandler 履歴関連ハンドラー
type HistoryHandler struct {
	historyService *historyapp.HistoryApplicationService
}

// NewHistoryHandler 新しいHistoryHandlerを作成
func NewHistoryHandler(historyService *historyapp.HistoryApplicationService) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
	}
}

// GetTransactionHistory 台帳履歴取得
// GET /api/v1/users/:user_id/transactions?limit=&offset=&action=
func (h *HistoryHandler) GetTransactionHistory(c echo.Context) error {
	userID := c.Param("user_id")
	if err := restmiddleware.RequireUser(c, userID); err != nil {
		return err
	}

	limit, err := queryInt(c, "limit", historyapp.DefaultLimit)
	if err != nil {
		return err
	}
	if limit < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}
	if offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offset parameter")
	}

	resp, err := h.historyService.GetTransactionHistory(c.Request().Context(), &historyapp.GetTransactionHistoryRequest{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
		Action: c.QueryParam("action"),
	})
	if err != nil {
		return err
	}

	transactions := make([]TransactionItem, len(resp.Transactions))
	for i, txn := range resp.Transactions {
		transactions[i] = TransactionItem{
			TransactionID: txn.TransactionID,
			Amount:        formatAmount(txn.Amount),
			Action:        txn.Action,
			RefID:         txn.RefID,
			Description:   txn.Description,
			BalanceAfter:  formatAmount(txn.BalanceAfter),
			CreatedAt:     formatTime(txn.CreatedAt),
		}
	}

	return c.JSON(http.StatusOK, TransactionHistoryResponse{
		Transactions: transactions,
		Total:        resp.Total,
		Limit:        resp.Limit,
		Offset:       resp.Offset,
	})
}
