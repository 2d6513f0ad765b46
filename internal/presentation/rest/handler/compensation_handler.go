package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	compensationapp "credits-ledger/internal/application/compensation"
)

// CompensationHandler 補填の参照ハンドラー（管理API）
type CompensationHandler struct {
	compensationService *compensationapp.CompensationApplicationService
}

// NewCompensationHandler 新しいCompensationHandlerを作成
func NewCompensationHandler(compensationService *compensationapp.CompensationApplicationService) *CompensationHandler {
	return &CompensationHandler{
		compensationService: compensationService,
	}
}

// List 補填一覧を取得
// GET /api/v1/admin/compensations?status=&page=&page_size=
func (h *CompensationHandler) List(c echo.Context) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return err
	}

	resp, err := h.compensationService.List(c.Request().Context(), &compensationapp.ListRequest{
		Status:   c.QueryParam("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return err
	}

	items := make([]CompensationItem, len(resp.Compensations))
	for i, v := range resp.Compensations {
		items[i] = CompensationItem{
			CompensationID: v.CompensationID,
			UserID:         v.UserID,
			Amount:         formatAmount(v.Amount),
			Reason:         v.Reason,
			RefID:          v.RefID,
			Status:         v.Status,
			RetryCount:     v.RetryCount,
			LastError:      v.LastError,
			CreatedAt:      formatTime(v.CreatedAt),
			UpdatedAt:      formatTime(v.UpdatedAt),
		}
	}

	return c.JSON(http.StatusOK, ListCompensationsResponse{
		Compensations: items,
		Total:         resp.Total,
		Page:          resp.Page,
		PageSize:      resp.PageSize,
	})
}
