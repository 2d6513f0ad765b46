package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	redemptionapp "credits-ledger/internal/application/code_redemption"
	restmiddleware "credits-ledger/internal/presentation/rest/middleware"
)

// CodeRedemptionHandler コード引き換え関連ハンドラー
type CodeRedemptionHandler struct {
	redemptionService *redemptionapp.CodeRedemptionApplicationService
}

// NewCodeRedemptionHandler 新しいCodeRedemptionHandlerを作成
func NewCodeRedemptionHandler(redemptionService *redemptionapp.CodeRedemptionApplicationService) *CodeRedemptionHandler {
	return &CodeRedemptionHandler{
		redemptionService: redemptionService,
	}
}

// ValidateCode コードが引き換え可能か確認する（消費はしない）
// POST /api/v1/codes/validate
func (h *CodeRedemptionHandler) ValidateCode(c echo.Context) error {
	var reqBody CodeRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.redemptionService.ValidateCode(c.Request().Context(), &redemptionapp.ValidateCodeRequest{
		Code: reqBody.Code,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ValidateCodeResponse{
		Code:      resp.Code,
		Amount:    formatAmount(resp.Amount),
		ExpiresAt: formatTimePtr(resp.ExpiresAt),
	})
}

// RedeemCode コード引き換えハンドラー
// POST /api/v1/codes/redeem
func (h *CodeRedemptionHandler) RedeemCode(c echo.Context) error {
	var reqBody RedeemCodeRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	userID := reqBody.UserID
	if userID == "" {
		tokenUserID, ok := restmiddleware.TokenUserID(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		userID = tokenUserID
	}
	if err := restmiddleware.RequireUser(c, userID); err != nil {
		return err
	}

	resp, err := h.redemptionService.RedeemCode(c.Request().Context(), &redemptionapp.RedeemCodeRequest{
		Code:   reqBody.Code,
		UserID: userID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, RedeemCodeResponse{
		Code:          resp.Code,
		UserID:        resp.UserID,
		Amount:        formatAmount(resp.Amount),
		BalanceAfter:  formatAmount(resp.Balance),
		TransactionID: resp.TransactionID,
	})
}

// GenerateCodes コードを一括生成（管理API）
// POST /api/v1/admin/codes
func (h *CodeRedemptionHandler) GenerateCodes(c echo.Context) error {
	var reqBody GenerateCodesRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	amount, err := parseAmount(reqBody.Amount)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if reqBody.ExpiresAt != nil && *reqBody.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *reqBody.ExpiresAt)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid expires_at format")
		}
		expiresAt = &t
	}

	resp, err := h.redemptionService.GenerateCodes(c.Request().Context(), &redemptionapp.GenerateCodesRequest{
		Amount:    amount,
		Count:     reqBody.Count,
		ExpiresAt: expiresAt,
		Note:      reqBody.Note,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, GenerateCodesResponse{
		Codes: toCodeItems(resp.Codes),
	})
}

// ListCodes コード一覧を取得（管理API）
// GET /api/v1/admin/codes?used=&disabled=&page=&page_size=
func (h *CodeRedemptionHandler) ListCodes(c echo.Context) error {
	used, err := queryBool(c, "used")
	if err != nil {
		return err
	}
	disabled, err := queryBool(c, "disabled")
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return err
	}

	resp, err := h.redemptionService.ListCodes(c.Request().Context(), &redemptionapp.ListCodesRequest{
		Used:     used,
		Disabled: disabled,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ListCodesResponse{
		Codes:    toCodeItems(resp.Codes),
		Total:    resp.Total,
		Page:     resp.Page,
		PageSize: resp.PageSize,
	})
}

// Statistics コード集計を取得（管理API）
// GET /api/v1/admin/codes/statistics
func (h *CodeRedemptionHandler) Statistics(c echo.Context) error {
	resp, err := h.redemptionService.Statistics(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, CodeStatisticsResponse{
		Total:       resp.Total,
		Used:        resp.Used,
		Unused:      resp.Unused,
		Disabled:    resp.Disabled,
		TotalAmount: formatAmount(resp.TotalAmount),
		UsedAmount:  formatAmount(resp.UsedAmount),
	})
}

// DisableCode コードを無効化（管理API）
// POST /api/v1/admin/codes/:code/disable
func (h *CodeRedemptionHandler) DisableCode(c echo.Context) error {
	var reqBody DisableCodeRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.redemptionService.DisableCode(c.Request().Context(), &redemptionapp.DisableCodeRequest{
		Code:        c.Param("code"),
		AdminUserID: reqBody.AdminUserID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toCodeItem(resp.Code))
}

func toCodeItems(views []*redemptionapp.CodeView) []CodeItem {
	items := make([]CodeItem, len(views))
	for i, v := range views {
		items[i] = toCodeItem(v)
	}
	return items
}

func toCodeItem(v *redemptionapp.CodeView) CodeItem {
	return CodeItem{
		Code:       v.Code,
		Amount:     formatAmount(v.Amount),
		Status:     v.Status,
		Used:       v.Used,
		UsedBy:     v.UsedBy,
		UsedAt:     formatTimePtr(v.UsedAt),
		ExpiresAt:  formatTimePtr(v.ExpiresAt),
		Disabled:   v.Disabled,
		DisabledAt: formatTimePtr(v.DisabledAt),
		DisabledBy: v.DisabledBy,
		Note:       v.Note,
		CreatedAt:  formatTime(v.CreatedAt),
	}
}
