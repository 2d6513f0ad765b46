package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	generationapp "credits-ledger/internal/application/generation"
	restmiddleware "credits-ledger/internal/presentation/rest/middleware"
)

// GenerationHandler 有償生成ハンドラー
type GenerationHandler struct {
	generationService *generationapp.GenerationApplicationService
}

// NewGenerationHandler 新しいGenerationHandlerを作成
func NewGenerationHandler(generationService *generationapp.GenerationApplicationService) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
	}
}

// Generate クレジットを消費して生成を実行
// POST /api/v1/users/:user_id/generations
func (h *GenerationHandler) Generate(c echo.Context) error {
	userID := c.Param("user_id")
	if err := restmiddleware.RequireUser(c, userID); err != nil {
		return err
	}

	var reqBody GenerateRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cost, err := parseAmount(reqBody.Cost)
	if err != nil {
		return err
	}

	resp, err := h.generationService.Generate(c.Request().Context(), &generationapp.GenerateRequest{
		UserID: userID,
		Kind:   reqBody.Kind,
		Prompt: reqBody.Prompt,
		Cost:   cost,
		JobID:  reqBody.JobID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, GenerateResponse{
		JobID:         resp.JobID,
		Kind:          resp.Kind,
		Output:        resp.Output,
		Charged:       formatAmount(resp.Charged),
		BalanceAfter:  formatAmount(resp.Balance),
		TransactionID: resp.TransactionID,
	})
}
