package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	authapp "credits-ledger/internal/application/auth"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// ContextKeyUserID トークンのuser_idを保持するecho.Contextのキー
const ContextKeyUserID = "user_id"

// AuthMiddleware JWT認証ミドルウェア
func AuthMiddleware(cfg *config.JWTConfig, logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			// Authorizationヘッダーからトークンを取得
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				logger.Warn(ctx, "Missing authorization header", nil)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Missing authorization header",
				})
			}

			// Bearerトークンの形式を確認
			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				logger.Warn(ctx, "Invalid authorization header format", nil)
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid authorization header format",
				})
			}

			userID, err := authapp.ParseToken(cfg, tokenString)
			if err != nil {
				logger.Warn(ctx, "Invalid token", map[string]interface{}{
					"error": err.Error(),
				})
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "unauthorized",
					Message: "Invalid or expired token",
				})
			}

			c.Set(ContextKeyUserID, userID)
			return next(c)
		}
	}
}

// TokenUserID 認証済みのuser_idを返す
func TokenUserID(c echo.Context) (string, bool) {
	userID, ok := c.Get(ContextKeyUserID).(string)
	return userID, ok && userID != ""
}

// RequireUser 認証済みユーザーとuserIDが一致することを確認する
func RequireUser(c echo.Context, userID string) error {
	tokenUserID, ok := TokenUserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "user_id not found in token")
	}
	if tokenUserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "user_id mismatch")
	}
	return nil
}
