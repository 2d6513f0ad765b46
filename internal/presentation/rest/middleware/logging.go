package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// LoggingMiddleware アクセスログミドルウェア
// ステータスが5xxならError、4xxならWarn、それ以外はInfoで出力する
func LoggingMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			logger.Debug(req.Context(), "HTTP request started", map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"remote_addr": c.RealIP(),
				"user_agent":  req.UserAgent(),
			})

			err := next(c)

			fields := map[string]interface{}{
				"method":      req.Method,
				"path":        req.URL.Path,
				"route":       c.Path(),
				"status_code": c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if userID, ok := c.Get(ContextKeyUserID).(string); ok {
				fields["user_id"] = userID
			}

			switch status := c.Response().Status; {
			case err != nil:
				logger.Error(req.Context(), "HTTP request failed", err, fields)
			case status >= http.StatusInternalServerError:
				logger.Error(req.Context(), "HTTP request failed", nil, fields)
			case status >= http.StatusBadRequest:
				logger.Warn(req.Context(), "HTTP request rejected", fields)
			default:
				logger.Info(req.Context(), "HTTP request completed", fields)
			}

			return err
		}
	}
}
