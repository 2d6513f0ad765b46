package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// MetricsMiddleware メトリクス記録ミドルウェア
// ルートはパスパラメータを含まないテンプレート（c.Path()）で記録する
func MetricsMiddleware(metrics *otelinfra.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			method := c.Request().Method

			metrics.RecordRequest(ctx, method, c.Path())

			err := next(c)

			metrics.RecordResponseTime(ctx, method, c.Path(), time.Since(start).Seconds())

			status := c.Response().Status
			if err != nil && status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
			switch {
			case status >= http.StatusInternalServerError:
				metrics.RecordError(ctx, "server_error")
			case status >= http.StatusBadRequest:
				metrics.RecordError(ctx, "client_error")
			}

			return err
		}
	}
}
