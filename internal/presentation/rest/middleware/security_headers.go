package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// apiCSP JSONしか返さないAPI用
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	// docsCSP Swagger UI用（同一オリジンの静的ファイルとインラインスクリプトを許可）
	docsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; frame-ancestors 'none'"
)

// SecurityHeadersMiddleware セキュリティヘッダーを設定するミドルウェア
func SecurityHeadersMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			path := c.Request().URL.Path

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")

			if isDocsPath(path) {
				h.Set("Content-Security-Policy", docsCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
			}

			// 残高や発行トークンを中間キャッシュに残さない
			if strings.HasPrefix(path, "/api/") {
				h.Set("Cache-Control", "no-store")
			}

			if c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			return next(c)
		}
	}
}

// isDocsPath APIドキュメント関連のパスかどうか
func isDocsPath(path string) bool {
	return path == "/openapi.yaml" || path == "/swagger" || strings.HasPrefix(path, "/swagger/")
}
