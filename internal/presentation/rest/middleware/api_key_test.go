package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credits-ledger/internal/infrastructure/config"
)

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		apiKey         string
		remoteAddr     string
		realIP         string
		config         *config.AdminAPIConfig
		expectedStatus int
	}{
		{
			name:           "正常系: 有効なAPIキー",
			apiKey:         "test-api-key",
			config:         &config.AdminAPIConfig{Enabled: true, APIKey: "test-api-key"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "異常系: APIキーが空",
			config:         &config.AdminAPIConfig{Enabled: true, APIKey: "test-api-key"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "異常系: 無効なAPIキー",
			apiKey:         "invalid-key",
			config:         &config.AdminAPIConfig{Enabled: true, APIKey: "test-api-key"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "異常系: 長さの違うAPIキー",
			apiKey:         "test-api-key-extra",
			config:         &config.AdminAPIConfig{Enabled: true, APIKey: "test-api-key"},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "異常系: 管理APIが無効化されている",
			apiKey:         "test-api-key",
			config:         &config.AdminAPIConfig{Enabled: false, APIKey: "test-api-key"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:       "正常系: 接続元IPがCIDRに含まれる",
			apiKey:     "test-api-key",
			remoteAddr: "10.1.2.3:40000",
			config: &config.AdminAPIConfig{
				Enabled:    true,
				APIKey:     "test-api-key",
				AllowedIPs: []string{"10.0.0.0/8"},
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "正常系: X-Real-IPが許可リストにある",
			apiKey: "test-api-key",
			realIP: "127.0.0.1",
			config: &config.AdminAPIConfig{
				Enabled:    true,
				APIKey:     "test-api-key",
				AllowedIPs: []string{"127.0.0.1", "192.0.2.1"},
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:       "異常系: 許可されていないIP",
			apiKey:     "test-api-key",
			remoteAddr: "192.168.1.10:40000",
			config: &config.AdminAPIConfig{
				Enabled:    true,
				APIKey:     "test-api-key",
				AllowedIPs: []string{"192.168.1.1/32"},
			},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()

			handler := APIKeyMiddleware(tt.config, newTestLogger())(func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/codes", nil)
			if tt.apiKey != "" {
				req.Header.Set(HeaderAPIKey, tt.apiKey)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			if tt.realIP != "" {
				req.Header.Set(echo.HeaderXRealIP, tt.realIP)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, handler(c))
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}
