package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		handler      echo.HandlerFunc
		wantErr      bool
		expectedType string
	}{
		{
			name: "正常系: 成功はエラーに数えない",
			handler: func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			},
		},
		{
			name: "正常系: 4xxはclient_error",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusConflict, ErrorResponse{Error: "code_already_used"})
			},
			expectedType: "client_error",
		},
		{
			name: "正常系: 5xxはserver_error",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service_unavailable"})
			},
			expectedType: "server_error",
		},
		{
			name: "異常系: 未処理のエラーはserver_error",
			handler: func(c echo.Context) error {
				return errors.New("boom")
			},
			wantErr:      true,
			expectedType: "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
			defer otel.SetMeterProvider(noop.NewMeterProvider())

			metrics, err := otelinfra.NewMetrics("test-meter")
			require.NoError(t, err)

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users/user123/consume", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath("/api/v1/users/:user_id/consume")

			err = MetricsMiddleware(metrics)(tt.handler)(c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			var rm metricdata.ResourceMetrics
			require.NoError(t, reader.Collect(req.Context(), &rm))

			requests := map[string]int64{}
			errorTypes := map[string]int64{}
			for _, sm := range rm.ScopeMetrics {
				for _, m := range sm.Metrics {
					data, ok := m.Data.(metricdata.Sum[int64])
					if !ok {
						continue
					}
					for _, dp := range data.DataPoints {
						switch m.Name {
						case "requests_total":
							path, _ := dp.Attributes.Value(attribute.Key("path"))
							requests[path.AsString()] += dp.Value
						case "errors_total":
							errType, _ := dp.Attributes.Value(attribute.Key("error_type"))
							errorTypes[errType.AsString()] += dp.Value
						}
					}
				}
			}

			assert.Equal(t, int64(1), requests["/api/v1/users/:user_id/consume"])
			if tt.expectedType == "" {
				assert.Empty(t, errorTypes)
			} else {
				assert.Equal(t, map[string]int64{tt.expectedType: 1}, errorTypes)
			}
		})
	}
}
