package handler

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	creditsapp "credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/service"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	restmiddleware "credits-ledger/internal/presentation/rest/middleware"
	"credits-ledger/internal/testutil/memstore"
)

func newTestLogger() *otelinfra.Logger {
	tracer := noop.NewTracerProvider().Tracer("test")
	return otelinfra.NewLogger(tracer, otelinfra.WithWriter(io.Discard))
}

func newTestMetrics(t *testing.T) *otelinfra.Metrics {
	t.Helper()
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)
	return metrics
}

func newCreditsService(t *testing.T, store *memstore.Store) *creditsapp.CreditsApplicationService {
	t.Helper()
	return creditsapp.NewCreditsApplicationService(
		store,
		store.Transactions(),
		store,
		store,
		service.NewBalanceService(store, store.Transactions()),
		newTestLogger(),
		newTestMetrics(t),
	)
}

// newTestEcho 認証済みユーザーをtokenUserIDとして扱うEcho
// tokenUserIDが空なら未認証
func newTestEcho(tokenUserID string) *echo.Echo {
	e := echo.New()
	e.Use(restmiddleware.ErrorHandlerMiddleware(newTestLogger()))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tokenUserID != "" {
				c.Set(restmiddleware.ContextKeyUserID, tokenUserID)
			}
			return next(c)
		}
	})
	return e
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}
