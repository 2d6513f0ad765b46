package grpc

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	authapp "credits-ledger/internal/application/auth"
	redemptionapp "credits-ledger/internal/application/code_redemption"
	creditsapp "credits-ledger/internal/application/credits"
	"credits-ledger/internal/domain/service"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/presentation/grpc/handler"
	"credits-ledger/internal/testutil/memstore"
)

const bufSize = 1024 * 1024

func newTestConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		JWT: config.JWTConfig{
			Secret:     "test-secret",
			Expiration: time.Hour,
			Issuer:     "test",
		},
		AdminAPI: config.AdminAPIConfig{
			Enabled: true,
			APIKey:  "test-admin-key",
		},
	}
}

// startTestServer bufconn上でサーバーを起動し、接続済みクライアントを返す
func startTestServer(t *testing.T, cfg *config.Config) (*grpc.ClientConn, *memstore.Store) {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	logger := otelinfra.NewLogger(tracer, otelinfra.WithWriter(io.Discard))
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	store := memstore.New()
	balance := service.NewBalanceService(store, store.Transactions())
	credits := creditsapp.NewCreditsApplicationService(
		store, store.Transactions(), store, store, balance, logger, metrics,
	)
	redemption := redemptionapp.NewCodeRedemptionApplicationService(
		store.Codes(), store, store, balance, nil, logger, metrics,
	)

	listener := bufconn.Listen(bufSize)
	server, err := NewServerWithListener(cfg, logger, credits, redemption, listener, 0)
	require.NoError(t, err)
	go func() {
		_ = server.Start()
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return conn, store
}

func bearerContext(t *testing.T, cfg *config.Config, userID string) context.Context {
	t.Helper()
	token, _, err := authapp.SignToken(&cfg.JWT, userID, time.Now())
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func TestNewServerWithListener(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	logger := otelinfra.NewLogger(tracer, otelinfra.WithWriter(io.Discard))

	server, err := NewServerWithListener(newTestConfig(), logger, nil, nil, bufconn.Listen(bufSize), 50051)

	require.NoError(t, err)
	assert.Equal(t, 50051, server.Port())
	assert.NoError(t, server.Stop(context.Background()))
}

func TestServer_GetBalance(t *testing.T) {
	cfg := newTestConfig()
	conn, store := startTestServer(t, cfg)
	store.Seed("user123", 20)

	tests := []struct {
		name     string
		ctx      context.Context
		userID   string
		wantCode codes.Code
	}{
		{
			name:     "正常系: 有効なトークン",
			ctx:      bearerContext(t, cfg, "user123"),
			userID:   "user123",
			wantCode: codes.OK,
		},
		{
			name:     "異常系: トークンなし",
			ctx:      context.Background(),
			userID:   "user123",
			wantCode: codes.Unauthenticated,
		},
		{
			name:     "異常系: 他人の残高",
			ctx:      bearerContext(t, cfg, "other"),
			userID:   "user123",
			wantCode: codes.PermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := invoke(tt.ctx, conn, handler.GetBalanceMethod, map[string]interface{}{"user_id": tt.userID})

			if tt.wantCode != codes.OK {
				assert.Equal(t, tt.wantCode, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "20", resp.GetFields()["balance"].GetStringValue())
		})
	}
}

func TestServer_ConsumeAndRefund(t *testing.T) {
	cfg := newTestConfig()
	conn, store := startTestServer(t, cfg)
	store.Seed("user123", 20)

	resp, err := invoke(bearerContext(t, cfg, "user123"), conn, handler.ConsumeMethod, map[string]interface{}{
		"user_id": "user123",
		"amount":  "5",
		"action":  "ai_generate_text",
		"ref_id":  "job_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "15", resp.GetFields()["balance"].GetStringValue())

	refund := map[string]interface{}{"user_id": "user123", "amount": "5", "ref_id": "job_1", "reason": "failed"}

	// 返金はJWTではなくAPIキーで認証する
	_, err = invoke(bearerContext(t, cfg, "user123"), conn, handler.RefundMethod, refund)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	adminCtx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "test-admin-key")
	resp, err = invoke(adminCtx, conn, handler.RefundMethod, refund)
	require.NoError(t, err)
	assert.Equal(t, "20", resp.GetFields()["balance"].GetStringValue())
	assert.Equal(t, int64(20), store.LedgerBalance("user123"))
	assert.Len(t, store.Rows("user123"), 3)
}

func TestServer_ConsumeInsufficient(t *testing.T) {
	cfg := newTestConfig()
	conn, store := startTestServer(t, cfg)
	store.Seed("user123", 10)

	_, err := invoke(bearerContext(t, cfg, "user123"), conn, handler.ConsumeMethod, map[string]interface{}{
		"user_id": "user123",
		"amount":  "11",
		"action":  "ai_generate_text",
	})

	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, int64(10), store.LedgerBalance("user123"))
}

func TestServer_UnknownMethod(t *testing.T) {
	cfg := newTestConfig()
	conn, _ := startTestServer(t, cfg)

	_, err := invoke(bearerContext(t, cfg, "user123"), conn, "/"+handler.ServiceName+"/Transfer", map[string]interface{}{})

	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
