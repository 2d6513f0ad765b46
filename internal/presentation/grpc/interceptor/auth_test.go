package interceptor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authapp "credits-ledger/internal/application/auth"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

const (
	userMethod  = "/credits.v1.CreditsService/GetBalance"
	adminMethod = "/credits.v1.CreditsService/Refund"
)

func newTestLogger() *otelinfra.Logger {
	tracer := noop.NewTracerProvider().Tracer("test")
	return otelinfra.NewLogger(tracer, otelinfra.WithWriter(io.Discard))
}

// echoUserHandler コンテキストのuser_idを返すハンドラー
func echoUserHandler(ctx context.Context, req interface{}) (interface{}, error) {
	userID, _ := UserIDFromContext(ctx)
	return userID, nil
}

func TestAuthInterceptor(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "test",
	}
	validToken, _, err := authapp.SignToken(cfg, "user123", time.Now())
	require.NoError(t, err)
	expiredToken, _, err := authapp.SignToken(cfg, "user123", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	otherSecret := &config.JWTConfig{Secret: "other-secret", Expiration: time.Hour, Issuer: "test"}
	forgedToken, _, err := authapp.SignToken(otherSecret, "user123", time.Now())
	require.NoError(t, err)

	tests := []struct {
		name        string
		method      string
		md          metadata.MD
		wantCode    codes.Code
		wantUserID  string
		wantMessage string
	}{
		{
			name:       "正常系: 有効なトークン",
			method:     userMethod,
			md:         metadata.Pairs("authorization", "Bearer "+validToken),
			wantCode:   codes.OK,
			wantUserID: "user123",
		},
		{
			name:       "正常系: スキームは大文字小文字を区別しない",
			method:     userMethod,
			md:         metadata.Pairs("authorization", "bearer "+validToken),
			wantCode:   codes.OK,
			wantUserID: "user123",
		},
		{
			name:     "正常系: 対象外のメソッドは検証しない",
			method:   adminMethod,
			md:       nil,
			wantCode: codes.OK,
		},
		{
			name:        "異常系: メタデータなし",
			method:      userMethod,
			md:          nil,
			wantCode:    codes.Unauthenticated,
			wantMessage: "missing metadata",
		},
		{
			name:        "異常系: Authorizationヘッダーなし",
			method:      userMethod,
			md:          metadata.MD{},
			wantCode:    codes.Unauthenticated,
			wantMessage: "missing authorization header",
		},
		{
			name:        "異常系: Bearer以外のスキーム",
			method:      userMethod,
			md:          metadata.Pairs("authorization", "Basic dXNlcjpwYXNz"),
			wantCode:    codes.Unauthenticated,
			wantMessage: "invalid authorization header format",
		},
		{
			name:        "異常系: 期限切れのトークン",
			method:      userMethod,
			md:          metadata.Pairs("authorization", "Bearer "+expiredToken),
			wantCode:    codes.Unauthenticated,
			wantMessage: "invalid or expired token",
		},
		{
			name:        "異常系: 別のシークレットで署名",
			method:      userMethod,
			md:          metadata.Pairs("authorization", "Bearer "+forgedToken),
			wantCode:    codes.Unauthenticated,
			wantMessage: "invalid or expired token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := AuthInterceptor(cfg, newTestLogger(), adminMethod)
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}

			resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, echoUserHandler)

			if tt.wantCode == codes.OK {
				require.NoError(t, err)
				assert.Equal(t, tt.wantUserID, resp)
				return
			}
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Contains(t, st.Message(), tt.wantMessage)
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = UserIDFromContext(ContextWithUserID(context.Background(), ""))
	assert.False(t, ok)

	userID, ok := UserIDFromContext(ContextWithUserID(context.Background(), "user123"))
	assert.True(t, ok)
	assert.Equal(t, "user123", userID)
}
