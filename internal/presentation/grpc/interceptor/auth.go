package interceptor

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	authapp "credits-ledger/internal/application/auth"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

type userIDKey struct{}

// ContextWithUserID 認証済みのuser_idをコンテキストに設定
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext 認証済みのuser_idを取得
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}

// AuthInterceptor JWT認証インターセプター
// skipに含まれるメソッド（フルメソッド名）は検証しない
func AuthInterceptor(cfg *config.JWTConfig, logger *otelinfra.Logger, skip ...string) grpc.UnaryServerInterceptor {
	skipped := methodSet(skip)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if skipped[info.FullMethod] {
			return handler(ctx, req)
		}

		// メタデータからトークンを取得
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			logger.Warn(ctx, "Missing authorization header", nil)
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}

		// Bearerトークンの形式を確認
		scheme, tokenString, found := strings.Cut(authHeaders[0], " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			logger.Warn(ctx, "Invalid authorization header format", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
		}

		userID, err := authapp.ParseToken(cfg, tokenString)
		if err != nil {
			logger.Warn(ctx, "Invalid token", map[string]interface{}{
				"method": info.FullMethod,
				"error":  err.Error(),
			})
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(ContextWithUserID(ctx, userID), req)
	}
}

func methodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}
