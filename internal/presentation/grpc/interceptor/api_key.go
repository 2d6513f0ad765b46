package interceptor

import (
	"context"
	"crypto/subtle"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// APIKeyInterceptor APIキー認証インターセプター
// methodsに含まれるメソッド（フルメソッド名）だけを対象にする
func APIKeyInterceptor(cfg *config.AdminAPIConfig, logger *otelinfra.Logger, methods ...string) grpc.UnaryServerInterceptor {
	protected := methodSet(methods)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !protected[info.FullMethod] {
			return handler(ctx, req)
		}

		// 管理APIが無効化されている場合はエラー
		if !cfg.Enabled {
			logger.Warn(ctx, "Admin API is disabled", nil)
			return nil, status.Error(codes.PermissionDenied, "admin API is disabled")
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			logger.Warn(ctx, "Missing metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			logger.Warn(ctx, "Missing X-API-Key metadata", nil)
			return nil, status.Error(codes.Unauthenticated, "missing X-API-Key metadata")
		}

		if subtle.ConstantTimeCompare([]byte(apiKeys[0]), []byte(cfg.APIKey)) != 1 {
			logger.Warn(ctx, "Invalid API key", nil)
			return nil, status.Error(codes.Unauthenticated, "invalid API key")
		}

		// IP制限はメタデータではなく接続元アドレスで判定する
		if clientIP := peerIP(ctx); !cfg.AllowsIP(clientIP) {
			logger.Warn(ctx, "IP address not allowed", map[string]interface{}{
				"ip": clientIP,
			})
			return nil, status.Error(codes.PermissionDenied, "IP address not allowed")
		}

		return handler(ctx, req)
	}
}

// peerIP 接続元のIPアドレス。取得できなければ空文字
func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return ""
	}
	return host
}
