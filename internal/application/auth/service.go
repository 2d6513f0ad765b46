package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/account"
	"credits-ledger/internal/infrastructure/config"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
	"credits-ledger/internal/infrastructure/tokencache"
)

const cacheKeyPrefix = "token:"

// AuthApplicationService 認証アプリケーションサービス
type AuthApplicationService struct {
	jwtConfig     *config.JWTConfig
	cache         tokencache.Cache
	cacheTTL      time.Duration
	refreshMargin time.Duration
	logger        *otelinfra.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// NewAuthApplicationService 新しいAuthApplicationServiceを作成
// cacheがnilの場合は毎回トークンを発行する
func NewAuthApplicationService(
	jwtConfig *config.JWTConfig,
	cacheConfig *config.TokenCacheConfig,
	cache tokencache.Cache,
	logger *otelinfra.Logger,
) *AuthApplicationService {
	s := &AuthApplicationService{
		jwtConfig: jwtConfig,
		cache:     cache,
		logger:    logger,
		tracer:    otel.Tracer("auth-service"),
		now:       time.Now,
	}
	if cacheConfig != nil {
		s.cacheTTL = cacheConfig.TTL
		s.refreshMargin = cacheConfig.RefreshMargin
	}
	return s
}

// GenerateToken JWTトークンを取得する
// 期限まで refreshMargin 以上残っているキャッシュ済みトークンがあればそれを返す
func (s *AuthApplicationService) GenerateToken(ctx context.Context, req *GenerateTokenRequest) (*GenerateTokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "AuthApplicationService.GenerateToken")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", req.UserID))

	if err := account.ValidateUserID(req.UserID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "Invalid user id for token", map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, err
	}

	now := s.now()
	if resp, ok := s.fromCache(ctx, req.UserID, now); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		return resp, nil
	}

	token, expiresAt, err := SignToken(s.jwtConfig, req.UserID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "Failed to generate token", err, map[string]interface{}{
			"user_id": req.UserID,
		})
		return nil, err
	}
	s.store(ctx, req.UserID, token, expiresAt, now)

	s.logger.Info(ctx, "Token generated", map[string]interface{}{
		"user_id":    req.UserID,
		"expires_at": expiresAt.Unix(),
	})

	return &GenerateTokenResponse{
		Token:     token,
		ExpiresIn: int64(expiresAt.Sub(now).Seconds()),
		TokenType: "Bearer",
	}, nil
}

// InvalidateToken キャッシュ済みトークンを破棄する
func (s *AuthApplicationService) InvalidateToken(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cacheKeyPrefix+userID)
}

func (s *AuthApplicationService) fromCache(ctx context.Context, userID string, now time.Time) (*GenerateTokenResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	value, ok, err := s.cache.Get(ctx, cacheKeyPrefix+userID)
	if err != nil {
		s.logger.Warn(ctx, "Token cache read failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	expiresAt, token, ok := decodeEntry(value)
	if !ok || !now.Add(s.refreshMargin).Before(expiresAt) {
		return nil, false
	}
	return &GenerateTokenResponse{
		Token:     token,
		ExpiresIn: int64(expiresAt.Sub(now).Seconds()),
		TokenType: "Bearer",
		Cached:    true,
	}, true
}

// store TTL = min(設定TTL, 残り有効期間 - refreshMargin)
func (s *AuthApplicationService) store(ctx context.Context, userID, token string, expiresAt, now time.Time) {
	if s.cache == nil {
		return
	}
	ttl := expiresAt.Sub(now) - s.refreshMargin
	if s.cacheTTL > 0 && s.cacheTTL < ttl {
		ttl = s.cacheTTL
	}
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+userID, encodeEntry(expiresAt, token), ttl); err != nil {
		s.logger.Warn(ctx, "Token cache write failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func encodeEntry(expiresAt time.Time, token string) string {
	return strconv.FormatInt(expiresAt.Unix(), 10) + ":" + token
}

func decodeEntry(value string) (time.Time, string, bool) {
	exp, token, found := strings.Cut(value, ":")
	if !found || token == "" {
		return time.Time{}, "", false
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.Unix(unix, 0), token, true
}
