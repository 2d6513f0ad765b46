// Package tokencache は発行済みトークンなど短命な値のキャッシュを提供する。
package tokencache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTTL TTLが0以下
var ErrInvalidTTL = errors.New("ttl must be positive")

// Cache 文字列値のTTL付きキャッシュ
type Cache interface {
	// Get 値を取得する。存在しないか期限切れの場合はokがfalse
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
