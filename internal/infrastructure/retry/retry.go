package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts 既定の最大試行回数
const DefaultMaxAttempts = 3

// Policy 再試行の方針
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable errを再試行してよいかを判定する。nilの場合は再試行しない
	Retryable func(err error) bool
	// OnRetry 再試行の前に呼ばれる（ログ用）
	OnRetry func(err error, wait time.Duration)
}

// DefaultPolicy 3回まで指数バックオフで再試行する方針
func DefaultPolicy(retryable func(err error) bool) Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Retryable:       retryable,
	}
}

// Do fnを実行し、Retryableな失敗のみ再試行する
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	op := func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(p.OnRetry)))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return v, perm.Unwrap()
		}
		return v, err
	}
	return v, nil
}
