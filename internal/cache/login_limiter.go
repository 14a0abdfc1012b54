package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"authgate/internal/models"
)

var ErrTooManyAttempts = errors.New("too many failed login attempts")

const loginFailurePrefix = "login:fail:"

// LoginLimiter counts failed logins per email in a fixed window. Once the
// count reaches the limit further attempts are refused until the window
// expires. The key is derived from the submitted email whether or not an
// account exists.
type LoginLimiter struct {
	client      redis.Cmdable
	maxAttempts int64
	window      time.Duration
}

func NewLoginLimiter(client redis.Cmdable, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{client: client, maxAttempts: int64(maxAttempts), window: window}
}

func loginFailureKey(email string) string {
	return loginFailurePrefix + models.NormalizeEmail(email)
}

// Allow returns ErrTooManyAttempts when the email is locked out.
func (l *LoginLimiter) Allow(ctx context.Context, email string) error {
	count, err := l.client.Get(ctx, loginFailureKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read login failures: %w", err)
	}
	if count >= l.maxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *LoginLimiter) RecordFailure(ctx context.Context, email string) error {
	key := loginFailureKey(email)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	// The first failure opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("expire login failures: %w", err)
		}
	}
	return nil
}

func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	if err := l.client.Del(ctx, loginFailureKey(email)).Err(); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

// NoopLimiter never refuses. It is used when throttling is disabled or no
// redis is configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) error { return nil }

func (NoopLimiter) RecordFailure(context.Context, string) error { return nil }

func (NoopLimiter) Reset(context.Context, string) error { return nil }
