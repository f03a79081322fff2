package bot

import (
	"context"
	"time"

	"github.com/swingbuddy/swingbuddy/internal/cache"
	"github.com/swingbuddy/swingbuddy/internal/errs"
)

const rateLimitKeyPrefix = "rate_limit:"

// rateLimiter counts hits per identifier in a fixed window backed by the
// shared cache. Counter failures let the request through.
type rateLimiter struct {
	store  cache.Store
	limit  int64
	window time.Duration
}

func newRateLimiter(store cache.Store, limit int64, window time.Duration) *rateLimiter {
	return &rateLimiter{store: store, limit: limit, window: window}
}

// Allow reports whether one more hit for identifier fits in the current
// window.
func (r *rateLimiter) Allow(ctx context.Context, identifier string) bool {
	key := rateLimitKeyPrefix + identifier
	n, err := r.store.Incr(ctx, key)
	if err != nil {
		return true
	}
	if n == 1 {
		if err := r.store.Expire(ctx, key, r.window); err != nil {
			return true
		}
	}
	return n <= r.limit
}

// Check is Allow with a typed error for callers that want to surface the
// refusal.
func (r *rateLimiter) Check(ctx context.Context, identifier string) error {
	if r.Allow(ctx, identifier) {
		return nil
	}
	return errs.Newf(errs.ErrRateLimited, "identifier %q exceeded %d per %s", identifier, r.limit, r.window)
}
