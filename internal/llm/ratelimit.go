package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/ids"

	"golang.org/x/time/rate"
)

// RateLimitedBackend applies per-requester rate limiting around a TextBackend.
type RateLimitedBackend struct {
	base   TextBackend
	limit  rate.Limit
	burst  int
	mu     sync.Mutex
	bucket map[string]*rate.Limiter
}

// WrapWithUserRateLimit wraps backend when a positive limit is supplied. A
// burst less than 1 is coerced to 1.
func WrapWithUserRateLimit(backend TextBackend, limit rate.Limit, burst int) TextBackend {
	if limit <= 0 {
		return backend
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedBackend{
		base:   backend,
		limit:  limit,
		burst:  burst,
		bucket: make(map[string]*rate.Limiter),
	}
}

func (b *RateLimitedBackend) Name() string { return b.base.Name() }

// Complete rejects the call with a retryable 429 when the requester is over
// its budget, so the gateway backs off instead of failing outright.
func (b *RateLimitedBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	user := ids.FromContext(ctx).UserID
	if !b.limiterFor(user).Allow() {
		return nil, &smmerrors.TransientError{
			Err:        fmt.Errorf("llm rate limit exceeded for user %q", userKey(user)),
			StatusCode: http.StatusTooManyRequests,
		}
	}
	return b.base.Complete(ctx, req)
}

func (b *RateLimitedBackend) limiterFor(userID string) *rate.Limiter {
	key := userKey(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	limiter, ok := b.bucket[key]
	if !ok {
		limiter = rate.NewLimiter(b.limit, b.burst)
		b.bucket[key] = limiter
	}
	return limiter
}

func userKey(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}
