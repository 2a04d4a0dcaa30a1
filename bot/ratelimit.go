package bot

import (
	"fmt"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
	"sync"
	"time"
)

// UserLimiter limits how often each user may trigger a model or smart
// chat request. Limiters for the least recently seen users are evicted
// once the cache is full.
type UserLimiter struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

func NewUserLimiter(cfg RateLimitConfig) (*UserLimiter, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultUserLimiterCacheSize
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("error creating limiter cache: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Duration(float64(time.Minute) / cfg.RequestsPerMinute))
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &UserLimiter{limit: limit, burst: burst, limiters: cache}, nil
}

// Allow reports whether userID may make a request now, consuming a
// token if so
func (u *UserLimiter) Allow(userID string) bool {
	u.mu.Lock()
	limiter, ok := u.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(u.limit, u.burst)
		u.limiters.Add(userID, limiter)
	}
	u.mu.Unlock()
	return limiter.Allow()
}
