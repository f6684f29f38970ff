package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/twisp/fleet-go/metrics"
)

// DefaultSkew is subtracted from the backend declared expiry so a token is
// never handed out just before it lapses.
const DefaultSkew = 10 * time.Minute

var errEmptyToken = errors.New("backend returned an empty token")

// Cache holds the token for the most recently requested identity and
// refreshes it through a Fetcher when it is missing, expired or issued for a
// different identity.
type Cache struct {
	fetcher Fetcher
	skew    time.Duration
	now     func() time.Time

	current atomic.Pointer[cachedToken]
	mux     sync.Mutex
	single  singleflight.Group
}

type cachedToken struct {
	value     string
	expiresAt time.Time
	owner     string
}

func (t *cachedToken) validFor(identity string, now time.Time) bool {
	if t == nil || t.value == "" {
		return false
	}
	return now.Before(t.expiresAt) && t.owner == identity
}

func (t *cachedToken) tokenValue() string {
	if t == nil {
		return ""
	}
	return t.value
}

type Option func(*Cache)

func WithSkew(skew time.Duration) Option {
	return func(c *Cache) {
		c.skew = skew
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		skew:    DefaultSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a usable token for identity, or "" when none could be
// obtained. An empty identity skips validation and returns whatever is cached.
func (c *Cache) Token(ctx context.Context, identity string) string {
	current := c.current.Load()
	if identity == "" || current.validFor(identity, c.now()) {
		return current.tokenValue()
	}

	v, _, _ := c.single.Do(identity, func() (any, error) {
		return c.refresh(ctx, identity), nil
	})
	return v.(string)
}

func (c *Cache) refresh(ctx context.Context, identity string) string {
	c.mux.Lock()
	defer c.mux.Unlock()

	// Double check, a refresh may have completed while we waited for the lock.
	previous := c.current.Load()
	if previous.validFor(identity, c.now()) {
		return previous.value
	}

	logger := klog.FromContext(ctx).WithValues("identity", identity)

	token, err := c.fetcher.Fetch(ctx, identity)
	if err == nil && token.Value == "" {
		err = errEmptyToken
	}
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultFailure).Inc()
		logger.Error(err, "Could not get auth token, clearing cached token")

		cleared := &cachedToken{}
		if previous != nil {
			cleared.expiresAt = previous.expiresAt
			cleared.owner = previous.owner
		}
		c.current.Store(cleared)
		return ""
	}

	metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	expiresAt := token.ExpiresAt.Add(-c.skew)
	logger.V(2).Info("Refreshed auth token", "expiresAt", expiresAt)

	c.current.Store(&cachedToken{
		value:     token.Value,
		expiresAt: expiresAt,
		owner:     identity,
	})
	return token.Value
}
