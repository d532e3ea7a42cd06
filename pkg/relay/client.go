package relay

import (
	"context"
	"time"
)

// Executor runs one described request through the full pipeline (cache read,
// auth, retry, transport) and returns the raw response body. The concrete
// implementation lives in internal/client.
type Executor interface {
	Execute(ctx context.Context, descriptor *Descriptor) ([]byte, error)
	CacheManager() *CacheManager
	Session() *Session
}

// Config configures a client. Construction validates it; malformed
// configuration is a returned error, never a deferred panic.
type Config struct {
	// BaseURL is the API origin, e.g. "https://api.example.com". Required.
	BaseURL string

	// Token is an optional initial bearer token. The session can also be
	// populated later via Session().Login.
	Token string

	// MaxAttempts is the total attempts per request (default 3).
	MaxAttempts int
	// BaseDelay is the first retry backoff (default 300ms).
	BaseDelay time.Duration
	// MaxDelay caps the backoff (default 10s).
	MaxDelay time.Duration

	// Timeout is the per-call transport timeout (default 30s).
	Timeout time.Duration

	// DefaultTTL is applied to cached entries stored without an explicit TTL.
	// Zero stores entries immutable (evicted only by invalidation).
	DefaultTTL time.Duration

	// Cache selects the cache backend. Nil means in-memory defaults.
	Cache *CacheConfig

	// AllowCreateRetry opts POST requests into the retry policy for APIs
	// whose creates are idempotent (e.g. client-supplied ids).
	AllowCreateRetry bool

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// Debug enables verbose HTTP logging when a Logger is provided.
	Debug bool

	// Logger is an optional structured logger.
	Logger Logger
}

// Validate reports configuration a client cannot be built from.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigRequired
	}

	if c.BaseURL == "" {
		return ErrBaseURLRequired
	}

	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}

	if c.MaxAttempts < 0 {
		return ErrInvalidAttempts
	}

	return nil
}

// RetryPolicy builds the retry policy described by the config.
func (c *Config) RetryPolicy() *RetryPolicy {
	policy := DefaultRetryPolicy()

	if c.MaxAttempts > 0 {
		policy.MaxAttempts = c.MaxAttempts
	}

	if c.BaseDelay > 0 {
		policy.BaseDelay = c.BaseDelay
	}

	if c.MaxDelay > 0 {
		policy.MaxDelay = c.MaxDelay
	}

	return policy
}
