package session

import (
	"log/slog"
	"time"

	"github.com/jmcleod/sealedsession/crypto"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHasher selects the secret hashing strategy.
// Default: crypto.BcryptHasher with crypto.DefaultBcryptCost.
func WithHasher(h crypto.Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSecretSize sets the number of random bytes in each session secret.
// The secret is hex encoded before hashing, so bcrypt limits it to 36.
// Default: 32.
func WithSecretSize(n int) Option {
	return func(e *Engine) {
		e.secretSize = n
	}
}

// CreateOption configures a single Create call.
type CreateOption func(*createOptions)

type createOptions struct {
	maxAge  time.Duration
	persist bool
}

// WithMaxAge makes the session expire after d. Zero means the session
// never expires.
func WithMaxAge(d time.Duration) CreateOption {
	return func(o *createOptions) {
		o.maxAge = d
	}
}

// WithPersist controls whether the session is written to the store.
// Default: true.
func WithPersist(persist bool) CreateOption {
	return func(o *createOptions) {
		o.persist = persist
	}
}
