// Package api exposes the session engine over HTTP: token issuance,
// confirmation, the current-session lookup and logout.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/sealedsession/session"
)

// Sessions is the part of session.Engine the HTTP layer uses.
type Sessions interface {
	Create(ctx context.Context, userID string, opts ...session.CreateOption) (string, error)
	Confirm(ctx context.Context, token string) (string, bool)
	Revoke(ctx context.Context, userID string) error
	Session(userID string) (session.Record, bool)
}

var _ Sessions = (*session.Engine)(nil)

// CookieOptions controls the session cookie written by the API.
type CookieOptions struct {
	Name   string
	Domain string
	Path   string
	// Secure forces the Secure attribute even on plain HTTP requests.
	Secure bool
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	sessions       Sessions
	issuerKey      []byte
	cookie         CookieOptions
	defaultMaxAge  time.Duration
	defaultPersist bool
	trustedProxies []netip.Prefix
	limiter        *ipRateLimiter
	audit          *auditLogger
	webhook        *auditWebhook
	alertFn        AlertFunc
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithIssuerKey requires every POST /sessions and DELETE /sessions/{userID}
// request to carry key in the X-Issuer-Key header. Without it those routes
// answer 403.
func WithIssuerKey(key string) Option {
	return func(a *API) {
		if key != "" {
			a.issuerKey = []byte(key)
		}
	}
}

// WithCookie overrides the session cookie settings.
func WithCookie(c CookieOptions) Option {
	return func(a *API) {
		if c.Name != "" {
			a.cookie.Name = c.Name
		}
		if c.Path != "" {
			a.cookie.Path = c.Path
		}
		a.cookie.Domain = c.Domain
		a.cookie.Secure = c.Secure
	}
}

// WithSessionDefaults sets the max age and persistence used when an
// issuance request does not specify them.
func WithSessionDefaults(maxAge time.Duration, persist bool) Option {
	return func(a *API) {
		a.defaultMaxAge = maxAge
		a.defaultPersist = persist
	}
}

// WithTrustedProxies lists the proxies whose forwarding headers are
// believed when determining the client IP for rate limiting.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithAuditWebhook forwards every audit event to url. authHeader, when not
// empty, is sent as "Header: Value".
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		if url != "" {
			a.webhook = newAuditWebhook(url, authHeader)
		}
	}
}

// WithAlertFunc installs a callback for anomaly alerts such as a spike of
// rejected tokens.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance.
func New(sessions Sessions, opts ...Option) *API {
	a := &API{
		sessions:       sessions,
		cookie:         CookieOptions{Name: defaultCookieName, Path: "/"},
		defaultPersist: true,
		limiter:        newIPRateLimiter(),
		audit:          newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil))),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.audit.webhook = a.webhook
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	return a
}

// Close flushes pending audit webhook deliveries.
func (a *API) Close() {
	if a.webhook != nil {
		a.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.With(a.RequireIssuer).Post("/sessions", a.CreateSession)
	r.Post("/sessions/confirm", a.ConfirmSession)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireSession)
		r.Use(a.RequireCSRF)
		r.Get("/sessions/me", a.CurrentSession)
		r.Post("/sessions/logout", a.Logout)
	})

	r.With(a.RequireIssuer).Delete("/sessions/{userID}", a.RevokeSession)

	return r
}
