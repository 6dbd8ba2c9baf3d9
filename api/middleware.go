package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/sealedsession/internal/uuid"
)

type contextKey int

const (
	userIDKey contextKey = iota
	requestIDKey
	authSourceKey
)

const (
	defaultCookieName = "session"
	issuerKeyHeader   = "X-Issuer-Key"
	requestIDHeader   = "X-Request-ID"
)

type authSource int

const (
	authFromCookie authSource = iota + 1
	authFromBearer
)

// RequireSession confirms the token carried by the session cookie or an
// "Authorization: Bearer" header and stores the user id on the request
// context. Requests without a valid token get 401.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.extractClientIP(r)
		if blocked, retryAfter := a.limiter.check(ip); blocked {
			a.audit.logFailure(AuditConfirmRateLimited, r, "too many rejected tokens")
			writeRateLimited(w, retryAfter)
			return
		}

		token, source := a.tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, ok := a.sessions.Confirm(r.Context(), token)
		if !ok {
			a.limiter.recordFailure(ip)
			a.audit.logFailure(AuditSessionRejected, r, "invalid session")
			if source == authFromCookie {
				a.clearSessionCookie(w, r)
			}
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		a.limiter.recordSuccess(ip)

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, authSourceKey, source)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIssuer rejects requests that do not present the configured issuer
// key. Without a configured key the issuer routes are disabled and every
// request gets 403.
func (a *API) RequireIssuer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.issuerKey) == 0 {
			a.audit.logFailure(AuditIssuerRejected, r, "no issuer key configured")
			writeError(w, http.StatusForbidden, "session issuance is disabled")
			return
		}
		presented := r.Header.Get(issuerKeyHeader)
		if subtle.ConstantTimeCompare([]byte(presented), a.issuerKey) != 1 {
			a.audit.logFailure(AuditIssuerRejected, r, "invalid issuer key")
			writeError(w, http.StatusUnauthorized, "invalid issuer key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestID tags each request with an id, reusing a well-formed incoming
// X-Request-ID header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !uuid.Valid(id) {
			id = uuid.New()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the user id stored by RequireSession.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// RequestIDFromContext returns the id stored by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func authSourceFromContext(ctx context.Context) authSource {
	s, _ := ctx.Value(authSourceKey).(authSource)
	return s
}

// tokenFromRequest prefers the bearer header over the cookie.
func (a *API) tokenFromRequest(r *http.Request) (string, authSource) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token), authFromBearer
		}
	}
	if c, err := r.Cookie(a.cookie.Name); err == nil && c.Value != "" {
		return c.Value, authFromCookie
	}
	return "", 0
}

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	c := &http.Cookie{
		Name:     a.cookie.Name,
		Value:    token,
		Path:     a.cookie.Path,
		Domain:   a.cookie.Domain,
		HttpOnly: true,
		Secure:   a.cookie.Secure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if !expiresAt.IsZero() {
		c.Expires = expiresAt
	}
	http.SetCookie(w, c)
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookie.Name,
		Value:    "",
		Path:     a.cookie.Path,
		Domain:   a.cookie.Domain,
		HttpOnly: true,
		Secure:   a.cookie.Secure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func userAttr(userID string) slog.Attr {
	return slog.String("user_id", userID)
}
