package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/sealedsession/session"
)

const maxBodyBytes = 1 << 16

// maxAgeSecondsLimit is the largest max_age_seconds that fits a
// time.Duration.
const maxAgeSecondsLimit = math.MaxInt64 / int64(time.Second)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (a *API) expiresAt(userID string) *time.Time {
	rec, ok := a.sessions.Session(userID)
	if !ok || !rec.ExpiresEnabled {
		return nil
	}
	t := rec.ExpiresAt().UTC()
	return &t
}

// CreateSession handles POST /sessions.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := session.ValidateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	maxAge := a.defaultMaxAge
	if req.MaxAgeSeconds != nil {
		if *req.MaxAgeSeconds < 0 {
			writeError(w, http.StatusBadRequest, "max_age_seconds must not be negative")
			return
		}
		if *req.MaxAgeSeconds > maxAgeSecondsLimit {
			writeError(w, http.StatusBadRequest, "max_age_seconds is too large")
			return
		}
		maxAge = time.Duration(*req.MaxAgeSeconds) * time.Second
	}
	persist := a.defaultPersist
	if req.Persist != nil {
		persist = *req.Persist
	}

	token, err := a.sessions.Create(r.Context(), req.UserID,
		session.WithMaxAge(maxAge),
		session.WithPersist(persist))
	if err != nil {
		a.audit.logFailure(AuditSessionCreateFailed, r, err.Error(), userAttr(req.UserID))
		mapError(w, err)
		return
	}

	resp := CreateSessionResponse{
		Token:     token,
		UserID:    req.UserID,
		ExpiresAt: a.expiresAt(req.UserID),
	}
	var cookieExpiry time.Time
	if resp.ExpiresAt != nil {
		cookieExpiry = *resp.ExpiresAt
	}
	a.writeSessionCookie(w, r, token, cookieExpiry)
	issueCSRFCookie(w, r)
	a.audit.logEvent(AuditSessionCreated, r, req.UserID,
		slog.Bool("persist", persist),
		slog.Bool("expires", resp.ExpiresAt != nil))
	writeJSON(w, http.StatusCreated, resp)
}

// ConfirmSession handles POST /sessions/confirm.
func (a *API) ConfirmSession(w http.ResponseWriter, r *http.Request) {
	ip := a.extractClientIP(r)
	if blocked, retryAfter := a.limiter.check(ip); blocked {
		a.audit.logFailure(AuditConfirmRateLimited, r, "too many rejected tokens")
		writeRateLimited(w, retryAfter)
		return
	}

	var req ConfirmSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, ok := a.sessions.Confirm(r.Context(), req.Token)
	if !ok {
		a.limiter.recordFailure(ip)
		a.audit.logFailure(AuditSessionRejected, r, "invalid token")
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	a.limiter.recordSuccess(ip)
	a.audit.logEvent(AuditSessionConfirmed, r, userID)
	writeJSON(w, http.StatusOK, SessionResponse{UserID: userID, ExpiresAt: a.expiresAt(userID)})
}

// CurrentSession handles GET /sessions/me.
func (a *API) CurrentSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{UserID: userID, ExpiresAt: a.expiresAt(userID)})
}

// Logout handles POST /sessions/logout. It ends the caller's session and
// clears the cookies.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.Revoke(r.Context(), userID); err != nil {
		mapError(w, err)
		return
	}
	a.clearSessionCookie(w, r)
	expireCSRFCookie(w, r)
	a.audit.logEvent(AuditSessionRevoked, r, userID, slog.String("via", "logout"))
	w.WriteHeader(http.StatusNoContent)
}

// RevokeSession handles DELETE /sessions/{userID}.
func (a *API) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := session.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if err := a.sessions.Revoke(r.Context(), userID); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditSessionRevoked, r, userID, slog.String("via", "issuer"))
	w.WriteHeader(http.StatusNoContent)
}
