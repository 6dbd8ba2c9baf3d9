package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/jmcleod/sealedsession/internal/uuid"
)

// Double-submit pair: the browser echoes the cookie value in the header.
const (
	csrfCookieName = "sealedsession_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

// RequireCSRF rejects state-changing requests that authenticated with the
// session cookie unless the X-CSRF-Token header repeats the CSRF cookie.
// Mount it after RequireSession, which records how the caller authenticated.
func (a *API) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if csrfExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		if msg := checkCSRF(r); msg != "" {
			writeError(w, http.StatusForbidden, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfExempt reports whether r needs no token: read-only methods, and
// bearer-authenticated calls, which a foreign page cannot forge.
func csrfExempt(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return authSourceFromContext(r.Context()) != authFromCookie
}

// checkCSRF returns the rejection message, or "" when the pair matches.
func checkCSRF(r *http.Request) string {
	c, err := r.Cookie(csrfCookieName)
	if err != nil || c.Value == "" {
		return "missing CSRF token"
	}
	sent := r.Header.Get(csrfHeaderName)
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(sent)) != 1 {
		return "invalid CSRF token"
	}
	return ""
}

// csrfCookie builds the cookie with the given value. Scripts must be able
// to read it, so HttpOnly stays off.
func csrfCookie(r *http.Request, value string) *http.Cookie {
	return &http.Cookie{
		Name:     csrfCookieName,
		Value:    value,
		Path:     "/",
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
}

// issueCSRFCookie hands out a fresh token alongside a new session cookie.
func issueCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, csrfCookie(r, uuid.New()))
}

func expireCSRFCookie(w http.ResponseWriter, r *http.Request) {
	c := csrfCookie(r, "")
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}
