package api

import "time"

// CreateSessionRequest is the JSON body for POST /sessions.
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
	// MaxAgeSeconds of zero means the session never expires. When absent
	// the server default applies.
	MaxAgeSeconds *int64 `json:"max_age_seconds,omitempty"`
	Persist       *bool  `json:"persist,omitempty"`
}

// CreateSessionResponse is returned from POST /sessions.
type CreateSessionResponse struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ConfirmSessionRequest is the JSON body for POST /sessions/confirm.
type ConfirmSessionRequest struct {
	Token string `json:"token"`
}

// SessionResponse identifies the user a token belongs to.
type SessionResponse struct {
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
}
