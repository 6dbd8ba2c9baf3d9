package session

import "errors"

var (
	// ErrInitFailed is returned by Init when the store cannot be prepared or
	// loaded. The engine stays unusable afterwards.
	ErrInitFailed = errors.New("session engine initialization failed")
	// ErrNotReady is returned by operations called before a successful Init.
	ErrNotReady = errors.New("session engine not initialized")
	// ErrCreateFailed wraps every failure of Create.
	ErrCreateFailed = errors.New("creating session token")
	// ErrRevokeFailed wraps store failures of Revoke.
	ErrRevokeFailed = errors.New("revoking session")
	// ErrInvalidUserID is returned for empty user ids and ids containing "|".
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidMaxAge is returned for negative max ages.
	ErrInvalidMaxAge = errors.New("invalid max age")
	// ErrEmptySecret is returned by New when no master secret is given.
	ErrEmptySecret = errors.New("empty master secret")
)

// Reasons a token is rejected. They never leave the package; Confirm
// collapses all of them into the same negative result.
var (
	errMalformedToken = errors.New("malformed token")
	errUnknownUser    = errors.New("no session for user")
	errBadVerifier    = errors.New("undecodable verifier")
	errHashMismatch   = errors.New("hash mismatch")
	errExpired        = errors.New("session expired")
)
