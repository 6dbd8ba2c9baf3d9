package storage

import "errors"

var (
	// ErrNotFound is returned when no row exists for the requested user.
	ErrNotFound = errors.New("session row not found")
	// ErrAlreadyExists is returned by Insert when a row is already stored.
	ErrAlreadyExists = errors.New("session row already exists")
	// ErrEmptyUserID is returned for rows without a user id.
	ErrEmptyUserID = errors.New("empty user id")
)
