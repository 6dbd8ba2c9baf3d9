// Package storage provides the durable session table behind the session
// engine. Backends live in the memory, bbolt, postgres and redis
// subpackages.
package storage

import (
	"context"
	"fmt"
)

// Row is one persisted session, keyed by UserID.
type Row struct {
	UserID          string `json:"user_id"`
	Verifier        string `json:"verifier"`
	ExpiresEnabled  bool   `json:"expires_enabled"`
	ExpiresAtMillis int64  `json:"expires_at_millis"`
}

// Store is a durable keyed table of session rows with exact-key lookup.
type Store interface {
	// EnsureSchema creates whatever the backend needs (tables, buckets).
	// It is safe to call on every startup.
	EnsureSchema(ctx context.Context) error
	// SelectAll returns every stored row. A row whose encoding cannot be
	// decoded is returned with only its UserID set, so the caller can drop
	// it.
	SelectAll(ctx context.Context) ([]Row, error)
	// Exists reports whether a row for userID is stored.
	Exists(ctx context.Context, userID string) (bool, error)
	// Insert adds a new row. It returns ErrAlreadyExists if one is present.
	Insert(ctx context.Context, row Row) error
	// Update replaces an existing row. It returns ErrNotFound if none is present.
	Update(ctx context.Context, row Row) error
	// Delete removes the row for userID. Deleting an absent row is not an error.
	Delete(ctx context.Context, userID string) error
	// Close releases the backend's resources.
	Close() error
}

// Validate checks the fields every backend requires.
func (r Row) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("row: %w", ErrEmptyUserID)
	}
	if !r.ExpiresEnabled && r.ExpiresAtMillis != 0 {
		return fmt.Errorf("row %s: expiry timestamp set without expiry enabled", r.UserID)
	}
	return nil
}

// Upsert writes row, updating an existing entry or inserting a new one.
func Upsert(ctx context.Context, s Store, row Row) error {
	exists, err := s.Exists(ctx, row.UserID)
	if err != nil {
		return fmt.Errorf("checking existing row: %w", err)
	}
	if exists {
		return s.Update(ctx, row)
	}
	return s.Insert(ctx, row)
}
