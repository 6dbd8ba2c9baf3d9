// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmcleod/sealedsession/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// Suitable for testing, demos, and single-process use cases; rows do not
// survive a restart.
type Store struct {
	mu   sync.RWMutex
	rows map[string]storage.Row
}

var _ storage.Store = (*Store)(nil)

// New creates a new empty in-memory Store.
func New() *Store {
	return &Store{rows: make(map[string]storage.Row)}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return ctx.Err()
}

// SelectAll returns rows ordered by user id.
func (s *Store) SelectAll(ctx context.Context) ([]storage.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]storage.Row, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows, nil
}

func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[userID]
	return ok, nil
}

func (s *Store) Insert(ctx context.Context, row storage.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.UserID]; ok {
		return fmt.Errorf("%s: %w", row.UserID, storage.ErrAlreadyExists)
	}
	s.rows[row.UserID] = row
	return nil
}

func (s *Store) Update(ctx context.Context, row storage.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.UserID]; !ok {
		return fmt.Errorf("%s: %w", row.UserID, storage.ErrNotFound)
	}
	s.rows[row.UserID] = row
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID)
	return nil
}

func (s *Store) Close() error {
	return nil
}
