// Package bbolt provides a BBolt-backed session store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sealedsession/storage"
)

// DefaultBucket is the bucket rows are stored in unless overridden.
const DefaultBucket = "sessions"

// Store implements storage.Store backed by a BBolt database. Each row is a
// JSON value keyed by user id.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBucket overrides the bucket name.
func WithBucket(name string) Option {
	return func(s *Store) {
		s.bucket = []byte(name)
	}
}

// New returns a Store backed by the given BBolt database.
func New(db *bbolt.DB, opts ...Option) *Store {
	s := &Store{db: db, bucket: []byte(DefaultBucket)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromFile opens a BBolt database at the given path and returns a new Store.
func NewFromFile(path string, options *bbolt.Options, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db, opts...), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
}

func (s *Store) getBucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket(s.bucket)
	if b == nil {
		return nil, fmt.Errorf("bucket %q missing; EnsureSchema has not run", s.bucket)
	}
	return b, nil
}

func (s *Store) SelectAll(ctx context.Context) ([]storage.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []storage.Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var row storage.Row
			if err := json.Unmarshal(v, &row); err != nil {
				row = storage.Row{}
			}
			row.UserID = string(k)
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx)
		if err != nil {
			return err
		}
		ok = b.Get([]byte(userID)) != nil
		return nil
	})
	return ok, err
}

func (s *Store) Insert(ctx context.Context, row storage.Row) error {
	return s.put(ctx, row, false)
}

func (s *Store) Update(ctx context.Context, row storage.Row) error {
	return s.put(ctx, row, true)
}

// put writes row. When mustExist is true the row has to be present already,
// otherwise it must be absent.
func (s *Store) put(ctx context.Context, row storage.Row, mustExist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := row.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx)
		if err != nil {
			return err
		}
		key := []byte(row.UserID)
		exists := b.Get(key) != nil
		switch {
		case mustExist && !exists:
			return fmt.Errorf("%s: %w", row.UserID, storage.ErrNotFound)
		case !mustExist && exists:
			return fmt.Errorf("%s: %w", row.UserID, storage.ErrAlreadyExists)
		}
		return b.Put(key, data)
	})
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.getBucket(tx)
		if err != nil {
			return err
		}
		return b.Delete([]byte(userID))
	})
}
