// Package redis provides a Redis-backed session store. All rows live in a
// single hash whose fields are user ids and whose values are JSON rows.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/sealedsession/storage"
)

// DefaultKey is the hash key rows are stored under unless overridden.
const DefaultKey = "sealedsession:sessions"

// updateScript replaces a field only if it already exists.
var updateScript = goredis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// Store implements storage.Store on top of a Redis hash.
type Store struct {
	client goredis.UniversalClient
	key    string
	owned  bool
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the hash key.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// New returns a Store using client. The caller keeps ownership of client;
// Close does not close it.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, key: DefaultKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromOptions dials a client from options. Close closes that client.
func NewFromOptions(options *goredis.Options, opts ...Option) *Store {
	s := New(goredis.NewClient(options), opts...)
	s.owned = true
	return s
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// EnsureSchema only checks connectivity; a Redis hash needs no setup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

func (s *Store) SelectAll(ctx context.Context) ([]storage.Row, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session hash: %w", err)
	}
	rows := make([]storage.Row, 0, len(values))
	for userID, raw := range values {
		var row storage.Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			row = storage.Row{}
		}
		row.UserID = userID
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("checking session field: %w", err)
	}
	return ok, nil
}

func (s *Store) Insert(ctx context.Context, row storage.Row) error {
	data, err := encode(row)
	if err != nil {
		return err
	}
	set, err := s.client.HSetNX(ctx, s.key, row.UserID, data).Result()
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	if !set {
		return fmt.Errorf("%s: %w", row.UserID, storage.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, row storage.Row) error {
	data, err := encode(row)
	if err != nil {
		return err
	}
	n, err := updateScript.Run(ctx, s.client, []string{s.key}, row.UserID, data).Int64()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", row.UserID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.client.HDel(ctx, s.key, userID).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func encode(row storage.Row) (string, error) {
	if err := row.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encoding row: %w", err)
	}
	return string(data), nil
}
