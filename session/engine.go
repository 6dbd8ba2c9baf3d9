// Package session issues and validates opaque cookie tokens.
//
// A token is the AES-256-CBC encoding of "userID|hash", where hash is a
// salted hash of a random per-session secret. The server keeps only the
// secret's encrypted form (the verifier) in an in-memory cache, optionally
// mirrored to a durable storage.Store so sessions survive restarts.
//
// An Engine must be initialized with Init before Create or Confirm are used.
// Issuing a new token for a user invalidates every earlier token for that
// user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/sealedsession/crypto"
	"github.com/jmcleod/sealedsession/internal/util"
	"github.com/jmcleod/sealedsession/storage"
	"github.com/jmcleod/sealedsession/storage/memory"
)

// PayloadSeparator separates the user id from the hash inside a token.
const PayloadSeparator = "|"

const (
	defaultSecretSize = 32
	minSecretSize     = 16
	maxSecretSize     = 36
)

type engineState int

const (
	stateNew engineState = iota
	stateReady
	stateFailed
)

// Engine issues and confirms cookie tokens for one master secret.
type Engine struct {
	key        *memguard.Enclave
	store      storage.Store
	cache      *Cache
	locks      *keyedMutex
	hasher     crypto.Hasher
	logger     *slog.Logger
	now        func() time.Time
	secretSize int

	stateMu sync.RWMutex
	state   engineState

	janitorOnce sync.Once
	stopOnce    sync.Once
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New returns an engine for masterSecret backed by store. A nil store
// keeps sessions in memory only. The master secret itself is not retained;
// only its derived key is kept, sealed in a memguard enclave.
func New(masterSecret []byte, store storage.Store, opts ...Option) (*Engine, error) {
	if len(masterSecret) == 0 {
		return nil, ErrEmptySecret
	}
	if store == nil {
		store = memory.New()
	}
	e := &Engine{
		store:      store,
		cache:      newCache(),
		locks:      newKeyedMutex(),
		hasher:     crypto.BcryptHasher{Cost: crypto.DefaultBcryptCost},
		logger:     slog.Default(),
		now:        time.Now,
		secretSize: defaultSecretSize,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.secretSize < minSecretSize || e.secretSize > maxSecretSize {
		return nil, fmt.Errorf("secret size %d out of range [%d, %d]", e.secretSize, minSecretSize, maxSecretSize)
	}
	e.logger = e.logger.With("component", "session")
	e.key = memguard.NewEnclave(crypto.DeriveKey(masterSecret))
	return e, nil
}

// Init ensures the store schema and loads every stored session into the
// cache. It must succeed before the engine is used. A failed Init is
// terminal: later calls return ErrInitFailed and the engine rejects all
// work. Calling Init on a ready engine is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	switch e.state {
	case stateReady:
		return nil
	case stateFailed:
		return ErrInitFailed
	}

	if err := e.load(ctx); err != nil {
		e.state = stateFailed
		e.logger.Error("session engine unusable", "error", err)
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	e.state = stateReady
	e.logger.Info("session engine ready", "sessions", e.cache.len())
	return nil
}

func (e *Engine) load(ctx context.Context) error {
	if err := e.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	rows, err := e.store.SelectAll(ctx)
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	records := make(map[string]Record, len(rows))
	for _, row := range rows {
		if row.UserID == "" || !crypto.WellFormed(row.Verifier) {
			e.logger.Warn("dropping malformed session row", slog.String("user_id", row.UserID))
			if row.UserID != "" {
				if err := e.store.Delete(ctx, row.UserID); err != nil {
					e.logger.Warn("removing malformed session row", slog.String("user_id", row.UserID), "error", err)
				}
			}
			continue
		}
		records[row.UserID] = recordFromRow(row)
	}
	e.cache.replace(records)
	return nil
}

func (e *Engine) ready() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state == stateReady
}

// ValidateUserID reports whether userID can be bound to a token.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if strings.Contains(userID, PayloadSeparator) {
		return fmt.Errorf("%w: contains %q", ErrInvalidUserID, PayloadSeparator)
	}
	return nil
}

// Create starts a new session for userID and returns its cookie token.
// Any earlier session of the same user is replaced, so tokens issued before
// stop confirming. When persistence is on (the default) the record is
// written to the store before Create returns. If that write fails the
// cache keeps the new record and the error is returned.
func (e *Engine) Create(ctx context.Context, userID string, opts ...CreateOption) (string, error) {
	o := createOptions{persist: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !e.ready() {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, ErrNotReady)
	}
	if err := ValidateUserID(userID); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	if o.maxAge < 0 {
		return "", fmt.Errorf("%w: %w: %s", ErrCreateFailed, ErrInvalidMaxAge, o.maxAge)
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	token, record, err := e.issue(userID, o.maxAge)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	e.cache.put(userID, record)

	if o.persist {
		err = storage.Upsert(ctx, e.store, record.row(userID))
	} else {
		// A stored row from an earlier persisted session would come back
		// on the next Init.
		err = e.store.Delete(ctx, userID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: storing session for %s: %w", ErrCreateFailed, userID, err)
	}

	e.logger.Debug("session created",
		slog.String("user_id", userID),
		slog.Bool("persist", o.persist),
		slog.Bool("expires", record.ExpiresEnabled))
	return token, nil
}

// issue generates the session secret and derives the record and token from
// it. The secret never leaves this function in plaintext.
func (e *Engine) issue(userID string, maxAge time.Duration) (string, Record, error) {
	secret, err := util.RandomHex(e.secretSize)
	if err != nil {
		return "", Record{}, err
	}
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		return "", Record{}, fmt.Errorf("hashing session secret: %w", err)
	}

	keyBuf, err := e.key.Open()
	if err != nil {
		return "", Record{}, fmt.Errorf("opening master key: %w", err)
	}
	defer keyBuf.Destroy()

	verifier, err := crypto.EncodeKey(secret, keyBuf.Bytes())
	if err != nil {
		return "", Record{}, fmt.Errorf("encrypting verifier: %w", err)
	}
	token, err := crypto.EncodeKey(userID+PayloadSeparator+hash, keyBuf.Bytes())
	if err != nil {
		return "", Record{}, fmt.Errorf("encrypting token: %w", err)
	}

	record := Record{Verifier: verifier}
	if maxAge > 0 {
		record.ExpiresEnabled = true
		record.ExpiresAtMillis = e.now().Add(maxAge).UnixMilli()
	}
	return token, record, nil
}

// Confirm returns the user id bound to token and true when the token
// belongs to the user's current session and that session has not expired.
// Every other outcome, including malformed input and an uninitialized
// engine, yields ("", false). An expired session is evicted from the cache
// and, best effort, from the store.
func (e *Engine) Confirm(ctx context.Context, token string) (string, bool) {
	userID, err := e.confirm(ctx, token)
	if err != nil {
		e.logger.Debug("token rejected", "reason", err)
		return "", false
	}
	return userID, true
}

func (e *Engine) confirm(ctx context.Context, token string) (string, error) {
	if !e.ready() {
		return "", ErrNotReady
	}

	keyBuf, err := e.key.Open()
	if err != nil {
		return "", err
	}
	defer keyBuf.Destroy()

	payload, err := crypto.DecodeKey(token, keyBuf.Bytes())
	if err != nil {
		return "", errMalformedToken
	}
	userID, hashClaim, ok := strings.Cut(payload, PayloadSeparator)
	if !ok || userID == "" || hashClaim == "" {
		return "", errMalformedToken
	}

	record, ok := e.cache.get(userID)
	if !ok {
		return "", errUnknownUser
	}
	secret, err := crypto.DecodeKey(record.Verifier, keyBuf.Bytes())
	if err != nil {
		return "", errBadVerifier
	}

	// The hash is checked before expiry so both rejections cost the same.
	matched := e.hasher.Verify(secret, hashClaim)

	if record.expired(e.now().UnixMilli()) {
		e.evict(ctx, userID, record)
		return "", errExpired
	}
	if !matched {
		return "", errHashMismatch
	}
	return userID, nil
}

// evict removes an expired record from the cache and the store, unless the
// user got a new session in the meantime. Store failures are logged only:
// the cache no longer holds the entry and a stale row is harmless.
func (e *Engine) evict(ctx context.Context, userID string, observed Record) bool {
	unlock := e.locks.Lock(userID)
	defer unlock()

	if !e.cache.deleteIf(userID, observed) {
		return false
	}
	if err := e.store.Delete(ctx, userID); err != nil {
		e.logger.Warn("deleting expired session row", slog.String("user_id", userID), "error", err)
	}
	e.logger.Debug("expired session evicted", slog.String("user_id", userID))
	return true
}

// Revoke ends the session of userID in the cache and the store. Revoking a
// user without a session is not an error.
func (e *Engine) Revoke(ctx context.Context, userID string) error {
	if !e.ready() {
		return fmt.Errorf("%w: %w", ErrRevokeFailed, ErrNotReady)
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	e.cache.delete(userID)
	if err := e.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRevokeFailed, userID, err)
	}
	return nil
}

// PurgeExpired evicts every expired session and returns how many were
// removed from the cache. Store failures are joined into the returned
// error; the affected entries are still gone from the cache.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrNotReady
	}
	var (
		n    int
		errs []error
	)
	for userID, observed := range e.cache.expired(e.now().UnixMilli()) {
		unlock := e.locks.Lock(userID)
		if e.cache.deleteIf(userID, observed) {
			n++
			if err := e.store.Delete(ctx, userID); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", userID, err))
			}
		}
		unlock()
	}
	return n, errors.Join(errs...)
}

// StartJanitor purges expired sessions every interval until Close. Only
// the first call starts the loop.
func (e *Engine) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.janitorOnce.Do(func() {
		e.wg.Add(1)
		go e.janitorLoop(interval)
	})
}

func (e *Engine) janitorLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			n, err := e.PurgeExpired(context.Background())
			if err != nil {
				e.logger.Warn("purging expired sessions", "error", err)
			}
			if n > 0 {
				e.logger.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// Close stops the janitor. It does not close the store, which belongs to
// the caller.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}

// Session returns the cached record for userID.
func (e *Engine) Session(userID string) (Record, bool) {
	return e.cache.get(userID)
}

// Len returns the number of cached sessions.
func (e *Engine) Len() int {
	return e.cache.len()
}
