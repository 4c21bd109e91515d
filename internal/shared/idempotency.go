package shared

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict reports a key that was already used within its module.
var ErrIdempotencyConflict = &ConflictError{Message: "idempotent request already processed"}

var errIdempotencyKey = errors.New("idempotency key and module are required")

// IdempotencyStore records request keys in idempotency_keys. Keys are unique
// per module.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// CheckAndInsert claims key for module, failing with ErrIdempotencyConflict
// when the key is already claimed.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if key == "" || module == "" {
		return errIdempotencyKey
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (module, key, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (module, key) DO NOTHING`, module, key, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release frees a claimed key so a failed request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, key, module string) error {
	if key == "" || module == "" {
		return errIdempotencyKey
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE module = $1 AND key = $2`, module, key)
	return err
}

// Purge removes keys claimed more than olderThan ago and returns how many
// were removed.
func (s *IdempotencyStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type idempotencyKey struct {
	module string
	key    string
}

// MemoryIdempotencyStore keeps claimed keys in process memory.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[idempotencyKey]time.Time
	now  func() time.Time
}

// NewMemoryIdempotencyStore constructs an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{keys: make(map[idempotencyKey]time.Time), now: time.Now}
}

func (s *MemoryIdempotencyStore) CheckAndInsert(_ context.Context, key, module string) error {
	if key == "" || module == "" {
		return errIdempotencyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempotencyKey{module: module, key: key}
	if _, ok := s.keys[k]; ok {
		return ErrIdempotencyConflict
	}
	s.keys[k] = s.now()
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key, module string) error {
	if key == "" || module == "" {
		return errIdempotencyKey
	}
	s.mu.Lock()
	delete(s.keys, idempotencyKey{module: module, key: key})
	s.mu.Unlock()
	return nil
}

func (s *MemoryIdempotencyStore) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var n int64
	for k, at := range s.keys {
		if at.Before(cutoff) {
			delete(s.keys, k)
			n++
		}
	}
	return n, nil
}
