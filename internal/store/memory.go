package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/vecina/internal/domain"
)

// MemoryStore keeps transactions in process memory.
// Updates of one token are serialized by that token's mutex; different
// tokens never block each other.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	mu sync.Mutex
	tx *domain.Transaction
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

// GetTransaction returns a copy of the stored transaction.
func (s *MemoryStore) GetTransaction(ctx context.Context, token string) (*domain.Transaction, error) {
	e := s.entry(token)
	if e == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
	}
	return e.tx.Clone(), nil
}

// PutTransaction inserts or replaces a transaction.
func (s *MemoryStore) PutTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.Token == "" {
		return fmt.Errorf("%w: transaction token is required", domain.ErrInvalidInput)
	}

	// The entry is filled while the map lock is held so Sweep never sees
	// a published entry without its transaction.
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tx.Token]
	if !ok {
		s.entries[tx.Token] = &memEntry{tx: tx.Clone()}
		return nil
	}

	e.mu.Lock()
	e.tx = tx.Clone()
	e.mu.Unlock()
	return nil
}

// UpdateTransaction applies fn to a copy under the token's lock and stores
// the copy only if fn succeeds.
func (s *MemoryStore) UpdateTransaction(ctx context.Context, token string, fn domain.UpdateFunc) (*domain.Transaction, error) {
	e := s.entry(token)
	if e == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, token)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next := e.tx.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = e.tx.Version + 1
	e.tx = next

	return next.Clone(), nil
}

// Len returns the number of stored transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops transactions that expired before cutoff and returns how many
// were removed. Lock order is the map lock, then the entry lock.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, e := range s.entries {
		e.mu.Lock()
		if e.tx != nil && e.tx.ExpiresAt.Before(cutoff) {
			e.tx = nil
			delete(s.entries, token)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

func (s *MemoryStore) entry(token string) *memEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[token]
}
