package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

// MemoryStore is an in-memory implementation of the NonceStore interface
type MemoryStore struct {
	nonces map[string]time.Time
	mu     sync.Mutex
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.NonceStore {
	return &MemoryStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Put records an issued nonce
func (s *MemoryStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	if expiry, exists := s.nonces[nonce]; exists && now.Before(expiry) {
		return errors.New("nonce already issued")
	}
	s.nonces[nonce] = now.Add(ttl)

	return nil
}

// Consume removes a nonce, succeeding only once per issued nonce
func (s *MemoryStore) Consume(ctx context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.nonces[nonce]
	if !exists {
		return core.ErrInvalidNonce
	}
	delete(s.nonces, nonce)

	if !s.now().Before(expiry) {
		return core.ErrInvalidNonce
	}

	return nil
}

// sweep drops expired entries; callers hold mu.
func (s *MemoryStore) sweep(now time.Time) {
	for nonce, expiry := range s.nonces {
		if !now.Before(expiry) {
			delete(s.nonces, nonce)
		}
	}
}
