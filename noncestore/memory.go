package noncestore

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store. Suitable for single-instance
// deployments and tests; use SQLStore when reservations must survive
// restarts or be shared across instances.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[string]struct{})}
}

func (s *MemoryStore) TryReserve(_ context.Context, signer, nonce string) (bool, error) {
	key := reservationKey(signer, nonce)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.used[key]; ok {
		return false, nil
	}
	s.used[key] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, signer, nonce string) error {
	key := reservationKey(signer, nonce)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.used, key)
	return nil
}

// Len reports the number of reserved pairs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}

// reservationKey normalizes addresses and nonces so that differently-cased
// submissions of the same pair collide.
func reservationKey(signer, nonce string) string {
	return strings.ToLower(signer) + "|" + strings.ToLower(nonce)
}
