package token

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process token store for tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]memoryToken
}

type memoryToken struct {
	scope   string
	expires time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]memoryToken)}
}

// Mint creates a token bound to scope.
func (s *MemoryStore) Mint(_ context.Context, scope string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.tokens[token] = memoryToken{scope: scope, expires: time.Now().Add(TTL)}
	return token, nil
}

// Consume burns the token and checks its scope.
func (s *MemoryStore) Consume(_ context.Context, scope, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tokens[token]
	if !ok {
		return false, nil
	}
	delete(s.tokens, token)
	if time.Now().After(stored.expires) {
		return false, nil
	}
	return stored.scope == scope, nil
}
