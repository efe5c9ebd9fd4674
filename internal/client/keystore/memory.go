package keystore

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/clinicvault/internal/common"
)

// MemoryStore keeps handles for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]map[string]*KeyHandle
	order map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]map[string]*KeyHandle),
		order: make(map[string][]string),
	}
}

func (s *MemoryStore) Store(_ context.Context, userID string, h *KeyHandle) error {
	if h == nil || h.Key == nil || h.KeyID == "" {
		return errors.New("keystore: incomplete key handle")
	}
	u := normalizeUser(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	handles, ok := s.users[u]
	if !ok {
		handles = make(map[string]*KeyHandle)
		s.users[u] = handles
	}
	if _, exists := handles[h.KeyID]; !exists {
		s.order[u] = append(s.order[u], h.KeyID)
	}
	handles[h.KeyID] = h
	return nil
}

func (s *MemoryStore) Has(_ context.Context, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[normalizeUser(userID)]) > 0
}

// Get returns handles in insertion order.
func (s *MemoryStore) Get(_ context.Context, userID string) ([]*KeyHandle, error) {
	u := normalizeUser(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := s.users[u]
	if len(handles) == 0 {
		return nil, common.ErrKeyAbsent
	}
	out := make([]*KeyHandle, 0, len(handles))
	for _, id := range s.order[u] {
		out = append(out, handles[id])
	}
	return out, nil
}

func (s *MemoryStore) Lookup(_ context.Context, userID, keyID string) (*KeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.users[normalizeUser(userID)][keyID]
	if !ok {
		return nil, common.ErrKeyAbsent
	}
	return h, nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, keyID string) error {
	u := normalizeUser(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.users[u][keyID]
	if !ok {
		return nil
	}
	h.Key.Wipe()
	delete(s.users[u], keyID)

	kept := s.order[u][:0]
	for _, id := range s.order[u] {
		if id != keyID {
			kept = append(kept, id)
		}
	}
	s.order[u] = kept
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	u := normalizeUser(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.users[u] {
		h.Key.Wipe()
	}
	delete(s.users, u)
	delete(s.order, u)
	return nil
}
