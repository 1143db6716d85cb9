package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps keys in process, indexed by hash for validation.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*APIKey
	byHash map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*APIKey),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	cp := *key
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = &cp
	s.byHash[cp.Hash] = cp.ID
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[s.byHash[hash]]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) GetByAccount(_ context.Context, accountID string) ([]*APIKey, error) {
	s.mu.RLock()
	var out []*APIKey
	for _, k := range s.byID {
		if k.AccountID == accountID {
			cp := *k
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Touch(_ context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	k.LastUsed = at
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, accountID, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[keyID]
	if !ok || k.AccountID != accountID {
		return ErrKeyNotFound
	}
	k.Revoked = true
	return nil
}
