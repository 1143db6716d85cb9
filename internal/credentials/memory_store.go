package credentials

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/billflow/internal/providers"
)

// MemoryStore is an in-memory credential store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	creds    map[string]*Credential // accountID/provider
	settings map[string]*Settings
}

// NewMemoryStore creates a new in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds:    make(map[string]*Credential),
		settings: make(map[string]*Settings),
	}
}

func credKey(accountID string, provider providers.Provider) string {
	return accountID + "/" + string(provider)
}

func (m *MemoryStore) Save(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.creds[credKey(c.AccountID, c.Provider)] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, accountID string, provider providers.Provider) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.creds[credKey(accountID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string) ([]*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Credential
	for _, c := range m.creds {
		if c.AccountID == accountID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) GetSettings(ctx context.Context, accountID string) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[accountID]
	if !ok {
		return &Settings{AccountID: accountID}, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SaveSettings(ctx context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.settings[s.AccountID] = &cp
	return nil
}
