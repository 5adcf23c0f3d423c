package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]int64
	entries  []Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]int64)}
}

func (s *MemoryStore) LoadAccounts(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.accounts))
	for id, bal := range s.accounts {
		out[id] = bal
	}
	return out, nil
}

func (s *MemoryStore) SaveBalance(_ context.Context, accountID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[accountID] = balance
	return nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) Entries(_ context.Context, accountID string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].AccountID == accountID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
