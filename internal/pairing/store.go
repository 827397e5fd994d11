package pairing

import (
	"context"
	"sync"
	"time"
)

// AccountInfo is the wallet account shared with the dApp by a permission response
type AccountInfo struct {
	PublicKey     string    `json:"public_key"`
	Address       string    `json:"address,omitempty"`
	Network       string    `json:"network,omitempty"`
	Scopes        []string  `json:"scopes"`
	WalletName    string    `json:"wallet_name,omitempty"`
	WalletVersion string    `json:"wallet_version"`
	ConnectedAt   time.Time `json:"connected_at"`
}

// SessionStore persists the active account across restarts.
// Load returns nil, nil when there is no active account.
type SessionStore interface {
	Load(ctx context.Context) (*AccountInfo, error)
	Save(ctx context.Context, account *AccountInfo) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore keeps the session for the lifetime of the process
type MemoryStore struct {
	mu      sync.RWMutex
	account *AccountInfo
}

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return nil, nil
	}
	account := *s.account
	return &account, nil
}

func (s *MemoryStore) Save(_ context.Context, account *AccountInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *account
	s.account = &stored
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = nil
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
