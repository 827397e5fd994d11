package database

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"
)

// DefaultSessionKey names the session row or key when none is configured
const DefaultSessionKey = "default"

// DefaultListLimit caps ListTransfers when no limit is given
const DefaultListLimit = 50

// Transfer is one balance transfer made through the service
type Transfer struct {
	ID        int64     `json:"id"`
	Network   string    `json:"network"`
	Signer    string    `json:"signer"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    *big.Int  `json:"amount"`
	TxHash    string    `json:"tx_hash,omitempty"`
	BlockHash string    `json:"block_hash,omitempty"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
// TransferLog records transfers made through the service
type TransferLog interface {
	RecordTransfer(ctx context.Context, t *Transfer) error
	ListTransfers(ctx context.Context, limit int) ([]Transfer, error)
}

// MemoryTransferLog keeps transfers in memory. Used when Postgres is not configured.
type MemoryTransferLog struct {
	mu        sync.Mutex
	nextID    int64
	transfers map[int64]Transfer
}

// NewMemoryTransferLog creates an empty log
func NewMemoryTransferLog() *MemoryTransferLog {
	return &MemoryTransferLog{transfers: make(map[int64]Transfer)}
}

func (l *MemoryTransferLog) RecordTransfer(_ context.Context, t *Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if t.ID == 0 {
		l.nextID++
		t.ID = l.nextID
		t.CreatedAt = now
	} else if prev, ok := l.transfers[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		return fmt.Errorf("transfer %d not found", t.ID)
	}
	t.UpdatedAt = now

	stored := *t
	if t.Amount != nil {
		stored.Amount = new(big.Int).Set(t.Amount)
	}
	l.transfers[t.ID] = stored
	return nil
}

func (l *MemoryTransferLog) ListTransfers(_ context.Context, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.Lock()
	out := make([]Transfer, 0, len(l.transfers))
	for _, t := range l.transfers {
		out = append(out, t)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
