package peer

import (
	"sync"
	"time"
)

const (
	// DefaultMaxDenials is the number of denied requests before a dApp is greylisted
	DefaultMaxDenials       = 5
	DefaultGreylistDuration = 1 * time.Hour
	// DefaultBlockThreshold is the number of greylistings before a dApp is blocked for good
	DefaultBlockThreshold = 3
)

// SenderStatus tracks denied requests from one dApp sender ID
type SenderStatus struct {
	SenderID      string    `json:"sender_id"`
	Denials       int       `json:"denials"`
	FirstDenial   time.Time `json:"first_denial"`
	LastDenial    time.Time `json:"last_denial"`
	GreylistCount int       `json:"greylist_count"`
	BlockedAt     time.Time `json:"blocked_at,omitempty"`
}

// Blocklist refuses dApps whose requests keep getting denied. Greylisted
// senders are refused until the greylist duration passes; blocked senders
// until Unblock.
type Blocklist struct {
	mu       sync.Mutex
	greylist map[string]SenderStatus
	blocked  map[string]SenderStatus

	maxDenials       int
	greylistDuration time.Duration
	blockThreshold   int
	now              func() time.Time
}

// NewBlocklist creates a blocklist with the default thresholds
func NewBlocklist() *Blocklist {
	return &Blocklist{
		greylist:         make(map[string]SenderStatus),
		blocked:          make(map[string]SenderStatus),
		maxDenials:       DefaultMaxDenials,
		greylistDuration: DefaultGreylistDuration,
		blockThreshold:   DefaultBlockThreshold,
		now:              time.Now,
	}
}

// RecordDenial counts a denied request from sender
func (b *Blocklist) RecordDenial(sender string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, blocked := b.blocked[sender]; blocked {
		return
	}

	now := b.now()
	status, exists := b.greylist[sender]
	if !exists {
		status = SenderStatus{SenderID: sender, FirstDenial: now}
	}
	status.Denials++
	status.LastDenial = now

	if status.Denials >= b.maxDenials {
		status.GreylistCount++
		if status.GreylistCount >= b.blockThreshold {
			status.BlockedAt = now
			b.blocked[sender] = status
			delete(b.greylist, sender)
			return
		}
		status.Denials = 0
	}
	b.greylist[sender] = status
}

// IsBlocked reports whether requests from sender are refused
func (b *Blocklist) IsBlocked(sender string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, blocked := b.blocked[sender]; blocked {
		return true
	}
	status, ok := b.greylist[sender]
	if !ok || status.GreylistCount == 0 {
		return false
	}
	if b.now().Sub(status.LastDenial) > b.greylistDuration {
		delete(b.greylist, sender)
		return false
	}
	return true
}

// Unblock forgets everything recorded for sender
func (b *Blocklist) Unblock(sender string) {
	b.mu.Lock()
	delete(b.greylist, sender)
	delete(b.blocked, sender)
	b.mu.Unlock()
}

// Blocked returns the permanently blocked senders
func (b *Blocklist) Blocked() []SenderStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SenderStatus, 0, len(b.blocked))
	for _, status := range b.blocked {
		out = append(out, status)
	}
	return out
}

// Cleanup removes expired greylist entries
func (b *Blocklist) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for sender, status := range b.greylist {
		if now.Sub(status.LastDenial) > b.greylistDuration {
			delete(b.greylist, sender)
		}
	}
}
