package controller

import (
	"time"

	"dotbeacon/internal/substrate"
)

// Event types
const (
	EventStatus      = "status"
	EventNetwork     = "network"
	EventSigners     = "signers"
	EventTransaction = "transaction"
)

// Event is a state change pushed to UI subscribers
type Event struct {
	Type    string              `json:"type"`
	Status  string              `json:"status,omitempty"`
	Network string              `json:"network,omitempty"`
	Signer  string              `json:"signer,omitempty"`
	Tx      *substrate.TxStatus `json:"tx,omitempty"`
	Time    time.Time           `json:"time"`
}

// Publisher receives controller events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(e Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
