// Package signer defines the signing capability handed to the chain client and
// its implementations: remote signing through a paired wallet and local
// signing with a keyring.
package signer

import (
	"context"
	"errors"
)

// ErrEmptyPayload is returned for a sign request without data
var ErrEmptyPayload = errors.New("empty signing payload")

// PayloadRaw is a raw payload to sign. Data is opaque hex produced by the chain
// client and is never interpreted by a signer.
type PayloadRaw struct {
	Address string `json:"address"`
	Data    string `json:"data"`
	Type    string `json:"type,omitempty"`
}

// Result is a signature with the signer's correlation ID
type Result struct {
	ID        int    `json:"id"`
	Signature string `json:"signature"`
}

// Signer produces a signature for a raw payload
type Signer interface {
	SignRaw(ctx context.Context, payload PayloadRaw) (*Result, error)
}

// Func adapts a function to Signer
type Func func(ctx context.Context, payload PayloadRaw) (*Result, error)

func (f Func) SignRaw(ctx context.Context, payload PayloadRaw) (*Result, error) {
	return f(ctx, payload)
}
