package signer

import (
	"context"

	"dotbeacon/internal/pairing"
)

// PayloadRequester is the part of the pairing client a PairingSigner needs
type PayloadRequester interface {
	RequestSignPayload(ctx context.Context, req pairing.SignPayloadRequest) (*pairing.SignPayloadResponse, error)
}

// PairingSigner signs by relaying each request to a paired wallet. It keeps no
// state between calls and returns pairing errors as they are.
type PairingSigner struct {
	client PayloadRequester
}

// NewPairingSigner creates a signer backed by client
func NewPairingSigner(client PayloadRequester) *PairingSigner {
	return &PairingSigner{client: client}
}

// SignRaw blocks until the wallet answers or ctx is done. The result ID is
// always 0.
func (s *PairingSigner) SignRaw(ctx context.Context, payload PayloadRaw) (*Result, error) {
	if payload.Data == "" {
		return nil, ErrEmptyPayload
	}

	resp, err := s.client.RequestSignPayload(ctx, pairing.SignPayloadRequest{
		Payload:       payload.Data,
		SourceAddress: payload.Address,
	})
	if err != nil {
		return nil, err
	}

	return &Result{ID: 0, Signature: resp.Signature}, nil
}
