package pairing

import (
	"errors"
	"fmt"

	"dotbeacon/internal/protocol"
)

var (
	// ErrPairingUnavailable means no paired wallet session can serve the request
	ErrPairingUnavailable = errors.New("pairing unavailable")
	// ErrUserRejected means the wallet holder declined the request
	ErrUserRejected = errors.New("request rejected by wallet")
	// ErrTransportFailure means the relay to the wallet could not deliver a reply
	ErrTransportFailure = errors.New("pairing transport failure")
	// ErrIncompatibleWallet means the wallet speaks an older protocol version
	ErrIncompatibleWallet = errors.New("incompatible wallet protocol version")
)

// walletError turns an error reply into one of the package sentinels
func walletError(payload *protocol.ErrorPayload) error {
	if payload == nil {
		return fmt.Errorf("wallet replied with an empty error")
	}
	switch payload.Type {
	case protocol.ErrorTypeAborted:
		return fmt.Errorf("%w: %s", ErrUserRejected, payload.Error())
	case protocol.ErrorTypeNotGranted, protocol.ErrorTypeNoActiveAccount:
		return fmt.Errorf("%w: %s", ErrPairingUnavailable, payload.Error())
	default:
		return fmt.Errorf("wallet error: %s", payload.Error())
	}
}

// Outcome classifies a request result for metrics and logs
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUserRejected):
		return "rejected"
	case errors.Is(err, ErrPairingUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTransportFailure):
		return "transport"
	default:
		return "error"
	}
}
