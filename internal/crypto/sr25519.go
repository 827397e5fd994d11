// Package crypto verifies sr25519 signatures produced by Substrate wallets.
package crypto

import (
	"errors"
	"fmt"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/gtank/merlin"
	"golang.org/x/crypto/blake2b"
)

// SigningContext is the schnorrkel context Substrate keyrings sign under
const SigningContext = "substrate"

// MaxUnhashedPayload is the longest payload signed as-is. Longer payloads are
// signed over their blake2b-256 hash.
const MaxUnhashedPayload = 256

// MultiSignature variant bytes
const (
	VariantEd25519 byte = 0x00
	VariantSr25519 byte = 0x01
	VariantEcdsa   byte = 0x02
)

var (
	ErrInvalidSignature = errors.New("invalid signature encoding")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrUnsupportedCurve = errors.New("unsupported signature curve")
)

// SigningMessage returns the bytes a wallet actually signs for payload
func SigningMessage(payload []byte) []byte {
	if len(payload) > MaxUnhashedPayload {
		h := blake2b.Sum256(payload)
		return h[:]
	}
	return payload
}

// Sr25519Signature extracts the raw 64-byte signature from sig. It accepts a bare
// signature, a MultiSignature (variant byte then signature) and the same
// with a leading Option byte as some wallets send it.
func Sr25519Signature(sig []byte) ([64]byte, error) {
	var out [64]byte
	switch len(sig) {
	case 64:
	case 65:
		if sig[0] != VariantSr25519 {
			return out, fmt.Errorf("%w: variant %d", ErrUnsupportedCurve, sig[0])
		}
		sig = sig[1:]
	case 66:
		if sig[0] != 0x01 || sig[1] != VariantSr25519 {
			return out, fmt.Errorf("%w: prefix %x", ErrUnsupportedCurve, sig[:2])
		}
		sig = sig[2:]
	default:
		return out, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sig))
	}
	copy(out[:], sig)
	return out, nil
}

// VerifySr25519 checks sig over payload for publicKey the way a Substrate
// runtime does.
func VerifySr25519(payload, sig, publicKey []byte) (bool, error) {
	if len(publicKey) != 32 {
		return false, fmt.Errorf("%w: %d bytes", ErrInvalidPublicKey, len(publicKey))
	}
	raw, err := Sr25519Signature(sig)
	if err != nil {
		return false, err
	}

	var pubKeyBytes [32]byte
	copy(pubKeyBytes[:], publicKey)
	pubKey, err := schnorrkel.NewPublicKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	s := new(schnorrkel.Signature)
	if err := s.Decode(raw); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return pubKey.Verify(s, transcript(SigningMessage(payload)))
}

func transcript(msg []byte) *merlin.Transcript {
	t := merlin.NewTranscript("SigningContext")
	t.AppendMessage([]byte(""), []byte(SigningContext))
	t.AppendMessage([]byte("sign-bytes"), msg)
	return t
}
