// Package address encodes and decodes SS58 account addresses.
package address

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/decred/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	// PublicKeyLen is the length of an sr25519/ed25519 account public key
	PublicKeyLen = 32

	checksumLen = 2

	// Highest prefix that fits the single byte encoding
	maxSimplePrefix = 63
	// Highest prefix SS58 can represent at all
	maxPrefix = 16383
)

var ss58Pre = []byte("SS58PRE")

var (
	ErrInvalidBase58   = errors.New("invalid base58 encoding")
	ErrInvalidLength   = errors.New("invalid address length")
	ErrInvalidChecksum = errors.New("invalid address checksum")
	ErrPrefixMismatch  = errors.New("address prefix does not match network")
)

// Codec converts public keys to SS58 addresses for one network prefix
type Codec struct {
	prefix uint16
}

// NewCodec creates a codec for the given SS58 prefix
func NewCodec(prefix uint16) Codec {
	return Codec{prefix: prefix}
}

// Prefix returns the network prefix the codec encodes with
func (c Codec) Prefix() uint16 {
	return c.prefix
}

// Encode returns the SS58 address of a 32-byte public key
func (c Codec) Encode(publicKey []byte) (string, error) {
	if len(publicKey) != PublicKeyLen {
		return "", fmt.Errorf("%w: public key has %d bytes", ErrInvalidLength, len(publicKey))
	}

	prefix, err := encodePrefix(c.prefix)
	if err != nil {
		return "", err
	}

	body := make([]byte, 0, len(prefix)+PublicKeyLen+checksumLen)
	body = append(body, prefix...)
	body = append(body, publicKey...)
	sum := checksum(body)
	body = append(body, sum[:checksumLen]...)

	return base58.Encode(body), nil
}

// EncodeHex is Encode for a hex public key, with or without 0x
func (c Codec) EncodeHex(publicKey string) (string, error) {
	key, err := codec.HexDecodeString(publicKey)
	if err != nil {
		return "", fmt.Errorf("decoding public key: %w", err)
	}
	return c.Encode(key)
}

// Decode returns the public key of an address after checking it belongs to the codec's network
func (c Codec) Decode(addr string) ([]byte, error) {
	key, prefix, err := Decode(addr)
	if err != nil {
		return nil, err
	}
	if prefix != c.prefix {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPrefixMismatch, prefix, c.prefix)
	}
	return key, nil
}

// AccountID decodes an address into a substrate account ID
func (c Codec) AccountID(addr string) (types.AccountID, error) {
	key, err := c.Decode(addr)
	if err != nil {
		return types.AccountID{}, err
	}
	id, err := types.NewAccountID(key)
	if err != nil {
		return types.AccountID{}, fmt.Errorf("creating account ID: %w", err)
	}
	return *id, nil
}

// Decode parses any SS58 address and returns its public key and prefix
func Decode(addr string) ([]byte, uint16, error) {
	raw := base58.Decode(addr)
	if len(raw) == 0 {
		return nil, 0, ErrInvalidBase58
	}

	var (
		prefix    uint16
		prefixLen int
	)
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
		prefixLen = 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return nil, 0, ErrInvalidLength
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return nil, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidBase58, raw[0])
	}

	if len(raw) != prefixLen+PublicKeyLen+checksumLen {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(raw))
	}

	body := raw[:prefixLen+PublicKeyLen]
	sum := checksum(body)
	if !bytes.Equal(sum[:checksumLen], raw[prefixLen+PublicKeyLen:]) {
		return nil, 0, ErrInvalidChecksum
	}

	key := make([]byte, PublicKeyLen)
	copy(key, raw[prefixLen:prefixLen+PublicKeyLen])
	return key, prefix, nil
}

// Valid reports whether addr is a well-formed SS58 address
func Valid(addr string) bool {
	_, _, err := Decode(addr)
	return err == nil
}

func encodePrefix(prefix uint16) ([]byte, error) {
	switch {
	case prefix <= maxSimplePrefix:
		return []byte{byte(prefix)}, nil
	case prefix <= maxPrefix:
		first := byte((prefix&0x00fc)>>2) | 0x40
		second := byte(prefix>>8) | byte((prefix&0x0003)<<6)
		return []byte{first, second}, nil
	default:
		return nil, fmt.Errorf("prefix %d out of range", prefix)
	}
}

func checksum(body []byte) [blake2b.Size]byte {
	data := make([]byte, 0, len(ss58Pre)+len(body))
	data = append(data, ss58Pre...)
	data = append(data, body...)
	return blake2b.Sum512(data)
}
