package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"

	"dotbeacon/internal/address"
)

// DefaultSource is the account source name reported by the keyring, matching
// what browser extensions call themselves
const DefaultSource = "polkadot-js"

// ErrUnknownAccount means the keyring holds no key for an address
var ErrUnknownAccount = errors.New("account not in keyring")

// Account is a keyring entry as shown to the user
type Account struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
	Source    string `json:"source"`
}

// Keyring holds sr25519 key pairs and hands out signers for them
type Keyring struct {
	mu     sync.RWMutex
	codec  address.Codec
	source string
	names  map[string]string
	pairs  map[string]signature.KeyringPair
	order  []string
}

// NewKeyring creates an empty keyring that formats addresses with codec
func NewKeyring(codec address.Codec) *Keyring {
	return &Keyring{
		codec:  codec,
		source: DefaultSource,
		names:  make(map[string]string),
		pairs:  make(map[string]signature.KeyringPair),
	}
}

// SetCodec changes the address format, e.g. after the network changes
func (k *Keyring) SetCodec(codec address.Codec) {
	k.mu.Lock()
	k.codec = codec
	k.mu.Unlock()
}

// AddURI adds the key for a secret URI such as "//Alice" or a mnemonic
func (k *Keyring) AddURI(name, uri string) (Account, error) {
	pair, err := signature.KeyringPairFromSecret(uri, 42)
	if err != nil {
		return Account{}, fmt.Errorf("deriving key for %s: %w", name, err)
	}
	return k.add(name, pair)
}

// LoadKeyFile reads a key file: the hex public key on the first line and the
// secret URI on the second. The account is named after the file.
func (k *Keyring) LoadKeyFile(path string) (Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Account{}, fmt.Errorf("reading key file: %w", err)
	}

	pub, uri, err := parseKeyFile(data)
	if err != nil {
		return Account{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	pair, err := signature.KeyringPairFromSecret(uri, 42)
	if err != nil {
		return Account{}, fmt.Errorf("deriving key from %s: %w", path, err)
	}
	if !strings.EqualFold(hex.EncodeToString(pair.PublicKey), hex.EncodeToString(pub)) {
		return Account{}, fmt.Errorf("public key in %s does not match its secret", path)
	}

	return k.add(filepath.Base(path), pair)
}

// LoadDir loads every regular file in dir as a key file
func (k *Keyring) LoadDir(dir string) ([]Account, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading key directory: %w", err)
	}

	var accounts []Account
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		account, err := k.LoadKeyFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return accounts, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Accounts lists the keyring in insertion order
func (k *Keyring) Accounts() []Account {
	k.mu.RLock()
	defer k.mu.RUnlock()

	accounts := make([]Account, 0, len(k.order))
	for _, key := range k.order {
		accounts = append(accounts, k.account(key))
	}
	return accounts
}

// Source is the name the keyring reports for its accounts
func (k *Keyring) Source() string {
	return k.source
}

// SignerFor returns a signer for the account at addr, in any network format
func (k *Keyring) SignerFor(addr string) (Signer, error) {
	pub, _, err := address.Decode(addr)
	if err != nil {
		return nil, err
	}

	k.mu.RLock()
	pair, ok := k.pairs[hex.EncodeToString(pub)]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	return NewKeyringSigner(pair), nil
}

func (k *Keyring) add(name string, pair signature.KeyringPair) (Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key := hex.EncodeToString(pair.PublicKey)
	if _, exists := k.pairs[key]; !exists {
		k.order = append(k.order, key)
	}
	k.pairs[key] = pair
	k.names[key] = name
	return k.account(key), nil
}

func (k *Keyring) account(key string) Account {
	pair := k.pairs[key]
	addr, _ := k.codec.Encode(pair.PublicKey)
	return Account{
		Name:      k.names[key],
		Address:   addr,
		PublicKey: "0x" + key,
		Source:    k.source,
	}
}

func parseKeyFile(data []byte) ([]byte, string, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return nil, "", fmt.Errorf("invalid key file format")
	}

	pub, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(lines[0]), "0x"))
	if err != nil {
		return nil, "", fmt.Errorf("decoding public key: %w", err)
	}
	if len(pub) != 32 {
		return nil, "", fmt.Errorf("public key must be 32 bytes, got %d", len(pub))
	}

	uri := strings.TrimSpace(lines[1])
	if uri == "" {
		return nil, "", fmt.Errorf("missing secret")
	}
	return pub, uri, nil
}

// KeyringSigner signs locally with an sr25519 key pair. Result IDs increase
// with each signature.
type KeyringSigner struct {
	pair   signature.KeyringPair
	nextID atomic.Int64
}

// NewKeyringSigner creates a signer for pair
func NewKeyringSigner(pair signature.KeyringPair) *KeyringSigner {
	return &KeyringSigner{pair: pair}
}

// PublicKey returns the signer's public key
func (s *KeyringSigner) PublicKey() []byte {
	return s.pair.PublicKey
}

func (s *KeyringSigner) SignRaw(ctx context.Context, payload PayloadRaw) (*Result, error) {
	if payload.Data == "" {
		return nil, ErrEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if payload.Address != "" {
		pub, _, err := address.Decode(payload.Address)
		if err != nil {
			return nil, err
		}
		if hex.EncodeToString(pub) != hex.EncodeToString(s.pair.PublicKey) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, payload.Address)
		}
	}

	data, err := codec.HexDecodeString(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	sig, err := signature.Sign(data, s.pair.URI)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}

	id := s.nextID.Add(1)
	return &Result{ID: int(id), Signature: codec.HexEncodeToString(sig)}, nil
}
