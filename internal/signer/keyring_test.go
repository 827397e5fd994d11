package signer

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotbeacon/internal/address"
	"dotbeacon/internal/crypto"
)

const (
	aliceWestend  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePolkadot = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
)

func TestKeyringAddURI(t *testing.T) {
	kr := NewKeyring(address.NewCodec(42))

	account, err := kr.AddURI("alice", "//Alice")
	require.NoError(t, err)
	assert.Equal(t, aliceWestend, account.Address)
	assert.Equal(t, DefaultSource, account.Source)
	assert.Equal(t, "0x"+hex.EncodeToString(signature.TestKeyringPairAlice.PublicKey), account.PublicKey)

	// re-adding keeps a single entry
	_, err = kr.AddURI("alice again", "//Alice")
	require.NoError(t, err)
	_, err = kr.AddURI("bob", "//Bob")
	require.NoError(t, err)

	accounts := kr.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice again", accounts[0].Name)
	assert.Equal(t, "bob", accounts[1].Name)

	kr.SetCodec(address.NewCodec(0))
	assert.Equal(t, alicePolkadot, kr.Accounts()[0].Address)
}

func TestKeyringLoadDir(t *testing.T) {
	dir := t.TempDir()
	alice := signature.TestKeyringPairAlice

	good := hex.EncodeToString(alice.PublicKey) + "\n" + alice.URI + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice"), []byte(good), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("junk"), 0o600))

	kr := NewKeyring(address.NewCodec(42))
	accounts, err := kr.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].Name)
	assert.Equal(t, aliceWestend, accounts[0].Address)
}

func TestKeyringLoadKeyFileErrors(t *testing.T) {
	dir := t.TempDir()
	bob, err := signature.KeyringPairFromSecret("//Bob", 42)
	require.NoError(t, err)

	tests := map[string]string{
		"single line":  hex.EncodeToString(bob.PublicKey),
		"bad hex":      "zz\n//Bob",
		"short key":    "abcd\n//Bob",
		"key mismatch": hex.EncodeToString(signature.TestKeyringPairAlice.PublicKey) + "\n//Bob",
	}

	kr := NewKeyring(address.NewCodec(42))
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := kr.LoadKeyFile(path)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, kr.Accounts())

	_, err = kr.LoadKeyFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestKeyringSigner(t *testing.T) {
	ctx := context.Background()
	kr := NewKeyring(address.NewCodec(42))
	_, err := kr.AddURI("alice", "//Alice")
	require.NoError(t, err)

	// any network format resolves to the same key
	s, err := kr.SignerFor(alicePolkadot)
	require.NoError(t, err)

	payload := []byte("some extrinsic payload")
	first, err := s.SignRaw(ctx, PayloadRaw{Address: aliceWestend, Data: codec.HexEncodeToString(payload)})
	require.NoError(t, err)
	second, err := s.SignRaw(ctx, PayloadRaw{Data: codec.HexEncodeToString(payload)})
	require.NoError(t, err)

	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)

	sig, err := codec.HexDecodeString(first.Signature)
	require.NoError(t, err)
	ok, err := crypto.VerifySr25519(payload, sig, signature.TestKeyringPairAlice.PublicKey)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.SignRaw(ctx, PayloadRaw{})
	assert.ErrorIs(t, err, ErrEmptyPayload)

	bob, err := signature.KeyringPairFromSecret("//Bob", 42)
	require.NoError(t, err)
	_, err = s.SignRaw(ctx, PayloadRaw{Address: bob.Address, Data: "0x01"})
	assert.ErrorIs(t, err, ErrUnknownAccount)

	_, err = kr.SignerFor(bob.Address)
	assert.ErrorIs(t, err, ErrUnknownAccount)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.SignRaw(cancelled, PayloadRaw{Data: "0x01"})
	assert.ErrorIs(t, err, context.Canceled)
}
