package address

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alicePublicKey = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"

func alice(t *testing.T) []byte {
	key, err := hex.DecodeString(alicePublicKey)
	require.NoError(t, err)
	return key
}

func TestEncodeKnownAddresses(t *testing.T) {
	tests := []struct {
		name   string
		prefix uint16
		want   string
	}{
		{name: "substrate generic", prefix: 42, want: "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"},
		{name: "polkadot", prefix: 0, want: "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := NewCodec(tt.prefix).Encode(alice(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr)
		})
	}
}

func TestEncodeHex(t *testing.T) {
	addr, err := NewCodec(42).EncodeHex("0x" + alicePublicKey)
	require.NoError(t, err)
	assert.Equal(t, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", addr)

	_, err = NewCodec(42).EncodeHex("zz")
	assert.Error(t, err)
}

func TestRoundTripPrefixes(t *testing.T) {
	for _, prefix := range []uint16{0, 2, 42, 63, 64, 255, 1284, 16383} {
		codec := NewCodec(prefix)
		addr, err := codec.Encode(alice(t))
		require.NoError(t, err, "prefix %d", prefix)

		key, gotPrefix, err := Decode(addr)
		require.NoError(t, err, "prefix %d", prefix)
		assert.Equal(t, prefix, gotPrefix)
		assert.Equal(t, alice(t), key)

		key, err = codec.Decode(addr)
		require.NoError(t, err)
		assert.Equal(t, alice(t), key)
	}
}

func TestEncodeErrors(t *testing.T) {
	_, err := NewCodec(42).Encode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = NewCodec(16384).Encode(alice(t))
	assert.Error(t, err)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := NewCodec(42).Encode(alice(t))
	require.NoError(t, err)

	// Flip the last character to break the checksum
	last := valid[len(valid)-1]
	replacement := byte('a')
	if last == 'a' {
		replacement = 'b'
	}
	corrupted := valid[:len(valid)-1] + string(replacement)

	tests := []struct {
		name string
		addr string
		want error
	}{
		{name: "empty", addr: "", want: ErrInvalidBase58},
		{name: "not base58", addr: "0OIl", want: ErrInvalidBase58},
		{name: "too short", addr: "11111", want: ErrInvalidLength},
		{name: "bad checksum", addr: corrupted, want: ErrInvalidChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.addr)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, Valid(tt.addr))
		})
	}
}

func TestDecodePrefixMismatch(t *testing.T) {
	addr, err := NewCodec(0).Encode(alice(t))
	require.NoError(t, err)

	_, err = NewCodec(2).Decode(addr)
	assert.ErrorIs(t, err, ErrPrefixMismatch)

	_, err = NewCodec(2).AccountID(addr)
	assert.ErrorIs(t, err, ErrPrefixMismatch)
}

func TestAccountID(t *testing.T) {
	id, err := NewCodec(42).AccountID("5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY")
	require.NoError(t, err)
	assert.Equal(t, alice(t), id[:])
}
