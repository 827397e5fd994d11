package substrate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/crypto/blake2b"

	"dotbeacon/internal/crypto"
)

// Transfer call names, newest first. Runtimes since 2023 renamed
// Balances.transfer to transfer_allow_death.
var transferCalls = []string{"Balances.transfer_allow_death", "Balances.transfer"}

// ErrUnsupportedSignature is returned for signatures that are not sr25519
var ErrUnsupportedSignature = errors.New("unsupported signature")

// TransferCall builds a balance transfer of amount to dest using whichever
// transfer call the runtime exposes
func TransferCall(meta *types.Metadata, dest types.AccountID, amount *big.Int) (types.Call, error) {
	if amount == nil || amount.Sign() < 0 {
		return types.Call{}, fmt.Errorf("invalid transfer amount %v", amount)
	}

	to, err := types.NewMultiAddressFromAccountID(dest[:])
	if err != nil {
		return types.Call{}, fmt.Errorf("creating destination address: %w", err)
	}

	for _, name := range transferCalls {
		if _, err := meta.FindCallIndex(name); err != nil {
			continue
		}
		call, err := types.NewCall(meta, name, to, types.NewUCompact(amount))
		if err != nil {
			return types.Call{}, fmt.Errorf("creating call %s: %w", name, err)
		}
		return call, nil
	}
	return types.Call{}, fmt.Errorf("runtime has no balance transfer call")
}

// SigningPayload returns the bytes a signer signs to authorize call
func SigningPayload(call types.Call, opts types.SignatureOptions) ([]byte, error) {
	method, err := codec.Encode(call)
	if err != nil {
		return nil, fmt.Errorf("encoding call: %w", err)
	}

	payload := types.ExtrinsicPayloadV4{
		ExtrinsicPayloadV3: types.ExtrinsicPayloadV3{
			Method:      method,
			Era:         opts.Era,
			Nonce:       opts.Nonce,
			Tip:         opts.Tip,
			SpecVersion: opts.SpecVersion,
			GenesisHash: opts.GenesisHash,
			BlockHash:   opts.BlockHash,
		},
		TransactionVersion: opts.TransactionVersion,
	}

	data, err := codec.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding signing payload: %w", err)
	}
	return data, nil
}

// AttachSignature marks ext as signed by signer. sig may be a bare sr25519
// signature or a MultiSignature encoding of one.
func AttachSignature(ext *types.Extrinsic, signer types.AccountID, sig []byte, opts types.SignatureOptions) error {
	raw, err := crypto.Sr25519Signature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedSignature, err)
	}

	from, err := types.NewMultiAddressFromAccountID(signer[:])
	if err != nil {
		return fmt.Errorf("creating signer address: %w", err)
	}

	ext.Signature = types.ExtrinsicSignatureV4{
		Signer: from,
		Signature: types.MultiSignature{
			IsSr25519: true,
			AsSr25519: types.NewSignature(raw[:]),
		},
		Era:   opts.Era,
		Nonce: opts.Nonce,
		Tip:   opts.Tip,
	}
	ext.Version |= types.ExtrinsicBitSigned
	return nil
}

// ExtrinsicHash returns the hash a node reports for ext
func ExtrinsicHash(ext types.Extrinsic) (types.Hash, error) {
	enc, err := codec.Encode(ext)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encoding extrinsic: %w", err)
	}
	return types.NewHash(blakeSum(enc)), nil
}

func blakeSum(b []byte) []byte {
	h := blake2b.Sum256(b)
	return h[:]
}

// immortalOptions builds signature options valid from genesis onwards
func immortalOptions(genesis types.Hash, rv *types.RuntimeVersion, nonce uint64, tip *big.Int) types.SignatureOptions {
	if tip == nil {
		tip = new(big.Int)
	}
	return types.SignatureOptions{
		BlockHash:          genesis,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        genesis,
		Nonce:              types.NewUCompactFromUInt(nonce),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompact(tip),
		TransactionVersion: rv.TransactionVersion,
	}
}
