package substrate

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/address"
	"dotbeacon/internal/crypto"
	"dotbeacon/internal/signer"
)

var (
	// ErrBadSignature means a signer returned a signature that does not verify
	ErrBadSignature = errors.New("signature does not verify")
	// ErrTxFailed means the node dropped or rejected the extrinsic
	ErrTxFailed = errors.New("extrinsic not included")
)

// Transfer sends req.Amount from req.From to req.To, signed by s
func (c *Client) Transfer(ctx context.Context, req TransferRequest, s signer.Signer, onStatus StatusCallback) (*SubmitResult, error) {
	to, err := accountID(req.To)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}

	call, err := TransferCall(c.GetMetadata(), to, req.Amount)
	if err != nil {
		return nil, err
	}

	return c.SignAndSubmit(ctx, req.From, call, s, req.Tip, onStatus)
}

// SignAndSubmit signs call as from with s, submits it and follows its status
// until it is in a block, or finalized when WaitFinalized is set. onStatus may be nil.
func (c *Client) SignAndSubmit(ctx context.Context, from string, call types.Call, s signer.Signer, tip *big.Int, onStatus StatusCallback) (*SubmitResult, error) {
	if onStatus == nil {
		onStatus = func(TxStatus) {}
	}

	fromID, err := address.NewCodec(c.config.SS58Format).AccountID(from)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}

	rv, err := c.RuntimeVersion()
	if err != nil {
		return nil, err
	}
	nonce, err := c.AccountNonce(fromID)
	if err != nil {
		return nil, err
	}
	opts := immortalOptions(c.genesis, rv, nonce, tip)

	payload, err := SigningPayload(call, opts)
	if err != nil {
		return nil, err
	}

	onStatus(TxStatus{Stage: StageSigning})
	signed, err := s.SignRaw(ctx, signer.PayloadRaw{
		Address: from,
		Data:    codec.HexEncodeToString(payload),
		Type:    "payload",
	})
	if err != nil {
		return nil, err
	}

	sig, err := codec.HexDecodeString(signed.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSignature, err)
	}

	if c.config.VerifySignatures {
		ok, err := crypto.VerifySr25519(payload, sig, fromID[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		if !ok {
			return nil, ErrBadSignature
		}
	}

	ext := types.NewExtrinsic(call)
	if err := AttachSignature(&ext, fromID, sig, opts); err != nil {
		return nil, err
	}

	hash, err := ExtrinsicHash(ext)
	if err != nil {
		return nil, err
	}
	result := &SubmitResult{TxHash: hash.Hex(), Stage: StageSubmitted, Nonce: nonce}

	log := c.logger.WithFields(logrus.Fields{
		"from":    from,
		"nonce":   nonce,
		"tx_hash": result.TxHash,
	})

	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, fmt.Errorf("submitting extrinsic: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info("Extrinsic submitted")
	onStatus(TxStatus{Stage: StageSubmitted, TxHash: result.TxHash})

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case err := <-sub.Err():
			return result, fmt.Errorf("watching extrinsic: %w", err)
		case st := <-sub.Chan():
			stage, block := stageOf(st)
			if stage == "" {
				continue
			}
			result.Stage = stage
			if block != "" {
				result.BlockHash = block
			}
			onStatus(TxStatus{Stage: stage, TxHash: result.TxHash, BlockHash: block})
			log.WithField("stage", stage).Debug("Extrinsic status")

			switch {
			case stage.Failed():
				log.WithField("stage", stage).Warn("Extrinsic failed")
				return result, fmt.Errorf("%w: %s", ErrTxFailed, stage)
			case stage == StageFinalized:
				return result, nil
			case stage == StageInBlock && !c.config.WaitFinalized:
				return result, nil
			}
		}
	}
}

func accountID(addr string) (types.AccountID, error) {
	pub, _, err := address.Decode(addr)
	if err != nil {
		return types.AccountID{}, err
	}
	id, err := types.NewAccountID(pub)
	if err != nil {
		return types.AccountID{}, err
	}
	return *id, nil
}
