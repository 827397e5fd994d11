package substrate

import (
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// TxStage is the lifecycle stage of a submitted extrinsic
type TxStage string

const (
	StageSigning         TxStage = "signing"
	StageSubmitted       TxStage = "submitted"
	StageFuture          TxStage = "future"
	StageReady           TxStage = "ready"
	StageBroadcast       TxStage = "broadcast"
	StageInBlock         TxStage = "in_block"
	StageRetracted       TxStage = "retracted"
	StageFinalityTimeout TxStage = "finality_timeout"
	StageFinalized       TxStage = "finalized"
	StageUsurped         TxStage = "usurped"
	StageDropped         TxStage = "dropped"
	StageInvalid         TxStage = "invalid"
)

// Failed reports whether the extrinsic will never be included
func (s TxStage) Failed() bool {
	switch s {
	case StageUsurped, StageDropped, StageInvalid, StageFinalityTimeout:
		return true
	}
	return false
}

// TxStatus is a progress update for one extrinsic
type TxStatus struct {
	Stage     TxStage `json:"stage"`
	TxHash    string  `json:"tx_hash,omitempty"`
	BlockHash string  `json:"block_hash,omitempty"`
}

// StatusCallback receives every status of a submission in order
type StatusCallback func(TxStatus)

// TransferRequest describes a balance transfer. Addresses may use any SS58 prefix.
type TransferRequest struct {
	From   string
	To     string
	Amount *big.Int
	Tip    *big.Int
}

// SubmitResult is where a submitted extrinsic ended up
type SubmitResult struct {
	TxHash    string  `json:"tx_hash"`
	BlockHash string  `json:"block_hash,omitempty"`
	Stage     TxStage `json:"stage"`
	Nonce     uint64  `json:"nonce"`
}

// stageOf maps a node status to a stage and the block it refers to, if any
func stageOf(st types.ExtrinsicStatus) (TxStage, string) {
	switch {
	case st.IsFuture:
		return StageFuture, ""
	case st.IsReady:
		return StageReady, ""
	case st.IsBroadcast:
		return StageBroadcast, ""
	case st.IsInBlock:
		return StageInBlock, st.AsInBlock.Hex()
	case st.IsRetracted:
		return StageRetracted, st.AsRetracted.Hex()
	case st.IsFinalityTimeout:
		return StageFinalityTimeout, st.AsFinalityTimeout.Hex()
	case st.IsFinalized:
		return StageFinalized, st.AsFinalized.Hex()
	case st.IsUsurped:
		return StageUsurped, st.AsUsurped.Hex()
	case st.IsDropped:
		return StageDropped, ""
	case st.IsInvalid:
		return StageInvalid, ""
	}
	return "", ""
}
