package relay

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

// rawBidTrace is the wire shape of one delivered payload. Relays encode
// all numbers as decimal strings; fields differ slightly between relay
// implementations and unknown fields are ignored.
type rawBidTrace struct {
	Slot                 string `json:"slot"`
	ParentHash           string `json:"parent_hash"`
	BlockHash            string `json:"block_hash"`
	BuilderPubkey        string `json:"builder_pubkey"`
	ProposerPubkey       string `json:"proposer_pubkey"`
	ProposerFeeRecipient string `json:"proposer_fee_recipient"`
	GasLimit             string `json:"gas_limit"`
	GasUsed              string `json:"gas_used"`
	Value                string `json:"value"`
	NumTx                string `json:"num_tx"`
	BlockNumber          string `json:"block_number"`
}

func (t rawBidTrace) toPayload(relay string) (common.RelayPayload, error) {
	slot, err := strconv.ParseUint(t.Slot, 10, 64)
	if err != nil {
		return common.RelayPayload{}, fmt.Errorf("malformed slot %q: %w", t.Slot, err)
	}
	value, err := uint256.FromDecimal(t.Value)
	if err != nil {
		return common.RelayPayload{}, fmt.Errorf("malformed value %q: %w", t.Value, err)
	}

	payload := common.RelayPayload{
		Relay:                CanonicalName(relay),
		Slot:                 slot,
		ParentHash:           t.ParentHash,
		BlockHash:            t.BlockHash,
		BuilderPubkey:        t.BuilderPubkey,
		ProposerPubkey:       t.ProposerPubkey,
		ProposerFeeRecipient: t.ProposerFeeRecipient,
		GasLimit:             parseUintField(t.GasLimit),
		GasUsed:              parseUintField(t.GasUsed),
		Value:                value,
		NumTx:                parseUintField(t.NumTx),
	}
	if t.BlockNumber != "" {
		if blockNumber, ok := new(big.Int).SetString(t.BlockNumber, 10); ok {
			payload.BlockNumber = blockNumber
		}
	}
	return payload, nil
}

func parseUintField(value string) uint64 {
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// rawAdjustment is the wire shape of one ultrasound bid adjustment.
type rawAdjustment struct {
	AdjustedBlockHash   string `json:"adjusted_block_hash"`
	AdjustedValue       string `json:"adjusted_value"`
	BlockNumber         uint64 `json:"block_number"`
	BuilderPubkey       string `json:"builder_pubkey"`
	Delta               string `json:"delta"`
	SubmittedBlockHash  string `json:"submitted_block_hash"`
	SubmittedReceivedAt string `json:"submitted_received_at"`
	SubmittedValue      string `json:"submitted_value"`
}
