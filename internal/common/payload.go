package common

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

// RelayPayload is one delivered bid trace as reported by a relay's data
// API. Keyed by (Relay, Slot); several relays may report the same block.
type RelayPayload struct {
	Relay                string
	Slot                 uint64
	ParentHash           string
	BlockHash            string
	BuilderPubkey        string
	ProposerPubkey       string
	ProposerFeeRecipient string
	GasLimit             uint64
	GasUsed              uint64
	Value                *uint256.Int
	BlockNumber          *big.Int
	NumTx                uint64
}

// Adjustment is a post-hoc bid adjustment published by a relay for one
// slot. HasAdjustment=false records a successful fetch that found none,
// so the slot is not queried again.
type Adjustment struct {
	Slot               uint64
	Relay              string
	BlockNumber        *big.Int
	BuilderPubkey      string
	SubmittedValue     *big.Int
	AdjustedValue      *big.Int
	Delta              *big.Int
	SubmittedBlockHash string
	AdjustedBlockHash  string
	HasAdjustment      bool
	FetchedAt          time.Time
}

// BuilderIdentifier maps a builder public key seen in relay payloads to
// the builder name parsed from that block's extra data.
type BuilderIdentifier struct {
	BuilderPubkey string
	BuilderName   string
}
