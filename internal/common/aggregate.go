package common

import (
	"math/big"
	"time"
)

// PBSAggregate is the derived per-block record consumed by dashboards.
// Monetary fields are in ETH; wei arithmetic happens upstream and is
// divided down only when this record is produced.
type PBSAggregate struct {
	BlockNumber            *big.Int
	BlockTimestamp         time.Time
	BuilderName            string
	ProposerName           string
	IsVanilla              bool
	Relays                 []string
	NRelays                int
	Slot                   *uint64
	BuilderBalanceIncrease float64
	BuilderExtraTransfers  float64
	ProposerSubsidy        float64
	RelayFee               float64
	TotalValue             float64
	BuilderProfit          float64
	PctProposerShare       *float64
	PctBuilderShare        *float64
	PctRelayFee            *float64
}
