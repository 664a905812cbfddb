// Package aggregator fuses blocks, balance deltas, relay payloads and
// adjustments into the derived per-block PBS record.
package aggregator

import (
	"fmt"
	"math/big"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
	"github.com/turing-trading/tt-flashbots-worktest/internal/namenorm"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

type Aggregator struct {
	storage storage.IStorage
}

func New(storage storage.IStorage) *Aggregator {
	return &Aggregator{storage: storage}
}

// AggregateBlock derives the PBS record for one block from the stored
// facts. Fully recomputable: the same snapshot always yields the same
// record.
func (a *Aggregator) AggregateBlock(blockNumber *big.Int) (*common.PBSAggregate, error) {
	block, err := a.storage.Blocks.GetBlockByNumber(blockNumber)
	if err != nil {
		return nil, fmt.Errorf("error loading block %s: %w", blockNumber.String(), err)
	}
	if block == nil {
		return nil, fmt.Errorf("block %s not found", blockNumber.String())
	}

	payloads, err := a.storage.Relays.GetRelayPayloadsByBlock(blockNumber)
	if err != nil {
		return nil, err
	}
	delta, err := a.storage.Balances.GetBalanceDelta(blockNumber)
	if err != nil {
		return nil, err
	}
	transfers, err := a.storage.Balances.GetBuilderTransfers(blockNumber)
	if err != nil {
		return nil, err
	}

	record := common.PBSAggregate{
		BlockNumber:    new(big.Int).Set(blockNumber),
		BlockTimestamp: block.Timestamp,
		ProposerName:   namenorm.Unknown,
	}

	// Relay identifiers in insertion order, one entry per relay.
	seenRelays := make(map[string]bool)
	record.Relays = []string{}
	for _, pl := range payloads {
		if !seenRelays[pl.Relay] {
			seenRelays[pl.Relay] = true
			record.Relays = append(record.Relays, pl.Relay)
		}
	}
	record.NRelays = len(record.Relays)
	record.IsVanilla = record.NRelays == 0

	// Proposer subsidy is the maximum delivered value across relays; the
	// relay identity behind the maximum does not matter.
	subsidyWei := big.NewInt(0)
	if !record.IsVanilla {
		slot := payloads[0].Slot
		record.Slot = &slot
		for _, pl := range payloads {
			value := pl.Value.ToBig()
			if value.Cmp(subsidyWei) > 0 {
				subsidyWei = value
			}
		}
	}

	// Relay fee from the adjustments that apply to this slot.
	relayFeeWei := big.NewInt(0)
	if record.Slot != nil {
		adjustments, err := a.storage.Relays.GetAdjustmentsBySlot(*record.Slot)
		if err != nil {
			return nil, err
		}
		for _, adj := range adjustments {
			if adj.HasAdjustment && adj.Delta != nil {
				relayFeeWei.Add(relayFeeWei, adj.Delta)
			}
		}
	}

	balanceIncreaseWei := big.NewInt(0)
	if delta != nil {
		balanceIncreaseWei = delta.BalanceIncrease
	}

	extraTransfersWei := big.NewInt(0)
	for _, t := range transfers {
		extraTransfersWei.Add(extraTransfersWei, t.BalanceIncrease)
	}

	// Auxiliary transfers only offset an apparent loss; a profitable block
	// keeps them reported separately.
	naiveTotalWei := new(big.Int).Add(balanceIncreaseWei, subsidyWei)
	totalWei := naiveTotalWei
	if naiveTotalWei.Sign() < 0 {
		totalWei = new(big.Int).Add(naiveTotalWei, extraTransfersWei)
	}

	record.BuilderBalanceIncrease = common.WeiToEth(balanceIncreaseWei)
	record.BuilderExtraTransfers = common.WeiToEth(extraTransfersWei)
	record.ProposerSubsidy = common.WeiToEth(subsidyWei)
	record.RelayFee = common.WeiToEth(relayFeeWei)
	record.TotalValue = common.WeiToEth(totalWei)
	record.BuilderProfit = record.TotalValue - record.ProposerSubsidy - record.RelayFee

	if record.TotalValue > 0 {
		pctProposer := record.ProposerSubsidy / record.TotalValue * 100
		pctBuilder := record.BuilderProfit / record.TotalValue * 100
		pctRelay := record.RelayFee / record.TotalValue * 100
		record.PctProposerShare = &pctProposer
		record.PctBuilderShare = &pctBuilder
		record.PctRelayFee = &pctRelay
	}

	record.BuilderName = a.builderName(block, payloads)
	record.ProposerName = a.proposerName(block, payloads)

	return &record, nil
}

// builderName normalizes the block's extra data and falls back to the
// identifier learned from relay payloads when extra data says nothing.
func (a *Aggregator) builderName(block *common.Block, payloads []common.RelayPayload) string {
	name := namenorm.ParseBuilderNameFromExtraData(block.ExtraData)
	if name != namenorm.Unknown {
		return name
	}

	pubkeys := make([]string, 0, len(payloads))
	for _, pl := range payloads {
		if pl.BuilderPubkey != "" {
			pubkeys = append(pubkeys, pl.BuilderPubkey)
		}
	}
	if len(pubkeys) == 0 {
		return namenorm.Unknown
	}
	names, err := a.storage.Relays.GetBuilderNames(pubkeys)
	if err != nil {
		log.Warn().Err(err).Msgf("Builder identifier lookup failed for block %s", block.Number.String())
		return namenorm.Unknown
	}
	for _, pubkey := range pubkeys {
		if mapped, ok := names[pubkey]; ok && mapped != "" {
			return namenorm.CleanBuilderName(mapped, false)
		}
	}
	return namenorm.Unknown
}

func (a *Aggregator) proposerName(block *common.Block, payloads []common.RelayPayload) string {
	if len(payloads) == 0 {
		return namenorm.LookupProposer(block.Miner)
	}
	keys := make([]string, 0, len(payloads)*2)
	for _, pl := range payloads {
		keys = append(keys, pl.ProposerPubkey, pl.ProposerFeeRecipient)
	}
	return namenorm.LookupProposer(keys...)
}

// ProcessBlock computes and upserts the aggregate for one block.
func (a *Aggregator) ProcessBlock(blockNumber *big.Int) error {
	record, err := a.AggregateBlock(blockNumber)
	if err != nil {
		return err
	}
	if err := a.storage.Aggregates.InsertAggregates([]common.PBSAggregate{*record}); err != nil {
		return err
	}
	metrics.AggregatesComputed.Inc()
	blockNumberFloat, _ := blockNumber.Float64()
	metrics.LastAggregatedBlock.Set(blockNumberFloat)
	return nil
}

// AggregateRange recomputes and upserts the records for every stored
// block in [start, end]. Rerunnable; prior aggregate state is ignored.
func (a *Aggregator) AggregateRange(start, end *big.Int) (int, error) {
	blocks, err := a.storage.Blocks.GetBlocksInRange(start, end)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, block := range blocks {
		record, err := a.AggregateBlock(block.Number)
		if err != nil {
			log.Warn().Err(err).Msgf("Skipping aggregate for block %s", block.Number.String())
			continue
		}
		if err := a.storage.Aggregates.InsertAggregates([]common.PBSAggregate{*record}); err != nil {
			return processed, err
		}
		processed++
		metrics.AggregatesComputed.Inc()
	}
	return processed, nil
}
