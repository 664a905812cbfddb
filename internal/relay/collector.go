package relay

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
	"github.com/turing-trading/tt-flashbots-worktest/internal/namenorm"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

// PayloadAPI is the slice of the relay client the collector and the
// backfill runners depend on.
type PayloadAPI interface {
	Page(ctx context.Context, relay string, cursor uint64) ([]common.RelayPayload, uint64, error)
	PayloadsForBlock(ctx context.Context, relay string, blockNumber uint64) ([]common.RelayPayload, error)
	Adjustment(ctx context.Context, relay string, slot uint64) (common.Adjustment, error)
	LatestSlot(ctx context.Context) (uint64, error)
}

// Collector drives payload collection across all relays, live per block
// and as the checkpointed historical walk.
type Collector struct {
	client  PayloadAPI
	storage storage.IStorage
}

func NewCollector(client PayloadAPI, storage storage.IStorage) *Collector {
	return &Collector{client: client, storage: storage}
}

// CollectBlock queries every relay for one block number, committing each
// relay's rows independently so one failing relay does not block the
// others. Returns an error only when every relay failed.
func (c *Collector) CollectBlock(ctx context.Context, blockNumber *big.Int) error {
	var wg sync.WaitGroup
	errs := make([]error, len(Relays))
	stored := make([][]common.RelayPayload, len(Relays))

	for i, relay := range Relays {
		wg.Add(1)
		go func(i int, relay string) {
			defer wg.Done()
			payloads, err := c.client.PayloadsForBlock(ctx, relay, blockNumber.Uint64())
			if err != nil {
				errs[i] = fmt.Errorf("relay %s: %w", relay, err)
				return
			}
			if len(payloads) == 0 {
				return
			}
			if err := c.storage.Relays.InsertRelayPayloads(payloads); err != nil {
				errs[i] = fmt.Errorf("relay %s: %w", relay, err)
				return
			}
			metrics.RelayPayloadsStored.WithLabelValues(CanonicalName(relay)).Add(float64(len(payloads)))
			stored[i] = payloads
		}(i, relay)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			log.Warn().Err(err).Msgf("Relay payload collection failed for block %s", blockNumber.String())
		}
	}
	if failures == len(Relays) {
		return fmt.Errorf("all %d relays failed for block %s", len(Relays), blockNumber.String())
	}

	var collected []common.RelayPayload
	for _, payloads := range stored {
		collected = append(collected, payloads...)
	}
	if err := c.storeBuilderIdentifiers(blockNumber, collected); err != nil {
		log.Warn().Err(err).Msgf("Failed to store builder identifiers for block %s", blockNumber.String())
	}
	return nil
}

// storeBuilderIdentifiers associates the builder pubkeys seen in relay
// payloads with the builder name parsed from the block's extra data.
func (c *Collector) storeBuilderIdentifiers(blockNumber *big.Int, payloads []common.RelayPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	block, err := c.storage.Blocks.GetBlockByNumber(blockNumber)
	if err != nil {
		return err
	}
	if block == nil || block.ExtraData == "" {
		return nil
	}

	builderName := namenorm.ParseBuilderNameFromExtraData(block.ExtraData)
	seen := make(map[string]bool)
	var identifiers []common.BuilderIdentifier
	for _, pl := range payloads {
		if pl.BuilderPubkey == "" || seen[pl.BuilderPubkey] {
			continue
		}
		seen[pl.BuilderPubkey] = true
		identifiers = append(identifiers, common.BuilderIdentifier{
			BuilderPubkey: pl.BuilderPubkey,
			BuilderName:   builderName,
		})
	}
	return c.storage.Relays.InsertBuilderIdentifiers(identifiers)
}

type walkPhase string

const (
	phaseNew        walkPhase = "new"
	phaseHistorical walkPhase = "historical"
)

// Backfill runs the two-phase walk for one relay: phase 1 collects slots
// newer than the checkpoint's to_slot, phase 2 continues the historical
// walk below from_slot. The checkpoint advances in the same transaction
// as each committed page.
func (c *Collector) Backfill(ctx context.Context, relay string, latestSlot, targetEndSlot uint64, progress func(slot uint64)) error {
	canonical := CanonicalName(relay)
	cp, err := c.storage.Checkpoints.GetRelayCheckpoint(canonical)
	if err != nil {
		return fmt.Errorf("error reading checkpoint for %s: %w", canonical, err)
	}

	var phase1Needed, phase2Needed bool
	var state common.RelayCheckpoint
	if cp == nil {
		state = common.RelayCheckpoint{Relay: canonical, FromSlot: latestSlot, ToSlot: targetEndSlot}
		phase2Needed = true
	} else {
		state = *cp
		phase1Needed = state.ToSlot < latestSlot
		phase2Needed = state.FromSlot > targetEndSlot
	}

	if phase1Needed {
		if err := c.walkRange(ctx, relay, latestSlot, state.ToSlot, phaseNew, &state, progress); err != nil {
			return err
		}
	}
	if phase2Needed {
		if err := c.walkRange(ctx, relay, state.FromSlot, targetEndSlot, phaseHistorical, &state, progress); err != nil {
			return err
		}
	}
	return nil
}

// RepairRange re-walks one slot range for a relay, merging any rows the
// store is missing. Used by gap repair; does not move the checkpoint.
func (c *Collector) RepairRange(ctx context.Context, relay string, fromSlot, toSlot uint64) (int, error) {
	cursor := toSlot
	consecutiveEmpty := 0
	merged := 0

	for cursor > fromSlot {
		payloads, next, err := c.client.Page(ctx, relay, cursor)
		if err != nil {
			return merged, err
		}
		if len(payloads) == 0 {
			consecutiveEmpty++
			if consecutiveEmpty >= 2 {
				break
			}
			if cursor > fromSlot+SlotJumpSize {
				cursor -= SlotJumpSize
			} else {
				cursor = fromSlot
			}
			continue
		}
		consecutiveEmpty = 0

		inRange := make([]common.RelayPayload, 0, len(payloads))
		minSlot := payloads[0].Slot
		for _, pl := range payloads {
			if pl.Slot < minSlot {
				minSlot = pl.Slot
			}
			if pl.Slot >= fromSlot && pl.Slot <= toSlot {
				inRange = append(inRange, pl)
			}
		}
		if err := c.storage.Relays.InsertRelayPayloads(inRange); err != nil {
			return merged, err
		}
		merged += len(inRange)

		if minSlot <= fromSlot || next == 0 {
			break
		}
		cursor = next
	}
	return merged, nil
}

func (c *Collector) walkRange(ctx context.Context, relay string, startSlot, endSlot uint64, phase walkPhase, state *common.RelayCheckpoint, progress func(slot uint64)) error {
	canonical := CanonicalName(relay)
	cursor := startSlot
	consecutiveEmpty := 0
	const maxConsecutiveEmpty = 2

	for cursor > endSlot {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payloads, next, err := c.client.Page(ctx, relay, cursor)
		if err != nil {
			return fmt.Errorf("page fetch failed for %s at cursor %d: %w", canonical, cursor, err)
		}

		if len(payloads) == 0 {
			consecutiveEmpty++
			log.Debug().Str("relay", canonical).Uint64("cursor", cursor).Msgf("Empty response (%d/%d)", consecutiveEmpty, maxConsecutiveEmpty)
			if consecutiveEmpty >= maxConsecutiveEmpty {
				log.Warn().Str("relay", canonical).Msgf("%d consecutive empty responses, stopping %s walk", consecutiveEmpty, phase)
				break
			}
			// Jump back to find where data exists; some relays have sparse
			// historical coverage.
			if cursor > endSlot+SlotJumpSize {
				cursor -= SlotJumpSize
			} else {
				cursor = endSlot
			}
			continue
		}
		consecutiveEmpty = 0

		kept := make([]common.RelayPayload, 0, len(payloads))
		minSlot, maxSlot := payloads[0].Slot, payloads[0].Slot
		for _, pl := range payloads {
			if pl.Slot < minSlot {
				minSlot = pl.Slot
			}
			if pl.Slot > maxSlot {
				maxSlot = pl.Slot
			}
			if pl.Slot > endSlot {
				kept = append(kept, pl)
			}
		}

		switch phase {
		case phaseNew:
			state.ToSlot = maxUint64(state.ToSlot, maxSlot)
		case phaseHistorical:
			state.FromSlot = minUint64(state.FromSlot, minSlot)
		}

		if err := c.storage.Relays.InsertRelayPayloadsWithCheckpoint(kept, *state); err != nil {
			return fmt.Errorf("error committing page for %s: %w", canonical, err)
		}
		metrics.RelayPayloadsStored.WithLabelValues(canonical).Add(float64(len(kept)))
		if progress != nil {
			progress(minSlot)
		}

		if minSlot <= endSlot || next == 0 {
			break
		}
		cursor = next
	}
	return nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
