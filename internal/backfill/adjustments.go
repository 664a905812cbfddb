package backfill

import (
	"context"
	"fmt"
	"math/big"

	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/relay"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

const adjustmentsStream = "adjustments"

// slotsPerAdjustmentUnit bounds how many payload slots one unit covers.
const slotsPerAdjustmentUnit = 100

// AdjustmentsRunner fetches per-slot bid adjustments for the slots the
// publishing relays delivered payloads in, resuming from its own cursor
// stream. The cursor advances in the same transaction as the rows.
type AdjustmentsRunner struct {
	client  relay.PayloadAPI
	storage storage.IStorage
}

func NewAdjustmentsRunner(client relay.PayloadAPI, storage storage.IStorage) *AdjustmentsRunner {
	return &AdjustmentsRunner{client: client, storage: storage}
}

type adjustmentUnit struct {
	relay string
	slots []uint64
}

func (r *AdjustmentsRunner) Run(ctx context.Context) error {
	head, err := r.client.LatestSlot(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve latest slot: %w", err)
	}
	latestSlot := head - headSafetyBufferSlots

	driver := &Driver[adjustmentUnit]{
		Stream:      adjustmentsStream,
		Concurrency: config.Cfg.Backfill.Concurrency,
		ChunkSize:   100,
		SelectWork: func(ctx context.Context, limit int) ([]adjustmentUnit, error) {
			return r.selectUnits(latestSlot, limit)
		},
		ProcessUnit:  r.processUnit,
		DescribeUnit: describeAdjustmentUnit,
	}
	return driver.Run(ctx)
}

func describeAdjustmentUnit(unit adjustmentUnit) string {
	if len(unit.slots) == 0 {
		return "empty unit"
	}
	return fmt.Sprintf("%s slots %d-%d", unit.relay, unit.slots[0], unit.slots[len(unit.slots)-1])
}

// selectUnits walks forward from the cursor over the slots the relay
// actually delivered payloads in, in units of bounded size.
func (r *AdjustmentsRunner) selectUnits(latestSlot uint64, limit int) ([]adjustmentUnit, error) {
	cursor, err := r.storage.Checkpoints.GetCursor(adjustmentsStream)
	if err != nil {
		return nil, err
	}
	fromSlot := uint64(0)
	if cursor != nil {
		fromSlot = cursor.Uint64() + 1
	}
	if fromSlot > latestSlot {
		return nil, nil
	}

	var units []adjustmentUnit
	for _, relayHost := range relay.AdjustmentRelays {
		canonical := relay.CanonicalName(relayHost)
		payloads, err := r.storage.Relays.GetRelayPayloadsBySlotRange(canonical, fromSlot, latestSlot)
		if err != nil {
			return nil, err
		}
		var slots []uint64
		for _, pl := range payloads {
			slots = append(slots, pl.Slot)
			if len(slots) == slotsPerAdjustmentUnit {
				units = append(units, adjustmentUnit{relay: relayHost, slots: slots})
				slots = nil
				if len(units) == limit {
					return units, nil
				}
			}
		}
		if len(slots) > 0 {
			units = append(units, adjustmentUnit{relay: relayHost, slots: slots})
		}
		if len(units) >= limit {
			return units[:limit], nil
		}
	}
	return units, nil
}

func (r *AdjustmentsRunner) processUnit(ctx context.Context, unit adjustmentUnit) error {
	adjustments := make([]common.Adjustment, 0, len(unit.slots))
	maxSlot := uint64(0)
	for _, slot := range unit.slots {
		adjustment, err := r.client.Adjustment(ctx, unit.relay, slot)
		if err != nil {
			return fmt.Errorf("adjustment fetch failed at slot %d: %w", slot, err)
		}
		adjustments = append(adjustments, adjustment)
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	return r.storage.Relays.InsertAdjustmentsWithCursor(adjustments, adjustmentsStream, new(big.Int).SetUint64(maxSlot))
}
