package relay

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

// fakePayloadAPI serves canned pages and per-block payloads per relay.
type fakePayloadAPI struct {
	pages        map[string][]common.RelayPayload
	blockResults map[string][]common.RelayPayload
	failing      map[string]bool
	latestSlot   uint64
}

func (f *fakePayloadAPI) Page(ctx context.Context, relay string, cursor uint64) ([]common.RelayPayload, uint64, error) {
	if f.failing[relay] {
		return nil, 0, fmt.Errorf("relay %s is down", relay)
	}
	var page []common.RelayPayload
	minSlot := uint64(0)
	for _, pl := range f.pages[relay] {
		if cursor == 0 || pl.Slot <= cursor {
			page = append(page, pl)
			if minSlot == 0 || pl.Slot < minSlot {
				minSlot = pl.Slot
			}
		}
	}
	if len(page) == 0 {
		return nil, 0, nil
	}
	return page, minSlot - 1, nil
}

func (f *fakePayloadAPI) PayloadsForBlock(ctx context.Context, relay string, blockNumber uint64) ([]common.RelayPayload, error) {
	if f.failing[relay] {
		return nil, fmt.Errorf("relay %s is down", relay)
	}
	return f.blockResults[relay], nil
}

func (f *fakePayloadAPI) Adjustment(ctx context.Context, relay string, slot uint64) (common.Adjustment, error) {
	return common.Adjustment{Slot: slot, Relay: CanonicalName(relay)}, nil
}

func (f *fakePayloadAPI) LatestSlot(ctx context.Context) (uint64, error) {
	return f.latestSlot, nil
}

func payload(relay string, slot uint64, blockNumber int64, value uint64) common.RelayPayload {
	pl := common.RelayPayload{
		Relay:         relay,
		Slot:          slot,
		BuilderPubkey: "0xb0b",
		Value:         uint256.NewInt(value),
	}
	if blockNumber > 0 {
		pl.BlockNumber = big.NewInt(blockNumber)
	}
	return pl
}

// Resuming the walk from a checkpoint at slot S inserts only rows above
// S and advances the checkpoint to the maximum slot seen.
func TestBackfillResumesFromCheckpoint(t *testing.T) {
	const checkpointSlot = uint64(10_000)
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Checkpoints.UpsertRelayCheckpoint(common.RelayCheckpoint{
		Relay:    "aestus.live",
		FromSlot: 9_000,
		ToSlot:   checkpointSlot,
	}))

	var page []common.RelayPayload
	for slot := checkpointSlot + 2; slot >= checkpointSlot-100; slot-- {
		page = append(page, payload("aestus.live", slot, int64(slot), 1))
	}
	api := &fakePayloadAPI{pages: map[string][]common.RelayPayload{"aestus.live": page}}
	collector := NewCollector(api, store)

	require.NoError(t, collector.Backfill(context.Background(), "aestus.live", checkpointSlot+2, 9_000, nil))

	stored, err := store.Relays.GetRelayPayloadsBySlotRange("aestus.live", 0, checkpointSlot+10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, checkpointSlot+1, stored[0].Slot)
	assert.Equal(t, checkpointSlot+2, stored[1].Slot)

	cp, err := store.Checkpoints.GetRelayCheckpoint("aestus.live")
	require.NoError(t, err)
	assert.Equal(t, checkpointSlot+2, cp.ToSlot)
}

func TestBackfillFreshRelayWalksToTarget(t *testing.T) {
	store := storage.NewMemoryStorage()
	var page []common.RelayPayload
	for slot := uint64(200); slot >= 150; slot-- {
		page = append(page, payload("aestus.live", slot, int64(slot), 1))
	}
	api := &fakePayloadAPI{pages: map[string][]common.RelayPayload{"aestus.live": page}}
	collector := NewCollector(api, store)

	require.NoError(t, collector.Backfill(context.Background(), "aestus.live", 200, 100, nil))

	stored, err := store.Relays.GetRelayPayloadsBySlotRange("aestus.live", 0, 500)
	require.NoError(t, err)
	assert.Len(t, stored, 51)

	cp, err := store.Checkpoints.GetRelayCheckpoint("aestus.live")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), cp.FromSlot)
}

// One relay failing on every page must not block the other relays'
// rows for the same block.
func TestCollectBlockIsolatesRelayFailures(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Blocks.InsertBlocks([]common.Block{{
		Number:    big.NewInt(1234),
		Miner:     "0xabc",
		ExtraData: "0x6265617665726275696c642e6f7267",
	}}))

	api := &fakePayloadAPI{
		blockResults: map[string][]common.RelayPayload{
			"aestus.live":   {payload("aestus.live", 700, 1234, 5)},
			"titanrelay.xyz": {payload("titanrelay.xyz", 700, 1234, 7)},
		},
		failing: map[string]bool{"boost-relay.flashbots.net": true},
	}
	collector := NewCollector(api, store)

	require.NoError(t, collector.CollectBlock(context.Background(), big.NewInt(1234)))

	stored, err := store.Relays.GetRelayPayloadsByBlock(big.NewInt(1234))
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Builder identifiers learned from the stored payloads.
	names, err := store.Relays.GetBuilderNames([]string{"0xb0b"})
	require.NoError(t, err)
	assert.Equal(t, "BuilderNet (Beaver)", names["0xb0b"])
}

func TestCollectBlockAllRelaysFailing(t *testing.T) {
	store := storage.NewMemoryStorage()
	failing := make(map[string]bool)
	for _, relayHost := range Relays {
		failing[relayHost] = true
	}
	collector := NewCollector(&fakePayloadAPI{failing: failing}, store)

	assert.Error(t, collector.CollectBlock(context.Background(), big.NewInt(1)))
}

func TestRepairRangeMergesMissingRows(t *testing.T) {
	store := storage.NewMemoryStorage()
	// Store already has slot 5000; the relay serves 4999-5001.
	require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{payload("aestus.live", 5000, 5000, 1)}))

	api := &fakePayloadAPI{pages: map[string][]common.RelayPayload{"aestus.live": {
		payload("aestus.live", 5001, 5001, 1),
		payload("aestus.live", 5000, 5000, 1),
		payload("aestus.live", 4999, 4999, 1),
	}}}
	collector := NewCollector(api, store)

	merged, err := collector.RepairRange(context.Background(), "aestus.live", 4_990, 5_010)
	require.NoError(t, err)
	assert.Equal(t, 3, merged)

	stored, err := store.Relays.GetRelayPayloadsBySlotRange("aestus.live", 4_990, 5_010)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}
