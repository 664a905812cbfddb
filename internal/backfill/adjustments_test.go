package backfill

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/relay"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

type fakeAdjustmentAPI struct {
	adjusted map[uint64]*big.Int
	failAt   uint64
}

func (f *fakeAdjustmentAPI) Page(ctx context.Context, relayHost string, cursor uint64) ([]common.RelayPayload, uint64, error) {
	return nil, 0, nil
}

func (f *fakeAdjustmentAPI) PayloadsForBlock(ctx context.Context, relayHost string, blockNumber uint64) ([]common.RelayPayload, error) {
	return nil, nil
}

func (f *fakeAdjustmentAPI) Adjustment(ctx context.Context, relayHost string, slot uint64) (common.Adjustment, error) {
	if f.failAt != 0 && slot == f.failAt {
		return common.Adjustment{}, fmt.Errorf("boom at slot %d", slot)
	}
	adjustment := common.Adjustment{Slot: slot, Relay: relay.CanonicalName(relayHost)}
	if delta, ok := f.adjusted[slot]; ok {
		adjustment.HasAdjustment = true
		adjustment.Delta = delta
	}
	return adjustment, nil
}

func (f *fakeAdjustmentAPI) LatestSlot(ctx context.Context) (uint64, error) {
	return 10_000 + headSafetyBufferSlots, nil
}

func seedUltrasoundPayloads(t *testing.T, store storage.IStorage, slots ...uint64) {
	t.Helper()
	for _, slot := range slots {
		require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{{
			Relay: "ultrasound",
			Slot:  slot,
			Value: uint256.NewInt(1),
		}}))
	}
}

func TestAdjustmentsRunnerWalksPayloadSlots(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedUltrasoundPayloads(t, store, 100, 101, 105)

	api := &fakeAdjustmentAPI{adjusted: map[uint64]*big.Int{101: big.NewInt(7)}}
	runner := NewAdjustmentsRunner(api, store)

	require.NoError(t, runner.Run(context.Background()))

	adjustments, err := store.Relays.GetAdjustmentsBySlot(101)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].HasAdjustment)
	assert.Equal(t, int64(7), adjustments[0].Delta.Int64())

	// Slots with no adjustment are recorded as checked.
	adjustments, err = store.Relays.GetAdjustmentsBySlot(100)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.False(t, adjustments[0].HasAdjustment)

	cursor, err := store.Checkpoints.GetCursor("adjustments")
	require.NoError(t, err)
	assert.Equal(t, int64(105), cursor.Int64())
}

func TestAdjustmentsRunnerResumesFromCursor(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedUltrasoundPayloads(t, store, 100, 200)
	require.NoError(t, store.Checkpoints.SetCursor("adjustments", big.NewInt(150)))

	// A fetch failure below the cursor would fail the run; being skipped
	// proves the walk resumed past it.
	api := &fakeAdjustmentAPI{failAt: 100}
	runner := NewAdjustmentsRunner(api, store)

	require.NoError(t, runner.Run(context.Background()))

	adjustments, err := store.Relays.GetAdjustmentsBySlot(200)
	require.NoError(t, err)
	assert.Len(t, adjustments, 1)

	adjustments, err = store.Relays.GetAdjustmentsBySlot(100)
	require.NoError(t, err)
	assert.Empty(t, adjustments)
}
