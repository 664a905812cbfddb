package storage

import (
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

func memBlock(number int64) common.Block {
	return common.Block{
		Number:    big.NewInt(number),
		Hash:      "0xhash",
		Miner:     "0xminer",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func memPayload(relay string, slot uint64, blockNumber int64) common.RelayPayload {
	return common.RelayPayload{
		Relay:       relay,
		Slot:        slot,
		BlockNumber: big.NewInt(blockNumber),
		Value:       uint256.NewInt(1),
	}
}

// Upserting the same rows twice leaves the store unchanged.
func TestInsertBlocksIsIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	blocks := []common.Block{memBlock(1), memBlock(2)}

	require.NoError(t, store.Blocks.InsertBlocks(blocks))
	first, err := store.Blocks.GetBlocksInRange(big.NewInt(0), big.NewInt(10))
	require.NoError(t, err)

	require.NoError(t, store.Blocks.InsertBlocks(blocks))
	second, err := store.Blocks.GetBlocksInRange(big.NewInt(0), big.NewInt(10))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRelayPayloadInsertionOrderPreserved(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{memPayload("ultrasound", 100, 50)}))
	require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{memPayload("flashbots", 100, 50)}))

	// Re-upserting the first relay must not move it to the back.
	require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{memPayload("ultrasound", 100, 50)}))

	payloads, err := store.Relays.GetRelayPayloadsByBlock(big.NewInt(50))
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "ultrasound", payloads[0].Relay)
	assert.Equal(t, "flashbots", payloads[1].Relay)
}

func TestCursorNeverRegresses(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Checkpoints.SetCursor("stream", big.NewInt(100)))
	require.NoError(t, store.Checkpoints.SetCursor("stream", big.NewInt(50)))

	cursor, err := store.Checkpoints.GetCursor("stream")
	require.NoError(t, err)
	assert.Equal(t, int64(100), cursor.Int64())

	require.NoError(t, store.Checkpoints.SetCursor("stream", big.NewInt(150)))
	cursor, err = store.Checkpoints.GetCursor("stream")
	require.NoError(t, err)
	assert.Equal(t, int64(150), cursor.Int64())
}

func TestInsertBlocksForDateRecordsCheckpoint(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Blocks.InsertBlocksForDate([]common.Block{memBlock(1)}, "2025-01-01"))

	dates, err := store.Checkpoints.GetCompletedDates()
	require.NoError(t, err)
	assert.True(t, dates["2025-01-01"])
	assert.False(t, dates["2025-01-02"])
}

func TestMissingSelectors(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Blocks.InsertBlocks([]common.Block{memBlock(1), memBlock(2), memBlock(3)}))
	require.NoError(t, store.Balances.InsertBalanceDeltas([]common.BalanceDelta{{
		BlockNumber:     big.NewInt(2),
		Address:         "0xminer",
		BalanceBefore:   big.NewInt(0),
		BalanceAfter:    big.NewInt(1),
		BalanceIncrease: big.NewInt(1),
	}}))

	missing, err := store.Blocks.GetBlocksMissingBalanceDeltas(10)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	// Newest first.
	assert.Equal(t, int64(3), missing[0].Number.Int64())
	assert.Equal(t, int64(1), missing[1].Number.Int64())
}

func TestGetDailyPayloadCounts(t *testing.T) {
	store := NewMemoryStorage()
	day0 := common.TimestampToSlot(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	day1 := common.TimestampToSlot(time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))
	require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{
		memPayload("ultrasound", day0, 1),
		memPayload("ultrasound", day0+1, 2),
		memPayload("ultrasound", day1, 3),
	}))

	counts, err := store.Relays.GetDailyPayloadCounts("ultrasound")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "2024-03-01", counts[0].Date)
	assert.Equal(t, int64(2), counts[0].Count)
	assert.Equal(t, int64(1), counts[1].Count)
}
