package aggregator

import (
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

const testMiner = "0x95222290dd7278aa3ddd389cc1e1d165cc4bafe5"

func extraData(s string) string {
	return "0x" + hex.EncodeToString([]byte(s))
}

func seedBlock(t *testing.T, store storage.IStorage, number int64, extra string) common.Block {
	t.Helper()
	block := common.Block{
		Number:    big.NewInt(number),
		Hash:      "0xabc",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Miner:     testMiner,
		ExtraData: extra,
		GasLimit:  big.NewInt(30_000_000),
		GasUsed:   big.NewInt(12_000_000),
	}
	require.NoError(t, store.Blocks.InsertBlocks([]common.Block{block}))
	return block
}

func seedDelta(t *testing.T, store storage.IStorage, number, increase int64) {
	t.Helper()
	before := new(big.Int).SetUint64(1e18)
	after := new(big.Int).Add(before, big.NewInt(increase))
	require.NoError(t, store.Balances.InsertBalanceDeltas([]common.BalanceDelta{{
		BlockNumber:     big.NewInt(number),
		Address:         testMiner,
		BalanceBefore:   before,
		BalanceAfter:    after,
		BalanceIncrease: big.NewInt(increase),
	}}))
}

func seedPayload(t *testing.T, store storage.IStorage, relay string, number int64, slot uint64, value uint64) {
	t.Helper()
	require.NoError(t, store.Relays.InsertRelayPayloads([]common.RelayPayload{{
		Relay:          relay,
		Slot:           slot,
		BlockNumber:    big.NewInt(number),
		BuilderPubkey:  "0xb0b",
		ProposerPubkey: "0xa11",
		Value:          uint256.NewInt(value),
	}}))
}

func seedTransfer(t *testing.T, store storage.IStorage, number, increase int64, address string) {
	t.Helper()
	before := new(big.Int).SetUint64(1e18)
	after := new(big.Int).Add(before, big.NewInt(increase))
	require.NoError(t, store.Balances.InsertBuilderTransfers([]common.BuilderTransfer{{
		BlockNumber:     big.NewInt(number),
		BuilderAddress:  address,
		Miner:           testMiner,
		BalanceBefore:   before,
		BalanceAfter:    after,
		BalanceIncrease: big.NewInt(increase),
	}}))
}

func TestAggregateVanillaBlock(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	seedBlock(t, store, 100, extraData("geth/v1.13.0"))
	seedDelta(t, store, 100, 12345)

	record, err := agg.AggregateBlock(big.NewInt(100))
	require.NoError(t, err)

	assert.True(t, record.IsVanilla)
	assert.Equal(t, 0, record.NRelays)
	assert.Empty(t, record.Relays)
	assert.Nil(t, record.Slot)
	assert.Equal(t, "unknown", record.BuilderName)
	assert.Equal(t, 0.0, record.ProposerSubsidy)
	assert.Equal(t, 0.000000000000012345, record.BuilderBalanceIncrease)
	assert.Equal(t, 0.000000000000012345, record.TotalValue)
}

func TestAggregateTwoRelayBlock(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	seedBlock(t, store, 200, extraData("beaverbuild.org"))
	seedDelta(t, store, 200, 52e15)
	seedPayload(t, store, "ultrasound", 200, 9000, 50e15)
	seedPayload(t, store, "flashbots", 200, 9000, 48e15)

	record, err := agg.AggregateBlock(big.NewInt(200))
	require.NoError(t, err)

	assert.False(t, record.IsVanilla)
	assert.Equal(t, 2, record.NRelays)
	assert.Equal(t, []string{"ultrasound", "flashbots"}, record.Relays)
	require.NotNil(t, record.Slot)
	assert.Equal(t, uint64(9000), *record.Slot)
	assert.Equal(t, "BuilderNet (Beaver)", record.BuilderName)
	assert.InDelta(t, 0.050, record.ProposerSubsidy, 1e-12)
	assert.InDelta(t, 0.052, record.BuilderBalanceIncrease, 1e-12)
	assert.InDelta(t, 0.102, record.TotalValue, 1e-12)
}

func TestAggregateOverbidWithRefundUntriggered(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	// naive_total positive: auxiliary transfers stay out of total_value.
	seedBlock(t, store, 300, extraData("titanbuilder.xyz"))
	seedDelta(t, store, 300, -3e15)
	seedPayload(t, store, "ultrasound", 300, 9100, 10e15)
	seedTransfer(t, store, 300, 4e15, "0x9f4cf329f4cf376b7aded854d6054859dd102a2a")

	record, err := agg.AggregateBlock(big.NewInt(300))
	require.NoError(t, err)

	assert.InDelta(t, 0.007, record.TotalValue, 1e-12)
	assert.InDelta(t, 0.004, record.BuilderExtraTransfers, 1e-12)
}

func TestAggregateOverbidWithRefundTriggered(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	// naive_total negative: auxiliary transfers offset the apparent loss.
	seedBlock(t, store, 400, extraData("titanbuilder.xyz"))
	seedDelta(t, store, 400, -20e15)
	seedPayload(t, store, "ultrasound", 400, 9200, 10e15)
	seedTransfer(t, store, 400, 4e15, "0x9f4cf329f4cf376b7aded854d6054859dd102a2a")

	record, err := agg.AggregateBlock(big.NewInt(400))
	require.NoError(t, err)

	assert.InDelta(t, -0.006, record.TotalValue, 1e-12)
	assert.InDelta(t, 0.004, record.BuilderExtraTransfers, 1e-12)
}

func TestAggregateRelayFee(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	seedBlock(t, store, 500, extraData("beaverbuild.org"))
	seedDelta(t, store, 500, 52e15)
	seedPayload(t, store, "ultrasound", 500, 9300, 50e15)
	require.NoError(t, store.Relays.InsertAdjustments([]common.Adjustment{{
		Slot:          9300,
		Relay:         "ultrasound",
		Delta:         big.NewInt(2e15),
		HasAdjustment: true,
		FetchedAt:     time.Now().UTC(),
	}}))

	record, err := agg.AggregateBlock(big.NewInt(500))
	require.NoError(t, err)
	assert.InDelta(t, 0.002, record.RelayFee, 1e-12)
}

// Vanilla equivalence: is_vanilla <=> n_relays = 0 <=> relays empty
// <=> proposer_subsidy = 0.
func TestVanillaEquivalence(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	seedBlock(t, store, 600, extraData("geth"))
	seedDelta(t, store, 600, 1e15)
	seedBlock(t, store, 601, extraData("beaverbuild.org"))
	seedDelta(t, store, 601, 1e15)
	seedPayload(t, store, "aestus.live", 601, 9400, 5e15)

	for _, number := range []int64{600, 601} {
		record, err := agg.AggregateBlock(big.NewInt(number))
		require.NoError(t, err)
		assert.Equal(t, record.IsVanilla, record.NRelays == 0)
		assert.Equal(t, record.IsVanilla, len(record.Relays) == 0)
		assert.Equal(t, record.IsVanilla, record.ProposerSubsidy == 0)
	}
}

// Aggregation over a fixed snapshot is deterministic across runs.
func TestAggregateDeterminism(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	seedBlock(t, store, 700, extraData("beaverbuild.org"))
	seedDelta(t, store, 700, 52e15)
	seedPayload(t, store, "ultrasound", 700, 9500, 50e15)
	seedPayload(t, store, "flashbots", 700, 9500, 48e15)
	seedTransfer(t, store, 700, 4e15, "0x9f4cf329f4cf376b7aded854d6054859dd102a2a")

	first, err := agg.AggregateBlock(big.NewInt(700))
	require.NoError(t, err)
	require.NoError(t, store.Aggregates.InsertAggregates([]common.PBSAggregate{*first}))

	second, err := agg.AggregateBlock(big.NewInt(700))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregateRangeIsRerunnable(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	for i := int64(800); i < 805; i++ {
		seedBlock(t, store, i, extraData("beaverbuild.org"))
		seedDelta(t, store, i, 1e15)
	}

	processed, err := agg.AggregateRange(big.NewInt(800), big.NewInt(804))
	require.NoError(t, err)
	assert.Equal(t, 5, processed)

	firstRun, err := store.Aggregates.GetAggregatesInRange(big.NewInt(800), big.NewInt(804))
	require.NoError(t, err)

	processed, err = agg.AggregateRange(big.NewInt(800), big.NewInt(804))
	require.NoError(t, err)
	assert.Equal(t, 5, processed)

	secondRun, err := store.Aggregates.GetAggregatesInRange(big.NewInt(800), big.NewInt(804))
	require.NoError(t, err)
	assert.Equal(t, firstRun, secondRun)
}

func TestAggregateMissingBlockFails(t *testing.T) {
	store := storage.NewMemoryStorage()
	agg := New(store)

	_, err := agg.AggregateBlock(big.NewInt(999))
	assert.Error(t, err)
}
