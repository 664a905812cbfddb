package balance

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

const knownMiner = "0x95222290dd7278aa3ddd389cc1e1d165cc4bafe5"

// fakeRPC serves balances from a (address, block) map and fails reads
// listed in failing.
type fakeRPC struct {
	balances map[string]*big.Int
	failing  map[string]bool
}

func balanceKey(address string, blockNumber *big.Int) string {
	return fmt.Sprintf("%s@%s", address, blockNumber.String())
}

func (f *fakeRPC) GetBalances(ctx context.Context, reads []rpc.BalanceRead) []rpc.GetBalanceResult {
	results := make([]rpc.GetBalanceResult, len(reads))
	for i, read := range reads {
		results[i] = rpc.GetBalanceResult{Read: read}
		key := balanceKey(read.Address, read.BlockNumber)
		if f.failing[key] {
			results[i].Error = fmt.Errorf("read failed")
			continue
		}
		balance, ok := f.balances[key]
		if !ok {
			balance = big.NewInt(0)
		}
		results[i].Balance = balance
	}
	return results
}

func (f *fakeRPC) GetBlockHeaders(ctx context.Context, blockNumbers []*big.Int) []rpc.GetBlockHeaderResult {
	return nil
}

func (f *fakeRPC) GetLatestBlockNumber(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeRPC) GetURL() string { return "fake" }
func (f *fakeRPC) Close()         {}

func testBlock(number int64, miner string) common.Block {
	return common.Block{Number: big.NewInt(number), Miner: miner}
}

func TestBalanceDeltas(t *testing.T) {
	api := &fakeRPC{balances: map[string]*big.Int{
		balanceKey("0xfee", big.NewInt(99)):  big.NewInt(1000),
		balanceKey("0xfee", big.NewInt(100)): big.NewInt(1500),
	}}
	tracker := NewTracker(api, storage.NewMemoryStorage())

	deltas, err := tracker.BalanceDeltas(context.Background(), []common.Block{testBlock(100, "0xfee")})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(500), deltas[0].BalanceIncrease.Int64())
	assert.Equal(t, "0xfee", deltas[0].Address)
}

func TestBalanceDeltasCanBeNegative(t *testing.T) {
	api := &fakeRPC{balances: map[string]*big.Int{
		balanceKey("0xfee", big.NewInt(99)):  big.NewInt(2000),
		balanceKey("0xfee", big.NewInt(100)): big.NewInt(500),
	}}
	tracker := NewTracker(api, storage.NewMemoryStorage())

	deltas, err := tracker.BalanceDeltas(context.Background(), []common.Block{testBlock(100, "0xfee")})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(-1500), deltas[0].BalanceIncrease.Int64())
}

// A failed read discards the whole block so it can be retried later.
func TestBalanceDeltasDropPartialFailures(t *testing.T) {
	api := &fakeRPC{
		balances: map[string]*big.Int{
			balanceKey("0xfee", big.NewInt(199)): big.NewInt(10),
			balanceKey("0xfee", big.NewInt(200)): big.NewInt(20),
		},
		failing: map[string]bool{balanceKey("0xfee", big.NewInt(99)): true},
	}
	tracker := NewTracker(api, storage.NewMemoryStorage())

	deltas, err := tracker.BalanceDeltas(context.Background(), []common.Block{
		testBlock(100, "0xfee"),
		testBlock(200, "0xfee"),
	})
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, int64(200), deltas[0].BlockNumber.Int64())
}

func TestProcessBlockStoresDelta(t *testing.T) {
	store := storage.NewMemoryStorage()
	api := &fakeRPC{balances: map[string]*big.Int{
		balanceKey("0xfee", big.NewInt(99)):  big.NewInt(0),
		balanceKey("0xfee", big.NewInt(100)): big.NewInt(12345),
	}}
	tracker := NewTracker(api, store)

	require.NoError(t, tracker.ProcessBlock(context.Background(), testBlock(100, "0xfee")))

	delta, err := store.Balances.GetBalanceDelta(big.NewInt(100))
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Equal(t, int64(12345), delta.BalanceIncrease.Int64())
}

func TestBuilderTransfersForKnownMiner(t *testing.T) {
	store := storage.NewMemoryStorage()
	aux := KnownBuilderAddresses[knownMiner][0]
	api := &fakeRPC{balances: map[string]*big.Int{
		balanceKey(aux, big.NewInt(99)):  big.NewInt(100),
		balanceKey(aux, big.NewInt(100)): big.NewInt(400),
	}}
	tracker := NewTracker(api, store)

	require.NoError(t, tracker.ProcessBuilderTransfers(context.Background(), testBlock(100, knownMiner)))

	transfers, err := store.Balances.GetBuilderTransfers(big.NewInt(100))
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, aux, transfers[0].BuilderAddress)
	assert.Equal(t, int64(300), transfers[0].BalanceIncrease.Int64())
}

func TestBuilderTransfersUnknownMinerYieldsNothing(t *testing.T) {
	store := storage.NewMemoryStorage()
	tracker := NewTracker(&fakeRPC{}, store)

	require.NoError(t, tracker.ProcessBuilderTransfers(context.Background(), testBlock(100, "0xnobody")))

	transfers, err := store.Balances.GetBuilderTransfers(big.NewInt(100))
	require.NoError(t, err)
	assert.Empty(t, transfers)
}
