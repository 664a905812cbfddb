package backfill

import (
	"context"
	"fmt"
	"sync"

	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/balance"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

// BalancesRunner fills fee-recipient balance deltas for blocks that do
// not have one yet, newest first. The work selector doubles as the
// checkpoint: a block with a committed row is never selected again.
type BalancesRunner struct {
	tracker *balance.Tracker
	storage storage.IStorage

	mu        sync.Mutex
	attempted map[string]bool
}

func NewBalancesRunner(tracker *balance.Tracker, storage storage.IStorage) *BalancesRunner {
	return &BalancesRunner{tracker: tracker, storage: storage, attempted: make(map[string]bool)}
}

func (r *BalancesRunner) Run(ctx context.Context) error {
	driver := &Driver[common.Block]{
		Stream:      "balances",
		Concurrency: config.Cfg.Backfill.Concurrency,
		ChunkSize:   config.Cfg.Backfill.ChunkSize,
		SelectWork:  r.selectBlocks,
		ProcessUnit: func(ctx context.Context, block common.Block) error {
			return r.tracker.ProcessBlock(ctx, block)
		},
		DescribeUnit: func(block common.Block) string {
			return fmt.Sprintf("block %s", block.Number.String())
		},
	}
	return driver.Run(ctx)
}

func (r *BalancesRunner) selectBlocks(ctx context.Context, limit int) ([]common.Block, error) {
	blocks, err := r.storage.Blocks.GetBlocksMissingBalanceDeltas(limit)
	if err != nil {
		return nil, err
	}
	return filterAttempted(&r.mu, r.attempted, blocks), nil
}

// filterAttempted drops blocks already handed out this run so a block
// whose unit failed is retried on the next invocation, not in a loop.
func filterAttempted(mu *sync.Mutex, attempted map[string]bool, blocks []common.Block) []common.Block {
	mu.Lock()
	defer mu.Unlock()
	kept := make([]common.Block, 0, len(blocks))
	for _, block := range blocks {
		key := block.Number.String()
		if attempted[key] {
			continue
		}
		attempted[key] = true
		kept = append(kept, block)
	}
	return kept
}
