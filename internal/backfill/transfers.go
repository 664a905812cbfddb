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

// TransfersRunner fills auxiliary builder balance rows for blocks whose
// fee recipient is a known builder address.
type TransfersRunner struct {
	tracker *balance.Tracker
	storage storage.IStorage

	mu        sync.Mutex
	attempted map[string]bool
}

func NewTransfersRunner(tracker *balance.Tracker, storage storage.IStorage) *TransfersRunner {
	return &TransfersRunner{tracker: tracker, storage: storage, attempted: make(map[string]bool)}
}

func (r *TransfersRunner) Run(ctx context.Context) error {
	driver := &Driver[common.Block]{
		Stream:      "transfers",
		Concurrency: config.Cfg.Backfill.Concurrency,
		ChunkSize:   config.Cfg.Backfill.ChunkSize,
		SelectWork:  r.selectBlocks,
		ProcessUnit: func(ctx context.Context, block common.Block) error {
			return r.tracker.ProcessBuilderTransfers(ctx, block)
		},
		DescribeUnit: func(block common.Block) string {
			return fmt.Sprintf("block %s", block.Number.String())
		},
	}
	return driver.Run(ctx)
}

func (r *TransfersRunner) selectBlocks(ctx context.Context, limit int) ([]common.Block, error) {
	blocks, err := r.storage.Blocks.GetBlocksMissingBuilderTransfers(balance.KnownMiners(), limit)
	if err != nil {
		return nil, err
	}
	return filterAttempted(&r.mu, r.attempted, blocks), nil
}
