package backfill

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/aggregator"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

// AggregatesRunner computes PBS aggregate records for blocks missing
// one, newest first.
type AggregatesRunner struct {
	aggregator *aggregator.Aggregator
	storage    storage.IStorage

	mu        sync.Mutex
	attempted map[string]bool
}

func NewAggregatesRunner(agg *aggregator.Aggregator, storage storage.IStorage) *AggregatesRunner {
	return &AggregatesRunner{aggregator: agg, storage: storage, attempted: make(map[string]bool)}
}

func (r *AggregatesRunner) Run(ctx context.Context) error {
	driver := &Driver[*big.Int]{
		Stream:      "aggregates",
		Concurrency: config.Cfg.Backfill.Concurrency,
		ChunkSize:   config.Cfg.Backfill.ChunkSize,
		SelectWork:  r.selectBlocks,
		ProcessUnit: func(ctx context.Context, blockNumber *big.Int) error {
			return r.aggregator.ProcessBlock(blockNumber)
		},
		DescribeUnit: func(blockNumber *big.Int) string {
			return fmt.Sprintf("block %s", blockNumber.String())
		},
	}
	return driver.Run(ctx)
}

func (r *AggregatesRunner) selectBlocks(ctx context.Context, limit int) ([]*big.Int, error) {
	numbers, err := r.storage.Blocks.GetBlocksMissingAggregates(limit)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]*big.Int, 0, len(numbers))
	for _, number := range numbers {
		key := number.String()
		if r.attempted[key] {
			continue
		}
		r.attempted[key] = true
		kept = append(kept, number)
	}
	return kept, nil
}
