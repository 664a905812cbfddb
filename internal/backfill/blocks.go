package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/source"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

// BlocksRunner fills the blocks table from the date-partitioned archive,
// one date per unit, ascending. A date's blocks and its checkpoint commit
// in one transaction.
type BlocksRunner struct {
	source  *source.S3Source
	storage storage.IStorage

	// dates skipped this run, so a hole in the archive does not stall the
	// selector; the checkpoint stays unset and the date retries next run.
	mu      sync.Mutex
	skipped map[string]bool
}

func NewBlocksRunner(src *source.S3Source, storage storage.IStorage) *BlocksRunner {
	return &BlocksRunner{source: src, storage: storage, skipped: make(map[string]bool)}
}

func (r *BlocksRunner) Run(ctx context.Context) error {
	driver := &Driver[string]{
		Stream:      "blocks",
		Concurrency: config.Cfg.Backfill.Concurrency,
		ChunkSize:   31, // one month of dates per chunk
		SelectWork:  r.selectDates,
		ProcessUnit: r.processDate,
		DescribeUnit: func(date string) string {
			return fmt.Sprintf("date %s", date)
		},
	}
	return driver.Run(ctx)
}

func (r *BlocksRunner) selectDates(ctx context.Context, limit int) ([]string, error) {
	completed, err := r.storage.Checkpoints.GetCompletedDates()
	if err != nil {
		return nil, err
	}

	start, err := time.Parse("2006-01-02", config.Cfg.Backfill.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid backfill start date %q: %w", config.Cfg.Backfill.StartDate, err)
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)

	r.mu.Lock()
	defer r.mu.Unlock()
	var dates []string
	for day := start; !day.After(today) && len(dates) < limit; day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		if completed[date] || r.skipped[date] {
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}

func (r *BlocksRunner) processDate(ctx context.Context, date string) error {
	blocks, err := r.source.BlocksForDate(ctx, date)
	if err != nil {
		if errors.Is(err, source.ErrDateMissing) {
			// Reported, not fatal; checkpoint stays unset so the date is
			// retried on the next run.
			log.Warn().Str("date", date).Msg("Archive date missing, skipping")
			r.mu.Lock()
			r.skipped[date] = true
			r.mu.Unlock()
			return nil
		}
		return err
	}
	return r.storage.Blocks.InsertBlocksForDate(blocks, date)
}
