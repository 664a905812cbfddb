// Package backfill holds the shared resumable-backfill skeleton and the
// per-source runners built on it.
package backfill

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// Driver is the generic backfill loop: select a chunk of missing work,
// process units concurrently, repeat until the selector runs dry. Unit
// processors commit their own rows and advance their own checkpoint in
// the same transaction, so a failed unit is simply retried on the next
// invocation.
type Driver[T any] struct {
	Stream      string
	Concurrency int
	ChunkSize   int

	// SelectWork returns at most limit units of missing work. It must not
	// return work that already succeeded this run.
	SelectWork func(ctx context.Context, limit int) ([]T, error)
	// ProcessUnit handles one unit end to end, including the upsert and
	// checkpoint advance.
	ProcessUnit func(ctx context.Context, unit T) error
	// DescribeUnit labels a unit for logs.
	DescribeUnit func(unit T) string
}

func (d *Driver[T]) Run(ctx context.Context) error {
	if d.Concurrency <= 0 {
		d.Concurrency = 5
	}
	totalProcessed := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		units, err := d.SelectWork(ctx, d.ChunkSize)
		if err != nil {
			return fmt.Errorf("work selection failed for %s: %w", d.Stream, err)
		}
		if len(units) == 0 {
			log.Info().Str("stream", d.Stream).Msgf("Backfill complete, %d units processed", totalProcessed)
			return nil
		}

		bar := pb.New(len(units)).Prefix(d.Stream)
		bar.ShowTimeLeft = true
		bar.Start()

		processed := 0
		failed := 0
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(d.Concurrency)
		results := make(chan error, len(units))

		for _, unit := range units {
			unit := unit
			group.Go(func() error {
				err := d.ProcessUnit(groupCtx, unit)
				if err != nil {
					log.Warn().Err(err).Str("stream", d.Stream).Msgf("Unit %s failed, will retry on next run", d.DescribeUnit(unit))
					metrics.BackfillUnitsFailed.WithLabelValues(d.Stream).Inc()
				} else {
					metrics.BackfillUnitsProcessed.WithLabelValues(d.Stream).Inc()
				}
				bar.Increment()
				results <- err
				// Unit errors stay inside the unit; only cancellation stops
				// the group.
				return groupCtx.Err()
			})
		}
		groupErr := group.Wait()
		close(results)
		bar.Finish()

		for err := range results {
			if err != nil {
				failed++
			} else {
				processed++
			}
		}
		totalProcessed += processed
		if groupErr != nil {
			return groupErr
		}

		log.Info().Str("stream", d.Stream).Msgf("Chunk done: %d processed, %d failed", processed, failed)
		if processed == 0 {
			return fmt.Errorf("backfill %s made no progress: %d units failed", d.Stream, failed)
		}
		if len(units) < d.ChunkSize {
			log.Info().Str("stream", d.Stream).Msgf("Backfill complete, %d units processed", totalProcessed)
			return nil
		}
	}
}
