package backfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/relay"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// headSafetyBufferSlots keeps the walk away from the unfinalized head
// (10 minutes of slots).
const headSafetyBufferSlots = 10 * 60 / 12

// RelaysRunner walks every relay's delivered-payload pagination
// concurrently. Relays succeed and fail independently; one relay's
// failure never blocks the others.
type RelaysRunner struct {
	client    relay.PayloadAPI
	collector *relay.Collector

	// StartSlot/EndSlot override the walk bounds; zero values mean
	// "from the chain head" and "to genesis".
	StartSlot uint64
	EndSlot   uint64
}

func NewRelaysRunner(client relay.PayloadAPI, collector *relay.Collector) *RelaysRunner {
	return &RelaysRunner{client: client, collector: collector}
}

func (r *RelaysRunner) Run(ctx context.Context) error {
	latestSlot := r.StartSlot
	if latestSlot == 0 {
		head, err := r.client.LatestSlot(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve latest slot: %w", err)
		}
		latestSlot = head - headSafetyBufferSlots
	}
	log.Info().Uint64("latest_slot", latestSlot).Msgf("Running relay backfill for %d relays", len(relay.Relays))

	bars := make([]*pb.ProgressBar, len(relay.Relays))
	for i, relayHost := range relay.Relays {
		bars[i] = pb.New64(int64(latestSlot - r.EndSlot)).Prefix(relay.CanonicalName(relayHost))
		bars[i].ShowTimeLeft = true
	}
	pool, poolErr := pb.StartPool(bars...)
	if poolErr != nil {
		// Not a tty; walk without the display.
		pool = nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(relay.Relays))
	for i, relayHost := range relay.Relays {
		wg.Add(1)
		go func(i int, relayHost string) {
			defer wg.Done()
			bar := bars[i]
			progress := func(slot uint64) {
				if slot < latestSlot {
					bar.Set64(int64(latestSlot - slot))
				}
			}
			errs[i] = r.collector.Backfill(ctx, relayHost, latestSlot, r.EndSlot, progress)
			if errs[i] == nil {
				bar.Finish()
			}
		}(i, relayHost)
	}
	wg.Wait()
	if pool != nil {
		pool.Stop()
	}

	failures := 0
	for i, err := range errs {
		if err != nil {
			failures++
			log.Error().Err(err).Str("relay", relay.CanonicalName(relay.Relays[i])).Msg("Relay backfill failed")
		}
	}
	if failures == len(relay.Relays) {
		return fmt.Errorf("all %d relay backfills failed", len(relay.Relays))
	}
	log.Info().Msgf("Relay backfill completed: %d/%d relays succeeded", len(relay.Relays)-failures, len(relay.Relays))
	return nil
}
