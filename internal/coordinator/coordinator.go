// Package coordinator runs the live pipeline: one WebSocket head stream
// fanned out to six per-block stages over a bounded queue.
package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/aggregator"
	"github.com/turing-trading/tt-flashbots-worktest/internal/balance"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/metrics"
	"github.com/turing-trading/tt-flashbots-worktest/internal/relay"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

type Coordinator struct {
	rpc        rpc.IRPCClient
	storage    storage.IStorage
	tracker    *balance.Tracker
	collector  *relay.Collector
	aggregator *aggregator.Aggregator

	wsURL       string
	queueSize   int
	relayDelay  time.Duration
	grace       time.Duration
	maxInFlight int

	cancel context.CancelFunc
}

func New(rpcClient rpc.IRPCClient, store storage.IStorage) *Coordinator {
	cfg := config.Cfg.Live
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	relayDelay := time.Duration(cfg.RelayDelaySeconds) * time.Second
	if relayDelay <= 0 {
		relayDelay = 8 * time.Minute
	}
	grace := time.Duration(cfg.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}
	maxInFlight := cfg.MaxBlocksInFlight
	if maxInFlight <= 0 {
		maxInFlight = 8
	}

	relayClient := relay.NewClient()
	return &Coordinator{
		rpc:         rpcClient,
		storage:     store,
		tracker:     balance.NewTracker(rpcClient, store),
		collector:   relay.NewCollector(relayClient, store),
		aggregator:  aggregator.New(store),
		wsURL:       config.Cfg.Eth.WSURL,
		queueSize:   queueSize,
		relayDelay:  relayDelay,
		grace:       grace,
		maxInFlight: maxInFlight,
	}
}

// Start runs until a termination signal arrives, then drains in-flight
// stages within the grace period and returns.
func (c *Coordinator) Start() error {
	if c.wsURL == "" {
		return fmt.Errorf("ETH_WS_URL environment variable is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal %v, initiating graceful shutdown", sig)
		cancel()
	}()

	queue := make(chan HeadEvent, c.queueSize)
	listener := NewHeadListener(c.wsURL, queue)

	var listenerWg sync.WaitGroup
	listenerWg.Add(1)
	go func() {
		defer listenerWg.Done()
		listener.Run(ctx)
	}()

	// Stages for block N+1 may overlap stages for block N, bounded by
	// maxInFlight. The stages keep draining the queue during reconnects.
	var blocksWg sync.WaitGroup
	slots := make(chan struct{}, c.maxInFlight)

drain:
	for {
		select {
		case <-ctx.Done():
			break drain
		case head := <-queue:
			metrics.HeadQueueDepth.Set(float64(len(queue)))
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				break drain
			}
			blocksWg.Add(1)
			go func(head HeadEvent) {
				defer blocksWg.Done()
				defer func() { <-slots }()
				c.processBlock(ctx, head)
			}(head)
		}
	}

	listenerWg.Wait()
	c.shutdown(&blocksWg)
	return nil
}

// Shutdown requests a graceful stop.
func (c *Coordinator) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) shutdown(blocksWg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		blocksWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("All in-flight stages drained, exiting")
	case <-time.After(c.grace):
		log.Warn().Msgf("Shutdown grace period of %s elapsed with stages still running", c.grace)
	}
}

type stageResult struct {
	name string
	err  error
}

// processBlock runs the six stages for one head. The header store must
// complete first; balance delta, builder transfers, relay collection and
// adjustments run concurrently; the aggregate fires once all four have
// reported success or defined failure.
func (c *Coordinator) processBlock(ctx context.Context, head HeadEvent) {
	block, err := c.runHeaderStage(ctx, head)
	if err != nil {
		// Nothing downstream can reference the block; the next head
		// proceeds normally.
		log.Error().Err(err).Msgf("Header stage failed for block %s", head.Number.String())
		return
	}

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"balance_delta", func(ctx context.Context) error {
			return c.tracker.ProcessBlock(ctx, *block)
		}},
		{"builder_transfers", func(ctx context.Context) error {
			return c.tracker.ProcessBuilderTransfers(ctx, *block)
		}},
		{"relay_payloads", func(ctx context.Context) error {
			if !c.waitForRelayPublication(ctx, block.Timestamp) {
				return ctx.Err()
			}
			return c.collector.CollectBlock(ctx, block.Number)
		}},
		{"adjustments", func(ctx context.Context) error {
			if !c.waitForRelayPublication(ctx, block.Timestamp) {
				return ctx.Err()
			}
			return c.collector.CollectAdjustments(ctx, common.TimestampToSlot(block.Timestamp))
		}},
	}

	var wg sync.WaitGroup
	results := make(chan stageResult, len(stages))
	for _, stage := range stages {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			results <- stageResult{name: name, err: c.runStage(ctx, name, fn)}
		}(stage.name, stage.fn)
	}
	wg.Wait()
	close(results)

	if ctx.Err() != nil {
		// Cancelled mid-block; skip the aggregate rather than derive from
		// partial inputs that will be completed on restart.
		return
	}
	for result := range results {
		if result.err != nil {
			log.Warn().Err(result.err).Str("stage", result.name).Msgf("Stage failed for block %s", head.Number.String())
		}
	}

	if err := c.runStage(ctx, "pbs_aggregate", func(context.Context) error {
		return c.aggregator.ProcessBlock(block.Number)
	}); err != nil {
		log.Warn().Err(err).Msgf("Aggregate stage failed for block %s", head.Number.String())
	}
}

func (c *Coordinator) runHeaderStage(ctx context.Context, head HeadEvent) (*common.Block, error) {
	var block *common.Block
	err := c.runStage(ctx, "block_header", func(ctx context.Context) error {
		results := c.rpc.GetBlockHeaders(ctx, []*big.Int{head.Number})
		if len(results) == 0 {
			return fmt.Errorf("no header result for block %s", head.Number.String())
		}
		if results[0].Error != nil {
			return results[0].Error
		}
		fetched := results[0].Data
		if err := c.storage.Blocks.InsertBlocks([]common.Block{fetched}); err != nil {
			return err
		}
		block = &fetched
		return nil
	})
	return block, err
}

// waitForRelayPublication sleeps out the relay publication lag, measured
// from the block's own timestamp. Returns false on cancellation.
func (c *Coordinator) waitForRelayPublication(ctx context.Context, blockTime time.Time) bool {
	wait := c.relayDelay - time.Since(blockTime)
	if wait <= 0 {
		return true
	}
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StageFailures.WithLabelValues(name).Inc()
		return err
	}
	metrics.StageSuccesses.WithLabelValues(name).Inc()
	return nil
}
