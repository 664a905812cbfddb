package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/aggregator"
	"github.com/turing-trading/tt-flashbots-worktest/internal/backfill"
	"github.com/turing-trading/tt-flashbots-worktest/internal/balance"
	"github.com/turing-trading/tt-flashbots-worktest/internal/relay"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
	"github.com/turing-trading/tt-flashbots-worktest/internal/source"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

var (
	backfillStartSlot uint64
	backfillEndSlot   uint64
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run a resumable historical backfill stream",
}

var backfillBlocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Backfill block headers from the date-partitioned archive",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		src, err := source.NewS3Source(&config.Cfg.Source)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive source")
		}
		runBackfill(backfill.NewBlocksRunner(src, store).Run)
	},
}

var backfillBalancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Backfill fee-recipient balance deltas",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		tracker := balance.NewTracker(mustRPC(), store)
		runBackfill(backfill.NewBalancesRunner(tracker, store).Run)
	},
}

var backfillTransfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Backfill auxiliary builder balance deltas",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		tracker := balance.NewTracker(mustRPC(), store)
		runBackfill(backfill.NewTransfersRunner(tracker, store).Run)
	},
}

var backfillRelaysCmd = &cobra.Command{
	Use:   "relays",
	Short: "Backfill delivered payloads from every relay",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		client := relay.NewClient()
		runner := backfill.NewRelaysRunner(client, relay.NewCollector(client, store))
		runner.StartSlot = backfillStartSlot
		runner.EndSlot = backfillEndSlot
		runBackfill(runner.Run)
	},
}

var backfillAdjustmentsCmd = &cobra.Command{
	Use:   "adjustments",
	Short: "Backfill relay bid adjustments",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		runBackfill(backfill.NewAdjustmentsRunner(relay.NewClient(), store).Run)
	},
}

var backfillAggregatesCmd = &cobra.Command{
	Use:   "aggregates",
	Short: "Compute missing PBS aggregate records",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		runBackfill(backfill.NewAggregatesRunner(aggregator.New(store), store).Run)
	},
}

var backfillGapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Detect relay payload gaps and repair them",
	Run: func(cmd *cobra.Command, args []string) {
		store := mustStorage()
		client := relay.NewClient()
		collector := relay.NewCollector(client, store)
		runBackfill(collector.DetectAndRepairGaps)
	},
}

func init() {
	backfillRelaysCmd.Flags().Uint64Var(&backfillStartSlot, "start-slot", 0, "Slot to walk down from (default: finalized head minus a safety buffer)")
	backfillRelaysCmd.Flags().Uint64Var(&backfillEndSlot, "end-slot", 0, "Slot to stop at (default: 0)")
	backfillCmd.AddCommand(backfillBlocksCmd)
	backfillCmd.AddCommand(backfillBalancesCmd)
	backfillCmd.AddCommand(backfillTransfersCmd)
	backfillCmd.AddCommand(backfillRelaysCmd)
	backfillCmd.AddCommand(backfillAdjustmentsCmd)
	backfillCmd.AddCommand(backfillAggregatesCmd)
	backfillCmd.AddCommand(backfillGapsCmd)
}

func mustStorage() storage.IStorage {
	if err := config.Validate(true, false, false); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	store, err := storage.NewStorageConnector(&config.Cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	return store
}

func mustRPC() rpc.IRPCClient {
	if err := config.Validate(false, true, false); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	rpcClient, err := rpc.Initialize()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RPC")
	}
	return rpcClient
}

// runBackfill executes a stream with signal-driven cancellation. Unit
// failures are retried on the next invocation; stream failures exit
// non-zero.
func runBackfill(run func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal %v, stopping backfill", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Backfill failed")
	}
}
