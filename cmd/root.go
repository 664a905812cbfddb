package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	configs "github.com/turing-trading/tt-flashbots-worktest/configs"
	customLogger "github.com/turing-trading/tt-flashbots-worktest/internal/log"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "pbs-pipeline",
		Short: "Ethereum PBS market data ingestion pipeline",
		Long:  "Ingests per-block PBS facts (headers, balances, relay payloads, adjustments) and derives the aggregated per-block record.",
		Run: func(cmd *cobra.Command, args []string) {
			RunLive(cmd, args)
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, env vars take precedence)")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	rootCmd.PersistentFlags().String("eth-rpc-url", "", "Ethereum JSON-RPC HTTPS endpoint")
	rootCmd.PersistentFlags().String("eth-ws-url", "", "Ethereum WebSocket endpoint")
	rootCmd.PersistentFlags().String("log-level", "", "Log level to use for the application")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Whether to prettify the log output")
	rootCmd.PersistentFlags().Int("rpc-blocks-per-request", 0, "How many block headers to fetch per batched RPC request")
	rootCmd.PersistentFlags().Int("rpc-balances-per-request", 0, "How many balances to fetch per batched RPC request")
	rootCmd.PersistentFlags().Int("rpc-parallel-requests", 0, "How many batched RPC requests to keep in flight")
	rootCmd.PersistentFlags().Int("relays-page-limit", 0, "Default page size for relay pagination")
	rootCmd.PersistentFlags().Int("live-queue-size", 0, "Capacity of the bounded head queue")
	rootCmd.PersistentFlags().Int("live-relay-delay-seconds", 0, "Seconds to wait before querying relays for a fresh block")
	rootCmd.PersistentFlags().Int("live-shutdown-grace-seconds", 0, "Grace period for in-flight stages on shutdown")
	rootCmd.PersistentFlags().Int("backfill-concurrency", 0, "Concurrent units per backfill stream")
	rootCmd.PersistentFlags().Int("backfill-chunk-size", 0, "Max units selected per backfill chunk")
	rootCmd.PersistentFlags().String("backfill-start-date", "", "First archive date to backfill blocks from")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("eth.rpc_url", rootCmd.PersistentFlags().Lookup("eth-rpc-url"))
	viper.BindPFlag("eth.ws_url", rootCmd.PersistentFlags().Lookup("eth-ws-url"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("rpc.blocks_per_request", rootCmd.PersistentFlags().Lookup("rpc-blocks-per-request"))
	viper.BindPFlag("rpc.balances_per_request", rootCmd.PersistentFlags().Lookup("rpc-balances-per-request"))
	viper.BindPFlag("rpc.parallel_requests", rootCmd.PersistentFlags().Lookup("rpc-parallel-requests"))
	viper.BindPFlag("relays.page_limit", rootCmd.PersistentFlags().Lookup("relays-page-limit"))
	viper.BindPFlag("live.queue_size", rootCmd.PersistentFlags().Lookup("live-queue-size"))
	viper.BindPFlag("live.relay_delay_seconds", rootCmd.PersistentFlags().Lookup("live-relay-delay-seconds"))
	viper.BindPFlag("live.shutdown_grace_seconds", rootCmd.PersistentFlags().Lookup("live-shutdown-grace-seconds"))
	viper.BindPFlag("backfill.concurrency", rootCmd.PersistentFlags().Lookup("backfill-concurrency"))
	viper.BindPFlag("backfill.chunk_size", rootCmd.PersistentFlags().Lookup("backfill-chunk-size"))
	viper.BindPFlag("backfill.start_date", rootCmd.PersistentFlags().Lookup("backfill-start-date"))
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initConfig() {
	if err := configs.LoadConfig(cfgFile); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	customLogger.InitLogger()
}
