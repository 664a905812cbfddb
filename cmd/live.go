package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/coordinator"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live coordinator",
	Long:  "Subscribes to new-head events and drives the six per-block stages.",
	Run:   RunLive,
}

func RunLive(cmd *cobra.Command, args []string) {
	if err := config.Validate(true, true, true); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	rpcClient, err := rpc.Initialize()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RPC")
	}
	defer rpcClient.Close()

	store, err := storage.NewStorageConnector(&config.Cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	c := coordinator.New(rpcClient, store)
	if err := c.Start(); err != nil {
		log.Fatal().Err(err).Msg("Live coordinator failed")
	}
}
