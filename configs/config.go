package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"`
}

type EthConfig struct {
	RPCURL string `mapstructure:"rpc_url"`
	WSURL  string `mapstructure:"ws_url"`
}

type RPCConfig struct {
	BlocksPerRequest   int `mapstructure:"blocks_per_request"`
	BalancesPerRequest int `mapstructure:"balances_per_request"`
	ParallelRequests   int `mapstructure:"parallel_requests"`
	MaxRetries         int `mapstructure:"max_retries"`
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`
}

type RelaysConfig struct {
	PageLimit         int     `mapstructure:"page_limit"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	BeaconEndpoint    string  `mapstructure:"beacon_endpoint"`
}

type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region"`
}

type LiveConfig struct {
	QueueSize            int `mapstructure:"queue_size"`
	RelayDelaySeconds    int `mapstructure:"relay_delay_seconds"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
	MaxBlocksInFlight    int `mapstructure:"max_blocks_in_flight"`
}

type BackfillConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	ChunkSize   int    `mapstructure:"chunk_size"`
	StartDate   string `mapstructure:"start_date"`
}

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Eth      EthConfig      `mapstructure:"eth"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Relays   RelaysConfig   `mapstructure:"relays"`
	Source   SourceConfig   `mapstructure:"source"`
	Live     LiveConfig     `mapstructure:"live"`
	Backfill BackfillConfig `mapstructure:"backfill"`
}

var Cfg Config

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.max_conn_lifetime", 300)
	viper.SetDefault("eth.rpc_url", "")
	viper.SetDefault("eth.ws_url", "")
	viper.SetDefault("rpc.blocks_per_request", 50)
	viper.SetDefault("rpc.balances_per_request", 10)
	viper.SetDefault("rpc.parallel_requests", 5)
	viper.SetDefault("rpc.max_retries", 5)
	viper.SetDefault("rpc.timeout_seconds", 30)
	viper.SetDefault("relays.page_limit", 200)
	viper.SetDefault("relays.requests_per_second", 2.0)
	viper.SetDefault("relays.max_retries", 5)
	viper.SetDefault("relays.timeout_seconds", 30)
	viper.SetDefault("relays.beacon_endpoint", "https://ethereum-beacon-api.publicnode.com")
	viper.SetDefault("source.base_url", "https://aws-public-blockchain.s3.us-east-2.amazonaws.com")
	viper.SetDefault("source.bucket", "aws-public-blockchain")
	viper.SetDefault("source.prefix", "v1.0/eth/blocks")
	viper.SetDefault("source.region", "us-east-2")
	viper.SetDefault("live.queue_size", 100)
	viper.SetDefault("live.relay_delay_seconds", 480)
	viper.SetDefault("live.shutdown_grace_seconds", 30)
	viper.SetDefault("live.max_blocks_in_flight", 8)
	viper.SetDefault("backfill.concurrency", 5)
	viper.SetDefault("backfill.chunk_size", 10000)
	viper.SetDefault("backfill.start_date", "2015-07-30")
}

func LoadConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file, %s", err)
		}
	}

	// sets e.g. DATABASE_URL to database.url
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv()

	err := viper.Unmarshal(&Cfg)
	if err != nil {
		return fmt.Errorf("error unmarshalling config: %v", err)
	}

	return nil
}

// Validate checks the settings that have no workable default. Called by
// commands that talk to the database or the chain before doing any work.
func Validate(needDB, needRPC, needWS bool) error {
	if needDB && Cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	if needRPC && Cfg.Eth.RPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL environment variable is not set")
	}
	if needWS && Cfg.Eth.WSURL == "" {
		return fmt.Errorf("ETH_WS_URL environment variable is not set")
	}
	return nil
}
