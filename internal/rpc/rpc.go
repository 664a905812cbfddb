package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

type GetBlockHeaderResult struct {
	BlockNumber *big.Int
	Error       error
	Data        common.Block
}

// BalanceRead identifies one eth_getBalance call.
type BalanceRead struct {
	Address     string
	BlockNumber *big.Int
}

type GetBalanceResult struct {
	Read    BalanceRead
	Error   error
	Balance *big.Int
}

type IRPCClient interface {
	GetBlockHeaders(ctx context.Context, blockNumbers []*big.Int) []GetBlockHeaderResult
	GetBalances(ctx context.Context, reads []BalanceRead) []GetBalanceResult
	GetLatestBlockNumber(ctx context.Context) (*big.Int, error)
	GetURL() string
	Close()
}

type Client struct {
	RPCClient          *gethRpc.Client
	EthClient          *ethclient.Client
	url                string
	blocksPerRequest   int
	balancesPerRequest int
	parallelRequests   int
	retry              RetryPolicy
}

func Initialize() (IRPCClient, error) {
	rpcUrl := config.Cfg.Eth.RPCURL
	if rpcUrl == "" {
		return nil, fmt.Errorf("ETH_RPC_URL environment variable is not set")
	}
	log.Debug().Msg("Initializing RPC")
	rpcClient, dialErr := gethRpc.Dial(rpcUrl)
	if dialErr != nil {
		return nil, dialErr
	}

	cfg := config.Cfg.RPC
	retry := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = uint64(cfg.MaxRetries) - 1
	}
	if cfg.TimeoutSeconds > 0 {
		retry.AttemptTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	rpc := &Client{
		RPCClient:          rpcClient,
		EthClient:          ethclient.NewClient(rpcClient),
		url:                rpcUrl,
		blocksPerRequest:   orDefault(cfg.BlocksPerRequest, 50),
		balancesPerRequest: orDefault(cfg.BalancesPerRequest, 10),
		parallelRequests:   orDefault(cfg.ParallelRequests, 5),
		retry:              retry,
	}
	return IRPCClient(rpc), nil
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func (rpc *Client) GetURL() string {
	return rpc.url
}

func (rpc *Client) Close() {
	rpc.RPCClient.Close()
	rpc.EthClient.Close()
}

// GetBlockHeaders fetches headers in batched JSON-RPC calls of up to
// blocksPerRequest numbers, parallelRequests chunks in flight. The result
// preserves the input ordering.
func (rpc *Client) GetBlockHeaders(ctx context.Context, blockNumbers []*big.Int) []GetBlockHeaderResult {
	raw := RPCFetchInBatches[*big.Int, RawBlock](rpc, ctx, blockNumbers, rpc.blocksPerRequest, "eth_getBlockByNumber", GetBlockWithoutTransactionsParams)

	results := make([]GetBlockHeaderResult, 0, len(raw))
	for _, r := range raw {
		result := GetBlockHeaderResult{BlockNumber: r.Key}
		switch {
		case r.Error != nil:
			result.Error = r.Error
		case r.Result == nil:
			result.Error = &NotFoundError{What: fmt.Sprintf("block %s", r.Key.String())}
		default:
			result.Data = serializeHeader(r.Result)
			if result.Data.Number == nil {
				result.Error = &ProtocolError{Err: fmt.Errorf("header %s missing block number", r.Key.String())}
			}
		}
		results = append(results, result)
	}
	return results
}

// GetBalances fetches balances in batched JSON-RPC calls of up to
// balancesPerRequest reads. The result preserves the input ordering.
func (rpc *Client) GetBalances(ctx context.Context, reads []BalanceRead) []GetBalanceResult {
	raw := RPCFetchInBatches[BalanceRead, string](rpc, ctx, reads, rpc.balancesPerRequest, "eth_getBalance", GetBalanceParams)

	results := make([]GetBalanceResult, 0, len(raw))
	for _, r := range raw {
		result := GetBalanceResult{Read: r.Key}
		switch {
		case r.Error != nil:
			result.Error = r.Error
		case r.Result == nil:
			result.Error = &NotFoundError{What: fmt.Sprintf("balance of %s at %s", r.Key.Address, r.Key.BlockNumber.String())}
		default:
			balance := common.HexToBigInt(*r.Result)
			if balance == nil {
				result.Error = &ProtocolError{Err: fmt.Errorf("malformed balance %q", *r.Result)}
			} else {
				result.Balance = balance
			}
		}
		results = append(results, result)
	}
	return results
}

func (rpc *Client) GetLatestBlockNumber(ctx context.Context) (*big.Int, error) {
	var blockNumber uint64
	err := rpc.retry.Do(ctx, func(ctx context.Context) error {
		n, err := rpc.EthClient.BlockNumber(ctx)
		if err != nil {
			return err
		}
		blockNumber = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return new(big.Int).SetUint64(blockNumber), nil
}
