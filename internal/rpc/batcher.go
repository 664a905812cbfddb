package rpc

import (
	"context"
	"sync"

	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"golang.org/x/sync/semaphore"
)

type RPCFetchBatchResult[K any, T any] struct {
	Key    K
	Error  error
	Result *T
}

// RPCFetchInBatches splits keys into chunks of batchSize and issues one
// JSON-RPC batch call per chunk, at most parallelRequests in flight. The
// output keeps the input ordering.
func RPCFetchInBatches[K any, T any](rpc *Client, ctx context.Context, keys []K, batchSize int, method string, argsFunc func(K) []interface{}) []RPCFetchBatchResult[K, T] {
	if len(keys) == 0 {
		return nil
	}
	chunks := common.SliceToChunks[K](keys, batchSize)
	if len(chunks) > 1 {
		log.Debug().Msgf("Fetching %s for %d keys in %d chunks of max %d requests", method, len(keys), len(chunks), batchSize)
	}

	sem := semaphore.NewWeighted(int64(rpc.parallelRequests))
	resultChunks := make([][]RPCFetchBatchResult[K, T], len(chunks))

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []K) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				resultChunks[i] = failChunk[K, T](chunk, err)
				return
			}
			defer sem.Release(1)
			resultChunks[i] = RPCFetchSingleBatch[K, T](rpc, ctx, chunk, method, argsFunc)
		}(i, chunk)
	}
	wg.Wait()

	results := make([]RPCFetchBatchResult[K, T], 0, len(keys))
	for _, chunkResults := range resultChunks {
		results = append(results, chunkResults...)
	}
	return results
}

// RPCFetchSingleBatch issues one batch call for all keys, retried as a
// whole with the client's policy.
func RPCFetchSingleBatch[K any, T any](rpc *Client, ctx context.Context, keys []K, method string, argsFunc func(K) []interface{}) []RPCFetchBatchResult[K, T] {
	results := make([]RPCFetchBatchResult[K, T], len(keys))
	for i, key := range keys {
		results[i] = RPCFetchBatchResult[K, T]{Key: key}
	}

	err := rpc.retry.Do(ctx, func(ctx context.Context) error {
		batch := make([]gethRpc.BatchElem, len(keys))
		for i, key := range keys {
			batch[i] = gethRpc.BatchElem{
				Method: method,
				Args:   argsFunc(key),
				Result: new(T),
			}
		}
		if err := rpc.RPCClient.BatchCallContext(ctx, batch); err != nil {
			return err
		}
		for i, elem := range batch {
			if elem.Error != nil {
				results[i].Error = elem.Error
				results[i].Result = nil
			} else {
				results[i].Error = nil
				results[i].Result = elem.Result.(*T)
			}
		}
		return nil
	})
	if err != nil {
		return failChunk[K, T](keys, err)
	}
	return results
}

func failChunk[K any, T any](keys []K, err error) []RPCFetchBatchResult[K, T] {
	results := make([]RPCFetchBatchResult[K, T], len(keys))
	for i, key := range keys {
		results[i] = RPCFetchBatchResult[K, T]{Key: key, Error: err}
	}
	return results
}
