package common

import (
	"math/big"
)

var weiPerEth = new(big.Float).SetFloat64(1e18)

// SliceToChunks splits values into chunks of at most chunkSize elements.
func SliceToChunks[T any](values []T, chunkSize int) [][]T {
	if chunkSize >= len(values) || chunkSize <= 0 {
		return [][]T{values}
	}
	var chunks [][]T
	for i := 0; i < len(values); i += chunkSize {
		end := i + chunkSize
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[i:end])
	}
	return chunks
}

// WeiToEth converts a signed wei amount to ETH. The division happens once,
// at the end of aggregation, so intermediate sums stay exact.
func WeiToEth(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	result, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEth).Float64()
	return result
}
