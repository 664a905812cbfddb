package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceToChunks(t *testing.T) {
	values := []int{1, 2, 3, 4, 5}

	chunks := SliceToChunks(values, 2)
	assert.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2}, chunks[0])
	assert.Equal(t, []int{5}, chunks[2])

	assert.Len(t, SliceToChunks(values, 10), 1)
	assert.Len(t, SliceToChunks(values, 0), 1)
}

func TestWeiToEth(t *testing.T) {
	assert.Equal(t, 1.0, WeiToEth(new(big.Int).SetUint64(1e18)))
	assert.Equal(t, 0.05, WeiToEth(new(big.Int).SetUint64(50e15)))
	assert.Equal(t, -0.003, WeiToEth(big.NewInt(-3e15)))
	assert.Equal(t, 0.0, WeiToEth(nil))
	assert.Equal(t, 0.000000000000012345, WeiToEth(big.NewInt(12345)))
}
