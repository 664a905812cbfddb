package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHexToBigInt(t *testing.T) {
	assert.Equal(t, int64(255), HexToBigInt("0xff").Int64())
	assert.Equal(t, int64(0), HexToBigInt("0x0").Int64())
	assert.Nil(t, HexToBigInt("0x"))
	assert.Nil(t, HexToBigInt("0xzz"))
}

func TestHexToUint64(t *testing.T) {
	assert.Equal(t, uint64(0x1234), HexToUint64("0x1234"))
	assert.Equal(t, uint64(0), HexToUint64("not hex"))
}

func TestHexToTime(t *testing.T) {
	ts := HexToTime("0x5fc63057") // 1606824023
	assert.Equal(t, time.Unix(1606824023, 0).UTC(), ts)
}
