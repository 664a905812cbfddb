package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimestampToSlot(t *testing.T) {
	genesis := time.Unix(BeaconGenesisTimestamp, 0).UTC()
	assert.Equal(t, uint64(0), TimestampToSlot(genesis))
	assert.Equal(t, uint64(0), TimestampToSlot(genesis.Add(-time.Hour)))
	assert.Equal(t, uint64(1), TimestampToSlot(genesis.Add(12*time.Second)))
	assert.Equal(t, uint64(SlotsPerDay), TimestampToSlot(genesis.Add(24*time.Hour)))
}

func TestSlotToTimestampRoundTrip(t *testing.T) {
	for _, slot := range []uint64{0, 1, 7200, 5_000_000} {
		assert.Equal(t, slot, TimestampToSlot(SlotToTimestamp(slot)))
	}
}

func TestDateToSlotRange(t *testing.T) {
	from, to := DateToSlotRange(time.Date(2020, 12, 1, 15, 30, 0, 0, time.UTC))
	assert.Equal(t, uint64(0), from)
	assert.Equal(t, uint64(3598), to)

	nextFrom, _ := DateToSlotRange(time.Date(2020, 12, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, to+1, nextFrom)
}
