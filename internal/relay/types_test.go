package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawBidTraceToPayload(t *testing.T) {
	trace := rawBidTrace{
		Slot:                 "9876543",
		ParentHash:           "0xparent",
		BlockHash:            "0xblock",
		BuilderPubkey:        "0xb0b",
		ProposerPubkey:       "0xa11",
		ProposerFeeRecipient: "0xfee",
		GasLimit:             "30000000",
		GasUsed:              "12345678",
		Value:                "50000000000000000",
		NumTx:                "150",
		BlockNumber:          "20123456",
	}

	payload, err := trace.toPayload("boost-relay.flashbots.net")
	require.NoError(t, err)
	assert.Equal(t, "flashbots", payload.Relay)
	assert.Equal(t, uint64(9876543), payload.Slot)
	assert.Equal(t, uint64(30000000), payload.GasLimit)
	assert.Equal(t, "50000000000000000", payload.Value.Dec())
	require.NotNil(t, payload.BlockNumber)
	assert.Equal(t, int64(20123456), payload.BlockNumber.Int64())
}

func TestRawBidTraceBidWithoutDelivery(t *testing.T) {
	trace := rawBidTrace{Slot: "100", Value: "1"}
	payload, err := trace.toPayload("aestus.live")
	require.NoError(t, err)
	assert.Equal(t, "aestus.live", payload.Relay)
	assert.Nil(t, payload.BlockNumber)
}

func TestRawBidTraceMalformed(t *testing.T) {
	_, err := rawBidTrace{Slot: "not-a-slot", Value: "1"}.toPayload("aestus.live")
	assert.Error(t, err)

	_, err = rawBidTrace{Slot: "100", Value: "not-wei"}.toPayload("aestus.live")
	assert.Error(t, err)
}

func TestDecodePayloadsDeduplicatesSlots(t *testing.T) {
	body := []byte(`[
		{"slot": "100", "value": "1", "builder_pubkey": "0xa"},
		{"slot": "100", "value": "2", "builder_pubkey": "0xb"},
		{"slot": "99", "value": "3", "builder_pubkey": "0xc"}
	]`)
	payloads, err := decodePayloads("aestus.live", body)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "0xa", payloads[0].BuilderPubkey)
	assert.Equal(t, uint64(99), payloads[1].Slot)
}

func TestDecodePayloadsMalformedJSON(t *testing.T) {
	_, err := decodePayloads("aestus.live", []byte(`{"unexpected": "shape"}`))
	assert.Error(t, err)
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "ultrasound", CanonicalName("relay-analytics.ultrasound.money"))
	assert.Equal(t, "titanrelay.xyz", CanonicalName("titanrelay.xyz"))
}
