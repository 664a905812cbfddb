package common

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// HexToBigInt parses a 0x-prefixed quantity. Nil on malformed input.
func HexToBigInt(value string) *big.Int {
	trimmed := strings.TrimPrefix(value, "0x")
	if trimmed == "" {
		return nil
	}
	result, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil
	}
	return result
}

// HexToUint64 parses a 0x-prefixed quantity into a uint64, 0 on failure.
func HexToUint64(value string) uint64 {
	result := HexToBigInt(value)
	if result == nil || !result.IsUint64() {
		return 0
	}
	return result.Uint64()
}

// HexToTime interprets a 0x-prefixed quantity as a unix timestamp.
func HexToTime(value string) time.Time {
	return time.Unix(int64(HexToUint64(value)), 0).UTC()
}

// BigIntToHex encodes a block number the way the JSON-RPC API expects it.
func BigIntToHex(value *big.Int) string {
	return fmt.Sprintf("0x%x", value)
}
