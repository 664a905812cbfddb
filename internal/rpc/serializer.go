package rpc

import (
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

// RawBlock is the loose JSON shape returned by eth_getBlockByNumber.
type RawBlock = map[string]interface{}

func serializeHeader(block *RawBlock) common.Block {
	b := *block
	return common.Block{
		Number:           common.HexToBigInt(interfaceToString(b["number"])),
		Hash:             interfaceToString(b["hash"]),
		ParentHash:       interfaceToString(b["parentHash"]),
		Timestamp:        common.HexToTime(interfaceToString(b["timestamp"])),
		Nonce:            interfaceToString(b["nonce"]),
		Sha3Uncles:       interfaceToString(b["sha3Uncles"]),
		Miner:            interfaceToString(b["miner"]),
		StateRoot:        interfaceToString(b["stateRoot"]),
		TransactionsRoot: interfaceToString(b["transactionsRoot"]),
		ReceiptsRoot:     interfaceToString(b["receiptsRoot"]),
		Size:             common.HexToUint64(interfaceToString(b["size"])),
		ExtraData:        interfaceToString(b["extraData"]),
		GasLimit:         common.HexToBigInt(interfaceToString(b["gasLimit"])),
		GasUsed:          common.HexToBigInt(interfaceToString(b["gasUsed"])),
		TransactionCount: transactionCount(b["transactions"]),
		BaseFeePerGas:    common.HexToUint64(interfaceToString(b["baseFeePerGas"])),
	}
}

func interfaceToString(value interface{}) string {
	if value == nil {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return s
}

func transactionCount(value interface{}) uint64 {
	txs, ok := value.([]interface{})
	if !ok {
		return 0
	}
	return uint64(len(txs))
}
