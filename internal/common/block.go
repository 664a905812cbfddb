package common

import (
	"math/big"
	"time"
)

// Block is one execution-layer block header. Immutable after insert;
// upsert-by-number is the only mutation.
type Block struct {
	Number           *big.Int
	Hash             string
	ParentHash       string
	Timestamp        time.Time
	Nonce            string
	Sha3Uncles       string
	Miner            string
	StateRoot        string
	TransactionsRoot string
	ReceiptsRoot     string
	Size             uint64
	ExtraData        string
	GasLimit         *big.Int
	GasUsed          *big.Int
	TransactionCount uint64
	BaseFeePerGas    uint64
}
