package rpc

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

func GetBlockWithoutTransactionsParams(blockNum *big.Int) []interface{} {
	return []interface{}{hexutil.EncodeBig(blockNum), false}
}

func GetBalanceParams(read BalanceRead) []interface{} {
	return []interface{}{read.Address, hexutil.EncodeBig(read.BlockNumber)}
}
