package common

import "math/big"

// BalanceDelta is the fee-recipient balance change across one block.
// BalanceIncrease = BalanceAfter - BalanceBefore and may be negative.
type BalanceDelta struct {
	BlockNumber     *big.Int
	Address         string
	BalanceBefore   *big.Int
	BalanceAfter    *big.Int
	BalanceIncrease *big.Int
}

// BuilderTransfer is the balance change of one known auxiliary builder
// address across one block whose fee recipient belongs to that builder.
type BuilderTransfer struct {
	BlockNumber     *big.Int
	BuilderAddress  string
	Miner           string
	BalanceBefore   *big.Int
	BalanceAfter    *big.Int
	BalanceIncrease *big.Int
}
