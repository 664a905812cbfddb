// Package balance computes per-block balance deltas for fee recipients
// and for the known auxiliary builder addresses.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
	"github.com/turing-trading/tt-flashbots-worktest/internal/rpc"
	"github.com/turing-trading/tt-flashbots-worktest/internal/storage"
)

// KnownBuilderAddresses maps a builder's on-chain fee recipient to the
// auxiliary addresses the builder routes refunds and payouts through.
// Only blocks mined to one of these recipients get builder transfer rows.
var KnownBuilderAddresses = map[string][]string{
	// BuilderNet proposer fee recipient -> refund addresses
	"0x95222290dd7278aa3ddd389cc1e1d165cc4bafe5": {
		"0x9f4cf329f4cf376b7aded854d6054859dd102a2a",
	},
	"0xdadb0d80178819f2319190d340ce9a924f783711": {
		"0x5f927395213ee6b95de97bddcb1b2b1c0f16844f",
		"0x0ca5dbb1a322c32686f21f95d103bfd88f10c1e3",
	},
}

// KnownMiners returns the fee recipients eligible for builder transfers.
func KnownMiners() []string {
	miners := make([]string, 0, len(KnownBuilderAddresses))
	for miner := range KnownBuilderAddresses {
		miners = append(miners, miner)
	}
	return miners
}

type Tracker struct {
	rpc     rpc.IRPCClient
	storage storage.IStorage
}

func NewTracker(rpcClient rpc.IRPCClient, storage storage.IStorage) *Tracker {
	return &Tracker{rpc: rpcClient, storage: storage}
}

// BalanceDeltas issues the N-1/N balance read pair for every block's fee
// recipient, batched through the RPC client. A block whose pair did not
// both succeed is dropped so it can be retried later.
func (t *Tracker) BalanceDeltas(ctx context.Context, blocks []common.Block) ([]common.BalanceDelta, error) {
	if len(blocks) == 0 {
		return nil, nil
	}

	reads := make([]rpc.BalanceRead, 0, len(blocks)*2)
	for _, block := range blocks {
		before := new(big.Int).Sub(block.Number, big.NewInt(1))
		reads = append(reads,
			rpc.BalanceRead{Address: block.Miner, BlockNumber: before},
			rpc.BalanceRead{Address: block.Miner, BlockNumber: block.Number},
		)
	}

	results := t.rpc.GetBalances(ctx, reads)
	if len(results) != len(reads) {
		return nil, fmt.Errorf("balance read count mismatch: asked %d got %d", len(reads), len(results))
	}

	deltas := make([]common.BalanceDelta, 0, len(blocks))
	for i, block := range blocks {
		beforeResult, afterResult := results[i*2], results[i*2+1]
		if beforeResult.Error != nil || afterResult.Error != nil {
			log.Warn().
				AnErr("before", beforeResult.Error).
				AnErr("after", afterResult.Error).
				Msgf("Dropping balance delta for block %s", block.Number.String())
			continue
		}
		deltas = append(deltas, common.BalanceDelta{
			BlockNumber:     new(big.Int).Set(block.Number),
			Address:         block.Miner,
			BalanceBefore:   beforeResult.Balance,
			BalanceAfter:    afterResult.Balance,
			BalanceIncrease: new(big.Int).Sub(afterResult.Balance, beforeResult.Balance),
		})
	}
	return deltas, nil
}

// ProcessBlock computes and stores the fee-recipient delta for one block.
// Partial failure writes nothing.
func (t *Tracker) ProcessBlock(ctx context.Context, block common.Block) error {
	deltas, err := t.BalanceDeltas(ctx, []common.Block{block})
	if err != nil {
		return err
	}
	if len(deltas) == 0 {
		return fmt.Errorf("balance reads failed for block %s", block.Number.String())
	}
	return t.storage.Balances.InsertBalanceDeltas(deltas)
}

// BuilderTransfers issues balance read pairs for every auxiliary address
// of blocks whose fee recipient is a known builder. All reads for one
// block succeed or the block yields no rows.
func (t *Tracker) BuilderTransfers(ctx context.Context, blocks []common.Block) ([]common.BuilderTransfer, error) {
	type pending struct {
		block    common.Block
		address  string
		readBase int
	}

	var reads []rpc.BalanceRead
	var pendings []pending
	for _, block := range blocks {
		addresses := KnownBuilderAddresses[strings.ToLower(block.Miner)]
		if len(addresses) == 0 {
			addresses = KnownBuilderAddresses[block.Miner]
		}
		for _, address := range addresses {
			before := new(big.Int).Sub(block.Number, big.NewInt(1))
			pendings = append(pendings, pending{block: block, address: address, readBase: len(reads)})
			reads = append(reads,
				rpc.BalanceRead{Address: address, BlockNumber: before},
				rpc.BalanceRead{Address: address, BlockNumber: block.Number},
			)
		}
	}
	if len(reads) == 0 {
		return nil, nil
	}

	results := t.rpc.GetBalances(ctx, reads)
	if len(results) != len(reads) {
		return nil, fmt.Errorf("balance read count mismatch: asked %d got %d", len(reads), len(results))
	}

	// Collect rows per block so a failed read discards the whole block.
	failedBlocks := make(map[string]bool)
	rowsByBlock := make(map[string][]common.BuilderTransfer)
	for _, p := range pendings {
		key := p.block.Number.String()
		beforeResult, afterResult := results[p.readBase], results[p.readBase+1]
		if beforeResult.Error != nil || afterResult.Error != nil {
			failedBlocks[key] = true
			continue
		}
		rowsByBlock[key] = append(rowsByBlock[key], common.BuilderTransfer{
			BlockNumber:     new(big.Int).Set(p.block.Number),
			BuilderAddress:  p.address,
			Miner:           p.block.Miner,
			BalanceBefore:   beforeResult.Balance,
			BalanceAfter:    afterResult.Balance,
			BalanceIncrease: new(big.Int).Sub(afterResult.Balance, beforeResult.Balance),
		})
	}

	var transfers []common.BuilderTransfer
	for key, rows := range rowsByBlock {
		if failedBlocks[key] {
			log.Warn().Msgf("Dropping builder transfers for block %s", key)
			continue
		}
		transfers = append(transfers, rows...)
	}
	return transfers, nil
}

// ProcessBuilderTransfers computes and stores the auxiliary builder rows
// for one block. A block with an unknown fee recipient yields no rows.
func (t *Tracker) ProcessBuilderTransfers(ctx context.Context, block common.Block) error {
	transfers, err := t.BuilderTransfers(ctx, []common.Block{block})
	if err != nil {
		return err
	}
	return t.storage.Balances.InsertBuilderTransfers(transfers)
}
