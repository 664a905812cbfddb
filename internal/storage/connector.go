package storage

import (
	"fmt"
	"math/big"

	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

// IStorage groups the per-concern stores. A single connector usually
// implements all of them; the split keeps call sites honest about what
// they touch and lets tests fake one concern at a time.
type IStorage struct {
	Blocks      IBlockStorage
	Balances    IBalanceStorage
	Relays      IRelayStorage
	Aggregates  IAggregateStorage
	Checkpoints ICheckpointStorage
}

type IBlockStorage interface {
	InsertBlocks(blocks []common.Block) error
	// InsertBlocksForDate commits the blocks of one archive date and the
	// date checkpoint in a single transaction.
	InsertBlocksForDate(blocks []common.Block, date string) error
	GetBlockByNumber(number *big.Int) (*common.Block, error)
	GetBlocksInRange(start, end *big.Int) ([]common.Block, error)
	GetMaxBlockNumber() (*big.Int, error)
	GetBlocksMissingBalanceDeltas(limit int) ([]common.Block, error)
	GetBlocksMissingBuilderTransfers(miners []string, limit int) ([]common.Block, error)
	GetBlocksMissingAggregates(limit int) ([]*big.Int, error)
}

type IBalanceStorage interface {
	InsertBalanceDeltas(deltas []common.BalanceDelta) error
	GetBalanceDelta(blockNumber *big.Int) (*common.BalanceDelta, error)
	InsertBuilderTransfers(transfers []common.BuilderTransfer) error
	GetBuilderTransfers(blockNumber *big.Int) ([]common.BuilderTransfer, error)
}

type IRelayStorage interface {
	InsertRelayPayloads(payloads []common.RelayPayload) error
	// InsertRelayPayloadsWithCheckpoint commits one page of payloads and
	// the advanced checkpoint in a single transaction.
	InsertRelayPayloadsWithCheckpoint(payloads []common.RelayPayload, cp common.RelayCheckpoint) error
	GetRelayPayloadsByBlock(blockNumber *big.Int) ([]common.RelayPayload, error)
	GetRelayPayloadsBySlotRange(relay string, fromSlot, toSlot uint64) ([]common.RelayPayload, error)
	GetDailyPayloadCounts(relay string) ([]common.DailyPayloadCount, error)
	InsertAdjustments(adjustments []common.Adjustment) error
	InsertAdjustmentsWithCursor(adjustments []common.Adjustment, stream string, cursor *big.Int) error
	GetAdjustmentsBySlot(slot uint64) ([]common.Adjustment, error)
	InsertBuilderIdentifiers(identifiers []common.BuilderIdentifier) error
	GetBuilderNames(pubkeys []string) (map[string]string, error)
}

type IAggregateStorage interface {
	InsertAggregates(records []common.PBSAggregate) error
	GetAggregate(blockNumber *big.Int) (*common.PBSAggregate, error)
	GetAggregatesInRange(start, end *big.Int) ([]common.PBSAggregate, error)
}

type ICheckpointStorage interface {
	GetCompletedDates() (map[string]bool, error)
	GetRelayCheckpoint(relay string) (*common.RelayCheckpoint, error)
	UpsertRelayCheckpoint(cp common.RelayCheckpoint) error
	GetCursor(stream string) (*big.Int, error)
	SetCursor(stream string, value *big.Int) error
}

func NewStorageConnector(cfg *config.DatabaseConfig) (IStorage, error) {
	conn, err := NewPostgresConnector(cfg)
	if err != nil {
		return IStorage{}, fmt.Errorf("failed to create storage connector: %w", err)
	}
	return IStorage{
		Blocks:      conn,
		Balances:    conn,
		Relays:      conn,
		Aggregates:  conn,
		Checkpoints: conn,
	}, nil
}

// NewMemoryStorage wires the in-memory connector into every slot; used by
// tests and local runs without a database.
func NewMemoryStorage() IStorage {
	conn := NewMemoryConnector()
	return IStorage{
		Blocks:      conn,
		Balances:    conn,
		Relays:      conn,
		Aggregates:  conn,
		Checkpoints: conn,
	}
}
