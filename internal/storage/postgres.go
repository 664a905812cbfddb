package storage

import (
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/lib/pq"
	config "github.com/turing-trading/tt-flashbots-worktest/configs"
	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

type PostgresConnector struct {
	db  *sql.DB
	cfg *config.DatabaseConfig
}

func NewPostgresConnector(cfg *config.DatabaseConfig) (*PostgresConnector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxConnLifetime) * time.Second)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresConnector{db: db, cfg: cfg}, nil
}

func (p *PostgresConnector) Close() error {
	return p.db.Close()
}

// DB exposes the underlying handle for the migration runner.
func (p *PostgresConnector) DB() *sql.DB {
	return p.db
}

// withTx runs fn inside a transaction, rolling back on any error exit.
func (p *PostgresConnector) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Block storage

const insertBlocksQuery = `INSERT INTO blocks (number, hash, parent_hash, timestamp, nonce, sha3_uncles, miner, state_root, transactions_root, receipts_root, size, extra_data, gas_limit, gas_used, transaction_count, base_fee_per_gas)
	VALUES %s
	ON CONFLICT (number) DO UPDATE SET
		hash = EXCLUDED.hash,
		parent_hash = EXCLUDED.parent_hash,
		timestamp = EXCLUDED.timestamp,
		nonce = EXCLUDED.nonce,
		sha3_uncles = EXCLUDED.sha3_uncles,
		miner = EXCLUDED.miner,
		state_root = EXCLUDED.state_root,
		transactions_root = EXCLUDED.transactions_root,
		receipts_root = EXCLUDED.receipts_root,
		size = EXCLUDED.size,
		extra_data = EXCLUDED.extra_data,
		gas_limit = EXCLUDED.gas_limit,
		gas_used = EXCLUDED.gas_used,
		transaction_count = EXCLUDED.transaction_count,
		base_fee_per_gas = EXCLUDED.base_fee_per_gas`

func insertBlocksOn(e execer, blocks []common.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	const cols = 16
	valueStrings := make([]string, 0, len(blocks))
	valueArgs := make([]interface{}, 0, len(blocks)*cols)
	for i, b := range blocks {
		valueStrings = append(valueStrings, placeholders(i*cols, cols))
		valueArgs = append(valueArgs,
			b.Number.String(), b.Hash, b.ParentHash, b.Timestamp, b.Nonce,
			b.Sha3Uncles, b.Miner, b.StateRoot, b.TransactionsRoot, b.ReceiptsRoot,
			b.Size, b.ExtraData, bigIntString(b.GasLimit), bigIntString(b.GasUsed),
			b.TransactionCount, b.BaseFeePerGas,
		)
	}
	_, err := e.Exec(fmt.Sprintf(insertBlocksQuery, strings.Join(valueStrings, ",")), valueArgs...)
	return err
}

func (p *PostgresConnector) InsertBlocks(blocks []common.Block) error {
	return insertBlocksOn(p.db, blocks)
}

func (p *PostgresConnector) InsertBlocksForDate(blocks []common.Block, date string) error {
	return p.withTx(func(tx *sql.Tx) error {
		// Postgres caps prepared statements at 65535 parameters, so the
		// day's blocks go in slices.
		for _, chunk := range common.SliceToChunks(blocks, 1000) {
			if err := insertBlocksOn(tx, chunk); err != nil {
				return fmt.Errorf("error inserting blocks for date %s: %w", date, err)
			}
		}
		_, err := tx.Exec(`INSERT INTO block_checkpoints (date, block_count)
			VALUES ($1, $2)
			ON CONFLICT (date) DO UPDATE SET block_count = EXCLUDED.block_count, updated_at = NOW()`,
			date, len(blocks))
		return err
	})
}

const selectBlockColumns = `number, hash, parent_hash, timestamp, nonce, sha3_uncles, miner, state_root, transactions_root, receipts_root, size, extra_data, gas_limit, gas_used, transaction_count, base_fee_per_gas`

func scanBlock(scanner interface{ Scan(...interface{}) error }) (common.Block, error) {
	var b common.Block
	var number, gasLimit, gasUsed string
	err := scanner.Scan(&number, &b.Hash, &b.ParentHash, &b.Timestamp, &b.Nonce,
		&b.Sha3Uncles, &b.Miner, &b.StateRoot, &b.TransactionsRoot, &b.ReceiptsRoot,
		&b.Size, &b.ExtraData, &gasLimit, &gasUsed, &b.TransactionCount, &b.BaseFeePerGas)
	if err != nil {
		return b, err
	}
	b.Number = parseNumeric(number)
	b.GasLimit = parseNumeric(gasLimit)
	b.GasUsed = parseNumeric(gasUsed)
	return b, nil
}

func (p *PostgresConnector) GetBlockByNumber(number *big.Int) (*common.Block, error) {
	row := p.db.QueryRow(fmt.Sprintf(`SELECT %s FROM blocks WHERE number = $1`, selectBlockColumns), number.String())
	block, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (p *PostgresConnector) GetBlocksInRange(start, end *big.Int) ([]common.Block, error) {
	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM blocks WHERE number BETWEEN $1 AND $2 ORDER BY number ASC`, selectBlockColumns),
		start.String(), end.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []common.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning block: %w", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func (p *PostgresConnector) GetMaxBlockNumber() (*big.Int, error) {
	var max sql.NullString
	if err := p.db.QueryRow(`SELECT MAX(number) FROM blocks`).Scan(&max); err != nil {
		return nil, err
	}
	if !max.Valid {
		return big.NewInt(0), nil
	}
	return parseNumeric(max.String), nil
}

func (p *PostgresConnector) GetBlocksMissingBalanceDeltas(limit int) ([]common.Block, error) {
	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM blocks b
		WHERE b.number > 0 AND NOT EXISTS (
			SELECT 1 FROM balance_deltas d WHERE d.block_number = b.number
		)
		ORDER BY b.number DESC LIMIT $1`, selectBlockColumns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []common.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func (p *PostgresConnector) GetBlocksMissingBuilderTransfers(miners []string, limit int) ([]common.Block, error) {
	if len(miners) == 0 {
		return nil, nil
	}
	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM blocks b
		WHERE b.miner = ANY($1) AND b.number > 0 AND NOT EXISTS (
			SELECT 1 FROM builder_transfers t WHERE t.block_number = b.number AND t.miner = b.miner
		)
		ORDER BY b.number DESC LIMIT $2`, selectBlockColumns), pq.Array(miners), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []common.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func (p *PostgresConnector) GetBlocksMissingAggregates(limit int) ([]*big.Int, error) {
	rows, err := p.db.Query(`SELECT b.number FROM blocks b
		WHERE NOT EXISTS (
			SELECT 1 FROM pbs_aggregates a WHERE a.block_number = b.number
		)
		ORDER BY b.number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []*big.Int
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, parseNumeric(number))
	}
	return numbers, rows.Err()
}

// Balance storage

func (p *PostgresConnector) InsertBalanceDeltas(deltas []common.BalanceDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	const cols = 5
	valueStrings := make([]string, 0, len(deltas))
	valueArgs := make([]interface{}, 0, len(deltas)*cols)
	for i, d := range deltas {
		valueStrings = append(valueStrings, placeholders(i*cols, cols))
		valueArgs = append(valueArgs,
			d.BlockNumber.String(), d.Address, d.BalanceBefore.String(),
			d.BalanceAfter.String(), d.BalanceIncrease.String())
	}
	query := fmt.Sprintf(`INSERT INTO balance_deltas (block_number, address, balance_before, balance_after, balance_increase)
		VALUES %s
		ON CONFLICT (block_number) DO UPDATE SET
			address = EXCLUDED.address,
			balance_before = EXCLUDED.balance_before,
			balance_after = EXCLUDED.balance_after,
			balance_increase = EXCLUDED.balance_increase`, strings.Join(valueStrings, ","))
	_, err := p.db.Exec(query, valueArgs...)
	return err
}

func (p *PostgresConnector) GetBalanceDelta(blockNumber *big.Int) (*common.BalanceDelta, error) {
	var d common.BalanceDelta
	var number, before, after, increase string
	err := p.db.QueryRow(`SELECT block_number, address, balance_before, balance_after, balance_increase
		FROM balance_deltas WHERE block_number = $1`, blockNumber.String()).
		Scan(&number, &d.Address, &before, &after, &increase)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.BlockNumber = parseNumeric(number)
	d.BalanceBefore = parseNumeric(before)
	d.BalanceAfter = parseNumeric(after)
	d.BalanceIncrease = parseNumeric(increase)
	return &d, nil
}

func (p *PostgresConnector) InsertBuilderTransfers(transfers []common.BuilderTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	const cols = 6
	valueStrings := make([]string, 0, len(transfers))
	valueArgs := make([]interface{}, 0, len(transfers)*cols)
	for i, t := range transfers {
		valueStrings = append(valueStrings, placeholders(i*cols, cols))
		valueArgs = append(valueArgs,
			t.BlockNumber.String(), t.BuilderAddress, t.Miner,
			t.BalanceBefore.String(), t.BalanceAfter.String(), t.BalanceIncrease.String())
	}
	query := fmt.Sprintf(`INSERT INTO builder_transfers (block_number, builder_address, miner, balance_before, balance_after, balance_increase)
		VALUES %s
		ON CONFLICT (block_number, builder_address) DO UPDATE SET
			miner = EXCLUDED.miner,
			balance_before = EXCLUDED.balance_before,
			balance_after = EXCLUDED.balance_after,
			balance_increase = EXCLUDED.balance_increase`, strings.Join(valueStrings, ","))
	_, err := p.db.Exec(query, valueArgs...)
	return err
}

func (p *PostgresConnector) GetBuilderTransfers(blockNumber *big.Int) ([]common.BuilderTransfer, error) {
	rows, err := p.db.Query(`SELECT block_number, builder_address, miner, balance_before, balance_after, balance_increase
		FROM builder_transfers WHERE block_number = $1 ORDER BY builder_address ASC`, blockNumber.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []common.BuilderTransfer
	for rows.Next() {
		var t common.BuilderTransfer
		var number, before, after, increase string
		if err := rows.Scan(&number, &t.BuilderAddress, &t.Miner, &before, &after, &increase); err != nil {
			return nil, err
		}
		t.BlockNumber = parseNumeric(number)
		t.BalanceBefore = parseNumeric(before)
		t.BalanceAfter = parseNumeric(after)
		t.BalanceIncrease = parseNumeric(increase)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// Relay storage

func insertRelayPayloadsOn(e execer, payloads []common.RelayPayload) error {
	if len(payloads) == 0 {
		return nil
	}
	const cols = 12
	valueStrings := make([]string, 0, len(payloads))
	valueArgs := make([]interface{}, 0, len(payloads)*cols)
	for i, pl := range payloads {
		var blockNumber interface{}
		if pl.BlockNumber != nil {
			blockNumber = pl.BlockNumber.String()
		}
		valueStrings = append(valueStrings, placeholders(i*cols, cols))
		valueArgs = append(valueArgs,
			pl.Relay, pl.Slot, pl.ParentHash, pl.BlockHash, pl.BuilderPubkey,
			pl.ProposerPubkey, pl.ProposerFeeRecipient, pl.GasLimit, pl.GasUsed,
			pl.Value.Dec(), blockNumber, pl.NumTx)
	}
	query := fmt.Sprintf(`INSERT INTO relay_payloads (relay, slot, parent_hash, block_hash, builder_pubkey, proposer_pubkey, proposer_fee_recipient, gas_limit, gas_used, value, block_number, num_tx)
		VALUES %s
		ON CONFLICT (slot, relay) DO UPDATE SET
			parent_hash = EXCLUDED.parent_hash,
			block_hash = EXCLUDED.block_hash,
			builder_pubkey = EXCLUDED.builder_pubkey,
			proposer_pubkey = EXCLUDED.proposer_pubkey,
			proposer_fee_recipient = EXCLUDED.proposer_fee_recipient,
			gas_limit = EXCLUDED.gas_limit,
			gas_used = EXCLUDED.gas_used,
			value = EXCLUDED.value,
			block_number = EXCLUDED.block_number,
			num_tx = EXCLUDED.num_tx`, strings.Join(valueStrings, ","))
	_, err := e.Exec(query, valueArgs...)
	return err
}

func (p *PostgresConnector) InsertRelayPayloads(payloads []common.RelayPayload) error {
	return insertRelayPayloadsOn(p.db, payloads)
}

func (p *PostgresConnector) InsertRelayPayloadsWithCheckpoint(payloads []common.RelayPayload, cp common.RelayCheckpoint) error {
	return p.withTx(func(tx *sql.Tx) error {
		if err := insertRelayPayloadsOn(tx, payloads); err != nil {
			return fmt.Errorf("error inserting relay payloads for %s: %w", cp.Relay, err)
		}
		_, err := tx.Exec(`INSERT INTO relay_checkpoints (relay, from_slot, to_slot)
			VALUES ($1, $2, $3)
			ON CONFLICT (relay) DO UPDATE SET from_slot = EXCLUDED.from_slot, to_slot = EXCLUDED.to_slot, updated_at = NOW()`,
			cp.Relay, cp.FromSlot, cp.ToSlot)
		return err
	})
}

const selectPayloadColumns = `relay, slot, parent_hash, block_hash, builder_pubkey, proposer_pubkey, proposer_fee_recipient, gas_limit, gas_used, value, block_number, num_tx`

func scanPayload(scanner interface{ Scan(...interface{}) error }) (common.RelayPayload, error) {
	var pl common.RelayPayload
	var value string
	var blockNumber sql.NullString
	err := scanner.Scan(&pl.Relay, &pl.Slot, &pl.ParentHash, &pl.BlockHash, &pl.BuilderPubkey,
		&pl.ProposerPubkey, &pl.ProposerFeeRecipient, &pl.GasLimit, &pl.GasUsed,
		&value, &blockNumber, &pl.NumTx)
	if err != nil {
		return pl, err
	}
	parsed, err := uint256.FromDecimal(value)
	if err != nil {
		return pl, fmt.Errorf("failed to parse payload value %q: %w", value, err)
	}
	pl.Value = parsed
	if blockNumber.Valid {
		pl.BlockNumber = parseNumeric(blockNumber.String)
	}
	return pl, nil
}

func (p *PostgresConnector) GetRelayPayloadsByBlock(blockNumber *big.Int) ([]common.RelayPayload, error) {
	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM relay_payloads WHERE block_number = $1 ORDER BY inserted_at ASC, relay ASC`, selectPayloadColumns),
		blockNumber.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayloads(rows)
}

func (p *PostgresConnector) GetRelayPayloadsBySlotRange(relay string, fromSlot, toSlot uint64) ([]common.RelayPayload, error) {
	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM relay_payloads WHERE relay = $1 AND slot BETWEEN $2 AND $3 ORDER BY slot ASC`, selectPayloadColumns),
		relay, fromSlot, toSlot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayloads(rows)
}

func collectPayloads(rows *sql.Rows) ([]common.RelayPayload, error) {
	var payloads []common.RelayPayload
	for rows.Next() {
		pl, err := scanPayload(rows)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, pl)
	}
	return payloads, rows.Err()
}

func (p *PostgresConnector) GetDailyPayloadCounts(relay string) ([]common.DailyPayloadCount, error) {
	rows, err := p.db.Query(`SELECT to_char(to_timestamp($2 + slot * 12) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM relay_payloads WHERE relay = $1
		GROUP BY day ORDER BY day ASC`, relay, common.BeaconGenesisTimestamp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []common.DailyPayloadCount
	for rows.Next() {
		c := common.DailyPayloadCount{Relay: relay}
		if err := rows.Scan(&c.Date, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func insertAdjustmentsOn(e execer, adjustments []common.Adjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	const cols = 11
	valueStrings := make([]string, 0, len(adjustments))
	valueArgs := make([]interface{}, 0, len(adjustments)*cols)
	for i, a := range adjustments {
		var blockNumber interface{}
		if a.BlockNumber != nil {
			blockNumber = a.BlockNumber.String()
		}
		valueStrings = append(valueStrings, placeholders(i*cols, cols))
		valueArgs = append(valueArgs,
			a.Slot, a.Relay, blockNumber, a.BuilderPubkey,
			nullableBigInt(a.SubmittedValue), nullableBigInt(a.AdjustedValue), nullableBigInt(a.Delta),
			a.SubmittedBlockHash, a.AdjustedBlockHash, a.HasAdjustment, a.FetchedAt)
	}
	query := fmt.Sprintf(`INSERT INTO adjustments (slot, relay, block_number, builder_pubkey, submitted_value, adjusted_value, delta, submitted_block_hash, adjusted_block_hash, has_adjustment, fetched_at)
		VALUES %s
		ON CONFLICT (slot, relay) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			builder_pubkey = EXCLUDED.builder_pubkey,
			submitted_value = EXCLUDED.submitted_value,
			adjusted_value = EXCLUDED.adjusted_value,
			delta = EXCLUDED.delta,
			submitted_block_hash = EXCLUDED.submitted_block_hash,
			adjusted_block_hash = EXCLUDED.adjusted_block_hash,
			has_adjustment = EXCLUDED.has_adjustment,
			fetched_at = EXCLUDED.fetched_at`, strings.Join(valueStrings, ","))
	_, err := e.Exec(query, valueArgs...)
	return err
}

func (p *PostgresConnector) InsertAdjustments(adjustments []common.Adjustment) error {
	return insertAdjustmentsOn(p.db, adjustments)
}

func (p *PostgresConnector) InsertAdjustmentsWithCursor(adjustments []common.Adjustment, stream string, cursor *big.Int) error {
	return p.withTx(func(tx *sql.Tx) error {
		if err := insertAdjustmentsOn(tx, adjustments); err != nil {
			return fmt.Errorf("error inserting adjustments: %w", err)
		}
		return setCursorOn(tx, stream, cursor)
	})
}

func (p *PostgresConnector) GetAdjustmentsBySlot(slot uint64) ([]common.Adjustment, error) {
	rows, err := p.db.Query(`SELECT slot, relay, block_number, builder_pubkey, submitted_value, adjusted_value, delta, submitted_block_hash, adjusted_block_hash, has_adjustment, fetched_at
		FROM adjustments WHERE slot = $1 ORDER BY relay ASC`, slot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []common.Adjustment
	for rows.Next() {
		var a common.Adjustment
		var blockNumber, submitted, adjusted, delta sql.NullString
		if err := rows.Scan(&a.Slot, &a.Relay, &blockNumber, &a.BuilderPubkey,
			&submitted, &adjusted, &delta, &a.SubmittedBlockHash, &a.AdjustedBlockHash,
			&a.HasAdjustment, &a.FetchedAt); err != nil {
			return nil, err
		}
		if blockNumber.Valid {
			a.BlockNumber = parseNumeric(blockNumber.String)
		}
		if submitted.Valid {
			a.SubmittedValue = parseNumeric(submitted.String)
		}
		if adjusted.Valid {
			a.AdjustedValue = parseNumeric(adjusted.String)
		}
		if delta.Valid {
			a.Delta = parseNumeric(delta.String)
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

func (p *PostgresConnector) InsertBuilderIdentifiers(identifiers []common.BuilderIdentifier) error {
	if len(identifiers) == 0 {
		return nil
	}
	valueStrings := make([]string, 0, len(identifiers))
	valueArgs := make([]interface{}, 0, len(identifiers)*2)
	for i, id := range identifiers {
		valueStrings = append(valueStrings, placeholders(i*2, 2))
		valueArgs = append(valueArgs, id.BuilderPubkey, id.BuilderName)
	}
	query := fmt.Sprintf(`INSERT INTO builder_identifiers (builder_pubkey, builder_name)
		VALUES %s
		ON CONFLICT (builder_pubkey) DO UPDATE SET builder_name = EXCLUDED.builder_name`, strings.Join(valueStrings, ","))
	_, err := p.db.Exec(query, valueArgs...)
	return err
}

func (p *PostgresConnector) GetBuilderNames(pubkeys []string) (map[string]string, error) {
	if len(pubkeys) == 0 {
		return map[string]string{}, nil
	}
	rows, err := p.db.Query(`SELECT builder_pubkey, builder_name FROM builder_identifiers WHERE builder_pubkey = ANY($1)`, pq.Array(pubkeys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]string, len(pubkeys))
	for rows.Next() {
		var pubkey, name string
		if err := rows.Scan(&pubkey, &name); err != nil {
			return nil, err
		}
		names[pubkey] = name
	}
	return names, rows.Err()
}

// Aggregate storage

func (p *PostgresConnector) InsertAggregates(records []common.PBSAggregate) error {
	if len(records) == 0 {
		return nil
	}
	const cols = 17
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]interface{}, 0, len(records)*cols)
	for i, r := range records {
		var slot interface{}
		if r.Slot != nil {
			slot = *r.Slot
		}
		valueStrings = append(valueStrings, placeholders(i*cols, cols))
		valueArgs = append(valueArgs,
			r.BlockNumber.String(), r.BlockTimestamp, r.BuilderName, r.ProposerName,
			r.IsVanilla, pq.Array(r.Relays), r.NRelays, slot,
			r.BuilderBalanceIncrease, r.BuilderExtraTransfers, r.ProposerSubsidy,
			r.RelayFee, r.TotalValue, r.BuilderProfit,
			nullableFloat(r.PctProposerShare), nullableFloat(r.PctBuilderShare), nullableFloat(r.PctRelayFee))
	}
	query := fmt.Sprintf(`INSERT INTO pbs_aggregates (block_number, block_timestamp, builder_name, proposer_name, is_vanilla, relays, n_relays, slot, builder_balance_increase, builder_extra_transfers, proposer_subsidy, relay_fee, total_value, builder_profit, pct_proposer_share, pct_builder_share, pct_relay_fee)
		VALUES %s
		ON CONFLICT (block_number) DO UPDATE SET
			block_timestamp = EXCLUDED.block_timestamp,
			builder_name = EXCLUDED.builder_name,
			proposer_name = EXCLUDED.proposer_name,
			is_vanilla = EXCLUDED.is_vanilla,
			relays = EXCLUDED.relays,
			n_relays = EXCLUDED.n_relays,
			slot = EXCLUDED.slot,
			builder_balance_increase = EXCLUDED.builder_balance_increase,
			builder_extra_transfers = EXCLUDED.builder_extra_transfers,
			proposer_subsidy = EXCLUDED.proposer_subsidy,
			relay_fee = EXCLUDED.relay_fee,
			total_value = EXCLUDED.total_value,
			builder_profit = EXCLUDED.builder_profit,
			pct_proposer_share = EXCLUDED.pct_proposer_share,
			pct_builder_share = EXCLUDED.pct_builder_share,
			pct_relay_fee = EXCLUDED.pct_relay_fee`, strings.Join(valueStrings, ","))
	_, err := p.db.Exec(query, valueArgs...)
	return err
}

const selectAggregateColumns = `block_number, block_timestamp, builder_name, proposer_name, is_vanilla, relays, n_relays, slot, builder_balance_increase, builder_extra_transfers, proposer_subsidy, relay_fee, total_value, builder_profit, pct_proposer_share, pct_builder_share, pct_relay_fee`

func scanAggregate(scanner interface{ Scan(...interface{}) error }) (common.PBSAggregate, error) {
	var r common.PBSAggregate
	var number string
	var slot sql.NullInt64
	var pctProposer, pctBuilder, pctRelay sql.NullFloat64
	err := scanner.Scan(&number, &r.BlockTimestamp, &r.BuilderName, &r.ProposerName,
		&r.IsVanilla, pq.Array(&r.Relays), &r.NRelays, &slot,
		&r.BuilderBalanceIncrease, &r.BuilderExtraTransfers, &r.ProposerSubsidy,
		&r.RelayFee, &r.TotalValue, &r.BuilderProfit,
		&pctProposer, &pctBuilder, &pctRelay)
	if err != nil {
		return r, err
	}
	r.BlockNumber = parseNumeric(number)
	if slot.Valid {
		s := uint64(slot.Int64)
		r.Slot = &s
	}
	if pctProposer.Valid {
		r.PctProposerShare = &pctProposer.Float64
	}
	if pctBuilder.Valid {
		r.PctBuilderShare = &pctBuilder.Float64
	}
	if pctRelay.Valid {
		r.PctRelayFee = &pctRelay.Float64
	}
	return r, nil
}

func (p *PostgresConnector) GetAggregate(blockNumber *big.Int) (*common.PBSAggregate, error) {
	row := p.db.QueryRow(fmt.Sprintf(`SELECT %s FROM pbs_aggregates WHERE block_number = $1`, selectAggregateColumns), blockNumber.String())
	record, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *PostgresConnector) GetAggregatesInRange(start, end *big.Int) ([]common.PBSAggregate, error) {
	rows, err := p.db.Query(fmt.Sprintf(`SELECT %s FROM pbs_aggregates WHERE block_number BETWEEN $1 AND $2 ORDER BY block_number ASC`, selectAggregateColumns),
		start.String(), end.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []common.PBSAggregate
	for rows.Next() {
		record, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Checkpoint storage

func (p *PostgresConnector) GetCompletedDates() (map[string]bool, error) {
	rows, err := p.db.Query(`SELECT date FROM block_checkpoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := make(map[string]bool)
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		dates[date] = true
	}
	return dates, rows.Err()
}

func (p *PostgresConnector) GetRelayCheckpoint(relay string) (*common.RelayCheckpoint, error) {
	var cp common.RelayCheckpoint
	err := p.db.QueryRow(`SELECT relay, from_slot, to_slot FROM relay_checkpoints WHERE relay = $1`, relay).
		Scan(&cp.Relay, &cp.FromSlot, &cp.ToSlot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (p *PostgresConnector) UpsertRelayCheckpoint(cp common.RelayCheckpoint) error {
	_, err := p.db.Exec(`INSERT INTO relay_checkpoints (relay, from_slot, to_slot)
		VALUES ($1, $2, $3)
		ON CONFLICT (relay) DO UPDATE SET from_slot = EXCLUDED.from_slot, to_slot = EXCLUDED.to_slot, updated_at = NOW()`,
		cp.Relay, cp.FromSlot, cp.ToSlot)
	return err
}

func (p *PostgresConnector) GetCursor(stream string) (*big.Int, error) {
	var value string
	err := p.db.QueryRow(`SELECT cursor_value FROM cursors WHERE stream = $1`, stream).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseNumeric(value), nil
}

func setCursorOn(e execer, stream string, value *big.Int) error {
	// Advance-only: concurrent units may commit out of order.
	_, err := e.Exec(`INSERT INTO cursors (stream, cursor_value)
		VALUES ($1, $2)
		ON CONFLICT (stream) DO UPDATE SET cursor_value = GREATEST(cursors.cursor_value, EXCLUDED.cursor_value), updated_at = NOW()`,
		stream, value.String())
	return err
}

func (p *PostgresConnector) SetCursor(stream string, value *big.Int) error {
	return setCursorOn(p.db, stream, value)
}

// helpers

func placeholders(offset, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", offset+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func parseNumeric(value string) *big.Int {
	result, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil
	}
	return result
}

func bigIntString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func nullableBigInt(value *big.Int) interface{} {
	if value == nil {
		return nil
	}
	return value.String()
}

func nullableFloat(value *float64) interface{} {
	if value == nil {
		return nil
	}
	return *value
}
