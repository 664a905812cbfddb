package storage

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/turing-trading/tt-flashbots-worktest/internal/common"
)

// MemoryConnector implements every storage interface with in-process
// maps. Used by tests and dry runs; semantics mirror the postgres
// connector, including upsert-by-primary-key and insertion-ordered relay
// payloads.
type MemoryConnector struct {
	mu sync.RWMutex

	blocks           map[string]common.Block
	balanceDeltas    map[string]common.BalanceDelta
	builderTransfers map[string]common.BuilderTransfer
	payloads         map[string]common.RelayPayload
	payloadSeq       map[string]int
	nextSeq          int
	adjustments      map[string]common.Adjustment
	identifiers      map[string]string
	aggregates       map[string]common.PBSAggregate
	completedDates   map[string]int
	relayCheckpoints map[string]common.RelayCheckpoint
	cursors          map[string]*big.Int
}

func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		blocks:           make(map[string]common.Block),
		balanceDeltas:    make(map[string]common.BalanceDelta),
		builderTransfers: make(map[string]common.BuilderTransfer),
		payloads:         make(map[string]common.RelayPayload),
		payloadSeq:       make(map[string]int),
		adjustments:      make(map[string]common.Adjustment),
		identifiers:      make(map[string]string),
		aggregates:       make(map[string]common.PBSAggregate),
		completedDates:   make(map[string]int),
		relayCheckpoints: make(map[string]common.RelayCheckpoint),
		cursors:          make(map[string]*big.Int),
	}
}

func payloadKey(relay string, slot uint64) string {
	return fmt.Sprintf("%d:%s", slot, relay)
}

func (m *MemoryConnector) InsertBlocks(blocks []common.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		m.blocks[b.Number.String()] = b
	}
	return nil
}

func (m *MemoryConnector) InsertBlocksForDate(blocks []common.Block, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		m.blocks[b.Number.String()] = b
	}
	m.completedDates[date] = len(blocks)
	return nil
}

func (m *MemoryConnector) GetBlockByNumber(number *big.Int) (*common.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[number.String()]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryConnector) GetBlocksInRange(start, end *big.Int) ([]common.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var blocks []common.Block
	for _, b := range m.blocks {
		if b.Number.Cmp(start) >= 0 && b.Number.Cmp(end) <= 0 {
			blocks = append(blocks, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number.Cmp(blocks[j].Number) < 0 })
	return blocks, nil
}

func (m *MemoryConnector) GetMaxBlockNumber() (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := big.NewInt(0)
	for _, b := range m.blocks {
		if b.Number.Cmp(max) > 0 {
			max = new(big.Int).Set(b.Number)
		}
	}
	return max, nil
}

func (m *MemoryConnector) GetBlocksMissingBalanceDeltas(limit int) ([]common.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var blocks []common.Block
	for key, b := range m.blocks {
		if _, ok := m.balanceDeltas[key]; !ok && b.Number.Sign() > 0 {
			blocks = append(blocks, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number.Cmp(blocks[j].Number) > 0 })
	if limit > 0 && len(blocks) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

func (m *MemoryConnector) GetBlocksMissingBuilderTransfers(miners []string, limit int) ([]common.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	minerSet := make(map[string]bool, len(miners))
	for _, miner := range miners {
		minerSet[strings.ToLower(miner)] = true
	}
	var blocks []common.Block
	for _, b := range m.blocks {
		if !minerSet[strings.ToLower(b.Miner)] || b.Number.Sign() <= 0 {
			continue
		}
		found := false
		for _, t := range m.builderTransfers {
			if t.BlockNumber.Cmp(b.Number) == 0 {
				found = true
				break
			}
		}
		if !found {
			blocks = append(blocks, b)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number.Cmp(blocks[j].Number) > 0 })
	if limit > 0 && len(blocks) > limit {
		blocks = blocks[:limit]
	}
	return blocks, nil
}

func (m *MemoryConnector) GetBlocksMissingAggregates(limit int) ([]*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var numbers []*big.Int
	for key, b := range m.blocks {
		if _, ok := m.aggregates[key]; !ok {
			numbers = append(numbers, new(big.Int).Set(b.Number))
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i].Cmp(numbers[j]) > 0 })
	if limit > 0 && len(numbers) > limit {
		numbers = numbers[:limit]
	}
	return numbers, nil
}

func (m *MemoryConnector) InsertBalanceDeltas(deltas []common.BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range deltas {
		m.balanceDeltas[d.BlockNumber.String()] = d
	}
	return nil
}

func (m *MemoryConnector) GetBalanceDelta(blockNumber *big.Int) (*common.BalanceDelta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.balanceDeltas[blockNumber.String()]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryConnector) InsertBuilderTransfers(transfers []common.BuilderTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range transfers {
		m.builderTransfers[t.BlockNumber.String()+":"+t.BuilderAddress] = t
	}
	return nil
}

func (m *MemoryConnector) GetBuilderTransfers(blockNumber *big.Int) ([]common.BuilderTransfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var transfers []common.BuilderTransfer
	for _, t := range m.builderTransfers {
		if t.BlockNumber.Cmp(blockNumber) == 0 {
			transfers = append(transfers, t)
		}
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].BuilderAddress < transfers[j].BuilderAddress })
	return transfers, nil
}

func (m *MemoryConnector) InsertRelayPayloads(payloads []common.RelayPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertPayloadsLocked(payloads)
	return nil
}

func (m *MemoryConnector) insertPayloadsLocked(payloads []common.RelayPayload) {
	for _, pl := range payloads {
		key := payloadKey(pl.Relay, pl.Slot)
		if _, ok := m.payloads[key]; !ok {
			m.payloadSeq[key] = m.nextSeq
			m.nextSeq++
		}
		m.payloads[key] = pl
	}
}

func (m *MemoryConnector) InsertRelayPayloadsWithCheckpoint(payloads []common.RelayPayload, cp common.RelayCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertPayloadsLocked(payloads)
	m.relayCheckpoints[cp.Relay] = cp
	return nil
}

func (m *MemoryConnector) GetRelayPayloadsByBlock(blockNumber *big.Int) ([]common.RelayPayload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var payloads []common.RelayPayload
	for _, pl := range m.payloads {
		if pl.BlockNumber != nil && pl.BlockNumber.Cmp(blockNumber) == 0 {
			payloads = append(payloads, pl)
		}
	}
	sort.Slice(payloads, func(i, j int) bool {
		return m.payloadSeq[payloadKey(payloads[i].Relay, payloads[i].Slot)] < m.payloadSeq[payloadKey(payloads[j].Relay, payloads[j].Slot)]
	})
	return payloads, nil
}

func (m *MemoryConnector) GetRelayPayloadsBySlotRange(relay string, fromSlot, toSlot uint64) ([]common.RelayPayload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var payloads []common.RelayPayload
	for _, pl := range m.payloads {
		if pl.Relay == relay && pl.Slot >= fromSlot && pl.Slot <= toSlot {
			payloads = append(payloads, pl)
		}
	}
	sort.Slice(payloads, func(i, j int) bool { return payloads[i].Slot < payloads[j].Slot })
	return payloads, nil
}

func (m *MemoryConnector) GetDailyPayloadCounts(relay string) ([]common.DailyPayloadCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDate := make(map[string]int64)
	for _, pl := range m.payloads {
		if pl.Relay != relay {
			continue
		}
		byDate[common.SlotToTimestamp(pl.Slot).Format("2006-01-02")]++
	}
	var counts []common.DailyPayloadCount
	for date, count := range byDate {
		counts = append(counts, common.DailyPayloadCount{Relay: relay, Date: date, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Date < counts[j].Date })
	return counts, nil
}

func (m *MemoryConnector) InsertAdjustments(adjustments []common.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range adjustments {
		m.adjustments[payloadKey(a.Relay, a.Slot)] = a
	}
	return nil
}

func (m *MemoryConnector) InsertAdjustmentsWithCursor(adjustments []common.Adjustment, stream string, cursor *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range adjustments {
		m.adjustments[payloadKey(a.Relay, a.Slot)] = a
	}
	m.setCursorLocked(stream, cursor)
	return nil
}

// setCursorLocked advances the stream cursor, never regressing it.
func (m *MemoryConnector) setCursorLocked(stream string, value *big.Int) {
	current, ok := m.cursors[stream]
	if ok && current.Cmp(value) >= 0 {
		return
	}
	m.cursors[stream] = new(big.Int).Set(value)
}

func (m *MemoryConnector) GetAdjustmentsBySlot(slot uint64) ([]common.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var adjustments []common.Adjustment
	for _, a := range m.adjustments {
		if a.Slot == slot {
			adjustments = append(adjustments, a)
		}
	}
	sort.Slice(adjustments, func(i, j int) bool { return adjustments[i].Relay < adjustments[j].Relay })
	return adjustments, nil
}

func (m *MemoryConnector) InsertBuilderIdentifiers(identifiers []common.BuilderIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range identifiers {
		m.identifiers[id.BuilderPubkey] = id.BuilderName
	}
	return nil
}

func (m *MemoryConnector) GetBuilderNames(pubkeys []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make(map[string]string)
	for _, pubkey := range pubkeys {
		if name, ok := m.identifiers[pubkey]; ok {
			names[pubkey] = name
		}
	}
	return names, nil
}

func (m *MemoryConnector) InsertAggregates(records []common.PBSAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.aggregates[r.BlockNumber.String()] = r
	}
	return nil
}

func (m *MemoryConnector) GetAggregate(blockNumber *big.Int) (*common.PBSAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.aggregates[blockNumber.String()]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryConnector) GetAggregatesInRange(start, end *big.Int) ([]common.PBSAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []common.PBSAggregate
	for _, r := range m.aggregates {
		if r.BlockNumber.Cmp(start) >= 0 && r.BlockNumber.Cmp(end) <= 0 {
			records = append(records, r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].BlockNumber.Cmp(records[j].BlockNumber) < 0 })
	return records, nil
}

func (m *MemoryConnector) GetCompletedDates() (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dates := make(map[string]bool, len(m.completedDates))
	for date := range m.completedDates {
		dates[date] = true
	}
	return dates, nil
}

func (m *MemoryConnector) GetRelayCheckpoint(relay string) (*common.RelayCheckpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.relayCheckpoints[relay]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *MemoryConnector) UpsertRelayCheckpoint(cp common.RelayCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayCheckpoints[cp.Relay] = cp
	return nil
}

func (m *MemoryConnector) GetCursor(stream string) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.cursors[stream]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(value), nil
}

func (m *MemoryConnector) SetCursor(stream string, value *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCursorLocked(stream, value)
	return nil
}
