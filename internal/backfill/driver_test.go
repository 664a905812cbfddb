package backfill

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverProcessesAllUnits(t *testing.T) {
	var mu sync.Mutex
	processed := make(map[int]bool)
	offset := 0

	driver := &Driver[int]{
		Stream:      "test",
		Concurrency: 3,
		ChunkSize:   4,
		SelectWork: func(ctx context.Context, limit int) ([]int, error) {
			var units []int
			for i := offset; i < 10 && len(units) < limit; i++ {
				units = append(units, i)
			}
			offset += len(units)
			return units, nil
		},
		ProcessUnit: func(ctx context.Context, unit int) error {
			mu.Lock()
			processed[unit] = true
			mu.Unlock()
			return nil
		},
		DescribeUnit: func(unit int) string { return fmt.Sprintf("unit %d", unit) },
	}

	require.NoError(t, driver.Run(context.Background()))
	assert.Len(t, processed, 10)
}

// A failing unit is skipped, not fatal; the rest of the chunk completes.
func TestDriverIsolatesUnitFailures(t *testing.T) {
	var mu sync.Mutex
	var processed []int
	served := false

	driver := &Driver[int]{
		Stream:      "test",
		Concurrency: 2,
		ChunkSize:   10,
		SelectWork: func(ctx context.Context, limit int) ([]int, error) {
			if served {
				return nil, nil
			}
			served = true
			return []int{1, 2, 3, 4, 5}, nil
		},
		ProcessUnit: func(ctx context.Context, unit int) error {
			if unit == 3 {
				return fmt.Errorf("unit 3 broke")
			}
			mu.Lock()
			processed = append(processed, unit)
			mu.Unlock()
			return nil
		},
		DescribeUnit: func(unit int) string { return fmt.Sprintf("unit %d", unit) },
	}

	require.NoError(t, driver.Run(context.Background()))
	assert.Len(t, processed, 4)
}

// A chunk where nothing succeeds stops the run instead of spinning.
func TestDriverStopsWithoutProgress(t *testing.T) {
	driver := &Driver[int]{
		Stream:      "test",
		Concurrency: 2,
		ChunkSize:   2,
		SelectWork: func(ctx context.Context, limit int) ([]int, error) {
			return []int{1, 2}, nil
		},
		ProcessUnit: func(ctx context.Context, unit int) error {
			return fmt.Errorf("always failing")
		},
		DescribeUnit: func(unit int) string { return fmt.Sprintf("unit %d", unit) },
	}

	assert.Error(t, driver.Run(context.Background()))
}

func TestDriverHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := &Driver[int]{
		Stream:      "test",
		Concurrency: 1,
		ChunkSize:   1,
		SelectWork: func(ctx context.Context, limit int) ([]int, error) {
			return []int{1}, nil
		},
		ProcessUnit:  func(ctx context.Context, unit int) error { return nil },
		DescribeUnit: func(unit int) string { return "unit" },
	}

	assert.ErrorIs(t, driver.Run(ctx), context.Canceled)
}
