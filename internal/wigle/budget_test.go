package wigle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_PassThroughBeforeFirstUpdate(t *testing.T) {
	b := NewBudget()
	assert.Equal(t, -1, b.Remaining())

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Acquire(context.Background()))
	}
}

func TestBudget_DecrementsAfterUpdate(t *testing.T) {
	b := NewBudget()
	b.Update(3, time.Time{})

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Acquire(context.Background()))
	}
	assert.Equal(t, 0, b.Remaining())
}

func TestBudget_BlocksUntilReset(t *testing.T) {
	b := NewBudget()
	b.Update(0, time.Now().Add(50*time.Millisecond))

	start := time.Now()
	require.NoError(t, b.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"exhausted budget must block until the reset time")
}

func TestBudget_AcquireCancellable(t *testing.T) {
	b := NewBudget()
	b.Update(0, time.Now().Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBudget_ConcurrentAcquire(t *testing.T) {
	b := NewBudget()
	b.Update(100, time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Acquire(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, b.Remaining())
}
