package pool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	wp := New(4)
	defer wp.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := wp.Submit(context.Background(), func() {
			defer wg.Done()
			counter.Add(1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int64(100), counter.Load())
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	wp := New(0)
	defer wp.Close()

	assert.Equal(t, runtime.GOMAXPROCS(0), wp.Size())
}

func TestWorkerPoolCloseWaitsForInflight(t *testing.T) {
	wp := New(2)

	var done atomic.Int64
	for i := 0; i < 8; i++ {
		require.NoError(t, wp.Submit(context.Background(), func() {
			done.Add(1)
		}))
	}

	wp.Close()
	assert.Equal(t, int64(8), done.Load())
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	wp := New(1)
	wp.Close()

	err := wp.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWorkerPoolCloseIdempotent(t *testing.T) {
	wp := New(1)
	wp.Close()
	wp.Close()
}

func TestWorkerPoolSubmitCanceled(t *testing.T) {
	wp := New(1)
	defer wp.Close()

	block := make(chan struct{})
	// Occupy the single worker and fill the buffered queue so the next
	// Submit has to block.
	require.NoError(t, wp.Submit(context.Background(), func() { <-block }))
	for {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := wp.Submit(ctx, func() {})
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
			break
		}
	}
	close(block)
}
