// Package resource tracks and limits the memory and concurrency consumed
// by grid operations. Rasterization and point-move bursts allocate leaf
// nodes and attribute buffers aggressively; the controller gives hosts a
// single knob to keep that in bounds.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for tracked grid memory
	// (leaf buffers, attribute arrays, scratch masks).
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxBackgroundWorkers caps concurrent background jobs such as
	// attribute compaction and tile pruning. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// CompressLimitBytesPerSec throttles background attribute
	// compression throughput. If 0, unlimited.
	CompressLimitBytesPerSec int64
}

// Controller manages global resources (memory, concurrency).
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	bgSem *semaphore.Weighted

	compressLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.CompressLimitBytesPerSec > 0 {
		c.compressLimiter = rate.NewLimiter(rate.Limit(cfg.CompressLimitBytesPerSec), int(cfg.CompressLimitBytesPerSec))
	}

	return c
}

// AcquireMemory reserves bytes against the limit, blocking until the
// reservation fits or ctx is canceled. A nil controller is a no-op, so
// callers may thread an optional controller without guarding.
func (c *Controller) AcquireMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory reserves bytes without blocking. Returns false if the
// limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases a prior reservation.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireBackground reserves a background worker slot, blocking while all
// slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireCompress waits until the compression throughput limit allows the
// given number of bytes.
func (c *Controller) AcquireCompress(ctx context.Context, bytes int) error {
	if c == nil || c.compressLimiter == nil {
		return nil
	}
	return c.compressLimiter.WaitN(ctx, bytes)
}
