package points

import (
	"context"
	"sync"

	"github.com/hupe1980/vdbgo/internal/blockcodec"
	"github.com/hupe1980/vdbgo/internal/pool"
	"github.com/hupe1980/vdbgo/resource"
)

// Codec selects the in-memory block compression backend for attribute
// columns.
type Codec = blockcodec.Type

const (
	CodecNone Codec = blockcodec.None
	CodecLZ4  Codec = blockcodec.LZ4
	CodecZSTD Codec = blockcodec.ZSTD
)

// CompactAttributes collapses every constant attribute column to its
// uniform representation and reports how many columns shrank.
func (g *Grid) CompactAttributes() int {
	n := 0
	for _, l := range g.Leaves() {
		n += l.Attrs.CompactAll()
	}
	return n
}

// CompressAttributes block-compresses the attribute columns of every
// leaf on a worker pool. Columns expand transparently on the next write,
// so this is safe to run on grids that will be read or moved afterwards.
// A non-nil controller gates the pass on a background worker slot and
// throttles compression throughput, so background compaction cannot
// starve foreground work.
func (g *Grid) CompressAttributes(ctx context.Context, codec Codec, rc *resource.Controller, workers int) error {
	leaves := g.Leaves()
	if len(leaves) == 0 {
		return nil
	}

	if err := rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer rc.ReleaseBackground()

	wp := pool.New(workers)
	defer wp.Close()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	fail := func(err error) {
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
	}

	for _, l := range leaves {
		l := l
		wg.Add(1)
		err := wp.Submit(ctx, func() {
			defer wg.Done()
			if err := l.Attrs.CompressAll(ctx, codec, rc); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()
	return first
}
