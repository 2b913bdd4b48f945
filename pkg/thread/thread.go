// Package thread provides a bounded pool of goroutines
// used to split image work into parallel stripes.
package thread

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the number of workers used when the pool size is not set.
func DefaultSize() int { return runtime.GOMAXPROCS(0) }

// Pool runs jobs on a limited number of goroutines.
// A nil Pool runs everything on the calling goroutine.
type Pool struct {
	size int
}

// NewPool creates a pool with n workers, n <= 0 means DefaultSize.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultSize()
	}
	return &Pool{size: n}
}

func (p *Pool) Size() int {
	if p == nil {
		return 1
	}
	return p.size
}

// Parallel calls fn for every index in [0, n) and waits for all of them.
// It returns the first error, the rest of the jobs are skipped after a failure.
func (p *Pool) Parallel(ctx context.Context, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if p.Size() == 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i)
		})
	}
	return g.Wait()
}
