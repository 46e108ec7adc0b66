package parallel

import (
	"context"
	"sync"
	"time"

	"github.com/go-arcade/arcade/pkg/safe"
)

type Group struct {
	ctx    context.Context
	cancel func()

	wg sync.WaitGroup

	errOnce sync.Once
	err     error
}

func GoGroup(ctx context.Context, opts ...RunOption) *Group {
	rOpts := &runOptions{}
	for _, opt := range opts {
		opt(rOpts)
	}
	g := &Group{}
	if rOpts.timeout > 0 {
		g.ctx, g.cancel = context.WithTimeout(ctx, rOpts.timeout)
	} else {
		g.ctx, g.cancel = context.WithCancel(ctx)
	}
	return g
}

// Wait blocks until all function calls from the Go method have returned, then
// returns the first non-nil error (if any) from them.
func (g *Group) Wait() error {
	g.wg.Wait()
	if g.cancel != nil {
		g.cancel()
	}
	return g.err
}

// Go calls the given function in a new goroutine.
//
// The first call to return a non-nil error cancels the group; its error will be
// returned by Wait.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	ctx := g.ctx
	safe.Go(func() {
		defer g.wg.Done()
		if err := fn(ctx); err != nil {
			g.errOnce.Do(func() {
				g.err = err
				if g.cancel != nil {
					g.cancel()
				}
			})
		}
	})
}

// RunOption .
type RunOption func(opts *runOptions)

type runOptions struct {
	timeout time.Duration
}

// WithTimeout .
func WithTimeout(timeout time.Duration) RunOption {
	return func(opts *runOptions) {
		opts.timeout = timeout
	}
}
