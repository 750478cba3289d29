package loader

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Go after Close.
var ErrPoolClosed = errors.New("loader pool is closed")

// DefaultWorkers is the worker limit used when NewPool is given n <= 0.
const DefaultWorkers = 4

// Pool runs loads on a bounded set of worker goroutines.
//
// Every task receives the pool's context, which Close cancels. Go blocks
// while all workers are busy.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool of at most n concurrent workers.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel}
	p.group.SetLimit(n)
	return p
}

// Go runs fn on a worker. fn's context is derived from the pool's.
func (p *Pool) Go(fn func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.group.Go(func() error {
		fn(p.ctx)
		return nil
	})
	return nil
}

// Close cancels running tasks and waits for them to return. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	return p.group.Wait()
}
