// Package loader keeps a query's result current as its table changes.
//
// A Loader runs its query on a Pool worker and hands each new result to the
// caller on the bus goroutine. It registers for change events on the
// query's table before the first load, so no change between load and
// registration is missed.
package loader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/livesql/internal/notify"
	"github.com/roach88/livesql/internal/result"
	"github.com/roach88/livesql/internal/schema"
)

// State is a Loader lifecycle state.
type State int

const (
	// Reset: no observer, no cached result.
	Reset State = iota
	// Started: observing and delivering.
	Started
	// Stopped: observing, not delivering. Changes mark the loader dirty.
	Stopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Reset:
		return "reset"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures a Loader.
type Option func(*settings)

type settings struct {
	ids     notify.IDGenerator
	onError func(id string, err error)
}

// WithIDGenerator sets how the loader is named in logs.
func WithIDGenerator(g notify.IDGenerator) Option {
	return func(s *settings) {
		s.ids = g
	}
}

// WithErrorHandler sets the function called, on the bus goroutine, when a
// load fails. The default logs the error.
func WithErrorHandler(fn func(id string, err error)) Option {
	return func(s *settings) {
		s.onError = fn
	}
}

// Loader binds a query to its table's change events.
//
// Start, Stop and Reset may be called from any goroutine. The delivery
// callback and the error handler always run on the bus goroutine.
type Loader[T any, P schema.Record[T]] struct {
	id      string
	bus     *notify.Bus
	pool    *Pool
	src     result.Source[T, P]
	deliver func(*result.Result[T, P])
	onError func(id string, err error)

	mu     sync.Mutex
	state  State
	reg    *notify.Registration
	cached *result.Result[T, P]
	dirty  bool
	gen    uint64
	cancel context.CancelFunc
}

// New creates a Loader in the Reset state. deliver receives every new
// result; the loader closes a result once the next one has been delivered,
// or on Reset.
func New[T any, P schema.Record[T]](bus *notify.Bus, pool *Pool, src result.Source[T, P], deliver func(*result.Result[T, P]), opts ...Option) *Loader[T, P] {
	s := settings{
		ids: notify.UUIDv7Generator{},
		onError: func(id string, err error) {
			slog.Error("load failed", "loader", id, "error", err)
		},
	}
	for _, opt := range opts {
		opt(&s)
	}

	return &Loader[T, P]{
		id:      s.ids.Generate(),
		bus:     bus,
		pool:    pool,
		src:     src,
		deliver: deliver,
		onError: s.onError,
	}
}

// ID returns the loader's identifier.
func (l *Loader[T, P]) ID() string { return l.id }

// State returns the current lifecycle state.
func (l *Loader[T, P]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Dirty reports whether a change arrived while the loader was stopped.
func (l *Loader[T, P]) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Result returns the last delivered result, or nil.
func (l *Loader[T, P]) Result() *result.Result[T, P] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cached
}

// Start begins delivery. The cached result is delivered again when still
// current and open; otherwise the query runs and its result is delivered.
func (l *Loader[T, P]) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Started {
		return
	}
	l.state = Started

	if l.reg == nil {
		l.reg = l.bus.Register(l.src.ResourceID().Base(), true, notify.ObserverFunc(l.onChange))
	}

	if l.cached != nil && !l.dirty && !l.cached.IsClosed() {
		l.redeliverLocked()
		return
	}
	l.loadLocked()
}

// Stop pauses delivery. A load in flight is cancelled and its result
// closed. The observer stays registered.
func (l *Loader[T, P]) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Started {
		return
	}
	l.state = Stopped
	if l.abortLocked() {
		l.dirty = true
	}
	slog.Debug("loader stopped", "loader", l.id)
}

// Reload runs the query again if the loader is started.
func (l *Loader[T, P]) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Started {
		l.loadLocked()
	}
}

// Reset unregisters the observer and closes the cached result.
func (l *Loader[T, P]) Reset() {
	l.mu.Lock()
	l.state = Reset
	l.abortLocked()
	if l.reg != nil {
		l.reg.Unregister()
		l.reg = nil
	}
	prev := l.cached
	l.cached = nil
	l.dirty = false
	l.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	slog.Debug("loader reset", "loader", l.id)
}

// onChange runs on the bus goroutine.
func (l *Loader[T, P]) onChange(c notify.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Started:
		slog.Debug("loader reloading", "loader", l.id, "uri", c.ID.String(), "seq", c.Seq)
		l.loadLocked()
	case Stopped:
		l.dirty = true
	}
}

// loadLocked supersedes any load in flight and starts a new one.
func (l *Loader[T, P]) loadLocked() {
	l.abortLocked()
	l.dirty = false

	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	err := l.pool.Go(func(poolCtx context.Context) {
		stop := context.AfterFunc(poolCtx, cancel)
		defer stop()

		res, err := l.src.List(ctx)
		if postErr := l.bus.Post(func() { l.finish(gen, res, err) }); postErr != nil && res != nil {
			res.Close()
		}
	})
	if err != nil {
		cancel()
		l.cancel = nil
		l.postError(err)
	}
}

// finish runs on the bus goroutine. Results of superseded or aborted loads
// are closed instead of delivered.
func (l *Loader[T, P]) finish(gen uint64, res *result.Result[T, P], err error) {
	l.mu.Lock()
	if gen != l.gen || l.state != Started {
		l.mu.Unlock()
		if res != nil {
			res.Close()
		}
		return
	}
	l.cancel()
	l.cancel = nil

	if err != nil {
		l.mu.Unlock()
		l.onError(l.id, err)
		return
	}

	prev := l.cached
	l.cached = res
	l.mu.Unlock()

	l.deliver(res)
	if prev != nil && prev != res {
		prev.Close()
	}
}

// redeliverLocked hands the cached result to the caller again. A result
// the caller closed in the meantime is replaced by a fresh load.
func (l *Loader[T, P]) redeliverLocked() {
	gen := l.gen
	res := l.cached
	err := l.bus.Post(func() {
		l.mu.Lock()
		current := gen == l.gen && l.state == Started && l.cached == res
		if current && res.IsClosed() {
			l.loadLocked()
			current = false
		}
		l.mu.Unlock()
		if current {
			l.deliver(res)
		}
	})
	if err != nil {
		slog.Debug("redelivery dropped", "loader", l.id, "error", err)
	}
}

// abortLocked cancels the load in flight, if any, and reports whether
// there was one.
func (l *Loader[T, P]) abortLocked() bool {
	l.gen++
	if l.cancel == nil {
		return false
	}
	l.cancel()
	l.cancel = nil
	return true
}

func (l *Loader[T, P]) postError(err error) {
	id := l.id
	if postErr := l.bus.Post(func() { l.onError(id, err) }); postErr != nil {
		slog.Error("load failed", "loader", id, "error", err)
	}
}
