// Package notify delivers change events to observers on one coordination
// goroutine.
//
// A Bus owns an unbounded FIFO of tasks drained by Run. NotifyChange and Post
// only enqueue, so writers never run observer code and never block on it.
// Observers therefore always run on the Run goroutine, one at a time, in the
// order events were published.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/livesql/internal/schema"
)

// ErrClosed is returned when work is posted to a closed bus.
var ErrClosed = errors.New("bus is closed")

// Change is a change event: data behind ID changed. Seq orders events
// published on the same bus.
type Change struct {
	ID  schema.ResourceID
	Seq int64
}

// Observer is notified of changes it registered for.
type Observer interface {
	OnChange(c Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(c Change)

// OnChange calls f(c).
func (f ObserverFunc) OnChange(c Change) { f(c) }

// Registration is an active observer. Unregister it explicitly when done.
type Registration struct {
	id          string
	bus         *Bus
	resource    schema.ResourceID
	descendants bool
	observer    Observer
	active      atomic.Bool
}

// ID returns the registration's identifier.
func (r *Registration) ID() string { return r.id }

// ResourceID returns the identifier the observer registered for.
func (r *Registration) ResourceID() schema.ResourceID { return r.resource }

// Active reports whether the registration still receives changes.
func (r *Registration) Active() bool { return r.active.Load() }

// Unregister stops delivery. Changes already queued are not delivered to
// it either. Idempotent.
func (r *Registration) Unregister() {
	if !r.active.CompareAndSwap(true, false) {
		return
	}
	r.bus.remove(r)
}

// matches reports whether a change to id concerns this registration: the
// same resource, a descendant when registered with descendants, or any
// resource below the changed one.
func (r *Registration) matches(id schema.ResourceID) bool {
	if r.resource.Equal(id) {
		return true
	}
	if r.descendants && r.resource.Contains(id) {
		return true
	}
	return id.Contains(r.resource)
}

// Option configures a Bus.
type Option func(*Bus)

// WithSequenceStart makes the first change published carry start+1.
func WithSequenceStart(start int64) Option {
	return func(b *Bus) {
		b.seq.Store(start)
	}
}

// WithIDGenerator sets how registrations are named.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *Bus) {
		b.ids = g
	}
}

// Bus is the coordination context. Create with NewBus, drive with Run.
//
// Thread-safety: every method may be called from any goroutine.
type Bus struct {
	queue *taskQueue
	seq   atomic.Int64
	ids   IDGenerator

	mu   sync.RWMutex
	regs []*Registration
}

// NewBus creates an idle bus. Nothing is delivered until Run is called.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		queue: newTaskQueue(),
		ids:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drains the task queue until ctx is cancelled or Close is called.
// A panicking task is logged and does not stop the loop.
func (b *Bus) Run(ctx context.Context) error {
	slog.Debug("notify bus starting")

	for {
		if task, ok := b.queue.TryDequeue(); ok {
			b.runTask(task)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("notify bus stopping: context cancelled")
			b.queue.Close()
			return ctx.Err()

		case <-b.queue.Wait():
			if b.queue.Closed() && b.queue.Len() == 0 {
				slog.Debug("notify bus stopping: closed")
				return nil
			}
		}
	}
}

// Close stops the bus. Queued tasks are still run by Run before it returns;
// later Post and NotifyChange calls are dropped.
func (b *Bus) Close() {
	b.queue.Close()
}

// Post schedules fn on the bus goroutine.
func (b *Bus) Post(fn func()) error {
	if !b.queue.Enqueue(fn) {
		return ErrClosed
	}
	return nil
}

// Sync blocks until every task posted before it has run.
func (b *Bus) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := b.Post(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds an observer for id. With descendants set, changes to
// identifiers below id (such as a single row) are delivered as well.
func (b *Bus) Register(id schema.ResourceID, descendants bool, o Observer) *Registration {
	r := &Registration{
		id:          b.ids.Generate(),
		bus:         b,
		resource:    id,
		descendants: descendants,
		observer:    o,
	}
	r.active.Store(true)

	b.mu.Lock()
	b.regs = append(b.regs, r)
	b.mu.Unlock()

	slog.Debug("observer registered", "registration", r.id, "uri", id.String(), "descendants", descendants)
	return r
}

// Registrations returns the number of active registrations.
func (b *Bus) Registrations() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.regs)
}

// Sequence returns the Seq of the last change published.
func (b *Bus) Sequence() int64 {
	return b.seq.Load()
}

// NotifyChange publishes a change to id. Matching observers run later on
// the bus goroutine. Never blocks; dropped once the bus is closed.
func (b *Bus) NotifyChange(id schema.ResourceID) {
	c := Change{ID: id, Seq: b.seq.Add(1)}
	if !b.queue.Enqueue(func() { b.deliver(c) }) {
		slog.Debug("change dropped: bus closed", "uri", id.String(), "seq", c.Seq)
	}
}

func (b *Bus) deliver(c Change) {
	b.mu.RLock()
	targets := make([]*Registration, 0, len(b.regs))
	for _, r := range b.regs {
		if r.matches(c.ID) {
			targets = append(targets, r)
		}
	}
	b.mu.RUnlock()

	for _, r := range targets {
		if !r.Active() {
			continue
		}
		b.callObserver(r, c)
	}
}

func (b *Bus) callObserver(r *Registration, c Change) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("observer panicked",
				"registration", r.id,
				"uri", c.ID.String(),
				"seq", c.Seq,
				"panic", fmt.Sprint(p),
			)
		}
	}()
	r.observer.OnChange(c)
}

func (b *Bus) runTask(task func()) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("bus task panicked", "panic", fmt.Sprint(p))
		}
	}()
	task()
}

func (b *Bus) remove(r *Registration) {
	b.mu.Lock()
	b.regs = slices.DeleteFunc(b.regs, func(x *Registration) bool { return x == r })
	b.mu.Unlock()

	slog.Debug("observer unregistered", "registration", r.id)
}
