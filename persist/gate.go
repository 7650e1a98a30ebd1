package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GateOptions configures the persistence gate's scheduling policy.
type GateOptions struct {
	// Debounce is how long the gate coalesces mutations before flushing.
	Debounce time.Duration

	// MaxWait is the ceiling after which a continuously-edited room flushes
	// anyway.
	MaxWait time.Duration

	// FlushTimeout bounds a single flush pass so a stalled store cannot
	// wedge the gate.
	FlushTimeout time.Duration
}

// DefaultGateOptions returns the default gate options.
func DefaultGateOptions() *GateOptions {
	return &GateOptions{
		Debounce:     2 * time.Second,
		MaxWait:      15 * time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

// FlushFunc serializes the current document state and writes it to durable
// storage. It must be safe to call from the gate's own goroutine.
type FlushFunc func(ctx context.Context) error

// Gate coalesces persistence work with a debounce-with-max-wait policy.
// Every mutation calls Schedule; at most one write is pending at a time, and
// a room under continuous edit still flushes at least every MaxWait. Flush
// failures are logged and retried on the gate's own schedule, never
// surfaced to connected clients.
type Gate struct {
	opts   *GateOptions
	flush  FlushFunc
	logger *zap.Logger

	mu         sync.Mutex
	timer      *time.Timer
	dirtySince time.Time
	flushing   bool
	closed     bool
}

// NewGate creates a gate invoking flush on its schedule.
func NewGate(opts *GateOptions, flush FlushFunc, logger *zap.Logger) *Gate {
	if opts == nil {
		opts = DefaultGateOptions()
	}
	return &Gate{
		opts:   opts,
		flush:  flush,
		logger: logger,
	}
}

// Schedule records that a mutation happened and (re)arms the flush timer.
func (g *Gate) Schedule() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}

	now := time.Now()
	if g.dirtySince.IsZero() {
		g.dirtySince = now
	}

	fireAt := now.Add(g.opts.Debounce)
	if ceiling := g.dirtySince.Add(g.opts.MaxWait); ceiling.Before(fireAt) {
		fireAt = ceiling
	}
	g.armLocked(time.Until(fireAt))
}

// armLocked (re)sets the timer. Callers hold g.mu.
func (g *Gate) armLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(d, g.fire)
}

// fire runs one flush pass on the gate's goroutine.
func (g *Gate) fire() {
	g.mu.Lock()
	if g.closed || g.flushing || g.dirtySince.IsZero() {
		g.mu.Unlock()
		return
	}
	g.flushing = true
	wasDirty := g.dirtySince
	g.dirtySince = time.Time{}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.FlushTimeout)
	err := g.flush(ctx)
	cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.flushing = false

	if err != nil {
		g.logger.Warn("Persistence flush failed, will retry", zap.Error(err))
		// Still dirty; retry after another debounce window.
		if g.dirtySince.IsZero() {
			g.dirtySince = wasDirty
		}
		if !g.closed {
			g.armLocked(g.opts.Debounce)
		}
		return
	}

	// Mutations that arrived during the flush keep their own timer.
	if !g.dirtySince.IsZero() && !g.closed {
		g.armLocked(g.opts.Debounce)
	}
}

// Flush performs an immediate synchronous flush, bypassing the debounce.
func (g *Gate) Flush(ctx context.Context) error {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.dirtySince = time.Time{}
	g.mu.Unlock()

	return g.flush(ctx)
}

// Dirty reports whether mutations are awaiting a flush.
func (g *Gate) Dirty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.dirtySince.IsZero()
}

// Close stops the timer and runs a final flush when mutations are pending.
func (g *Gate) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
	}
	pending := !g.dirtySince.IsZero()
	g.dirtySince = time.Time{}
	g.mu.Unlock()

	if !pending {
		return nil
	}
	return g.flush(ctx)
}
