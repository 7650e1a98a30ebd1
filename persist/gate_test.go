package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flushRecorder struct {
	mu      sync.Mutex
	times   []time.Time
	failN   int
	blocked chan struct{}
}

func (f *flushRecorder) flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, time.Now())
	if f.failN > 0 {
		f.failN--
		return errors.New("store unavailable")
	}
	return nil
}

func (f *flushRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

func (f *flushRecorder) at(i int) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.times[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}

func testGateOptions() *GateOptions {
	return &GateOptions{
		Debounce:     40 * time.Millisecond,
		MaxWait:      150 * time.Millisecond,
		FlushTimeout: time.Second,
	}
}

func TestGateDebounceCoalesces(t *testing.T) {
	rec := &flushRecorder{}
	g := NewGate(testGateOptions(), rec.flush, zap.NewNop())

	start := time.Now()
	// A burst of mutations within one debounce window flushes once.
	g.Schedule()
	g.Schedule()
	g.Schedule()
	assert.True(t, g.Dirty())

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	elapsed := rec.at(0).Sub(start)
	assert.GreaterOrEqual(t, elapsed, 35*time.Millisecond)
	assert.False(t, g.Dirty())

	// Quiet gate stays quiet.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestGateMaxWaitCapsContinuousEdits(t *testing.T) {
	rec := &flushRecorder{}
	g := NewGate(testGateOptions(), rec.flush, zap.NewNop())

	// Keep editing faster than the debounce window for longer than
	// MaxWait; the ceiling must force a flush anyway.
	start := time.Now()
	stop := time.After(300 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			g.Schedule()
		}
	}

	waitFor(t, time.Second, func() bool { return rec.count() >= 1 })
	first := rec.at(0).Sub(start)
	assert.LessOrEqual(t, first, 250*time.Millisecond, "first flush must not exceed MaxWait by much")
}

func TestGateRetriesAfterFailure(t *testing.T) {
	rec := &flushRecorder{failN: 1}
	g := NewGate(testGateOptions(), rec.flush, zap.NewNop())

	g.Schedule()
	// First attempt fails, the gate stays dirty and retries on its own.
	waitFor(t, 2*time.Second, func() bool { return rec.count() >= 2 })
	waitFor(t, time.Second, func() bool { return !g.Dirty() })
}

func TestGateFlushBypassesDebounce(t *testing.T) {
	rec := &flushRecorder{}
	g := NewGate(testGateOptions(), rec.flush, zap.NewNop())

	g.Schedule()
	require.NoError(t, g.Flush(context.Background()))
	assert.Equal(t, 1, rec.count())
	assert.False(t, g.Dirty())
}

func TestGateCloseFlushesPending(t *testing.T) {
	rec := &flushRecorder{}
	g := NewGate(testGateOptions(), rec.flush, zap.NewNop())

	g.Schedule()
	require.NoError(t, g.Close(context.Background()))
	assert.Equal(t, 1, rec.count())

	// Closed gates ignore further work.
	g.Schedule()
	require.NoError(t, g.Close(context.Background()))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestGateCloseWithoutPendingSkipsFlush(t *testing.T) {
	rec := &flushRecorder{}
	g := NewGate(testGateOptions(), rec.flush, zap.NewNop())

	require.NoError(t, g.Close(context.Background()))
	assert.Equal(t, 0, rec.count())
}
