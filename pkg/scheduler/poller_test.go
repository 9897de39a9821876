package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/orgflow/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu      sync.Mutex
	handled []string
	err     error
}

func (h *recordingHandler) handle(_ context.Context, timer *scheduler.Timer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handled = append(h.handled, timer.ID)

	return h.err
}

func (h *recordingHandler) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.handled...)
}

func TestPoller_TickHandlesDueTimers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := scheduler.NewMemoryStore()
	handler := &recordingHandler{}

	require.NoError(t, store.Schedule(t.Context(), timer("t-1", "exec-1", time.Minute)))
	require.NoError(t, store.Schedule(t.Context(), timer("t-2", "exec-2", time.Hour)))

	poller := scheduler.NewPoller(store, handler.handle, slog.Default(), scheduler.WithClock(clock), scheduler.WithBatchSize(1))

	handled, err := poller.Tick(t.Context())
	require.NoError(t, err)
	assert.Zero(t, handled)

	clock.Advance(time.Minute)

	handled, err = poller.Tick(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, []string{"t-1"}, handler.ids())
	assert.Equal(t, []string{"t-2"}, ids(store.Pending()))
}

func TestPoller_FailedHandlerStillRemovesTimer(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := scheduler.NewMemoryStore()
	handler := &recordingHandler{err: errors.New("execution gone")}

	require.NoError(t, store.Schedule(t.Context(), timer("t-1", "exec-1", 0)))

	poller := scheduler.NewPoller(store, handler.handle, slog.Default(), scheduler.WithClock(clock))

	handled, err := poller.Tick(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Empty(t, store.Pending())
}

func TestPoller_RunFiresOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := scheduler.NewMemoryStore()
	handler := &recordingHandler{}

	require.NoError(t, store.Schedule(t.Context(), timer("t-1", "exec-1", 5*time.Second)))

	poller := scheduler.NewPoller(store, handler.handle, slog.Default(),
		scheduler.WithClock(clock),
		scheduler.WithInterval(5*time.Second))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- poller.Run(ctx)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(5 * time.Second)

	assert.Eventually(t, func() bool {
		return len(handler.ids()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestPoller_TickRunsHandlersConcurrently(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := scheduler.NewMemoryStore()

	require.NoError(t, store.Schedule(t.Context(), timer("t-1", "exec-1", 0)))
	require.NoError(t, store.Schedule(t.Context(), timer("t-2", "exec-2", 0)))

	var arrived sync.WaitGroup
	arrived.Add(2)

	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()

	handler := func(_ context.Context, _ *scheduler.Timer) error {
		arrived.Done()

		select {
		case <-both:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("handlers ran one at a time")
		}
	}

	recorded := &recordingHandler{}
	poller := scheduler.NewPoller(store, func(ctx context.Context, timer *scheduler.Timer) error {
		err := handler(ctx, timer)
		if err == nil {
			_ = recorded.handle(ctx, timer)
		}

		return err
	}, slog.Default(), scheduler.WithClock(clock), scheduler.WithConcurrency(2))

	handled, err := poller.Tick(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.ElementsMatch(t, []string{"t-1", "t-2"}, recorded.ids())
	assert.Empty(t, store.Pending())
}

func TestPoller_TickTakesNoTimersAfterContextEnds(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	store := scheduler.NewMemoryStore()
	handler := &recordingHandler{}

	require.NoError(t, store.Schedule(t.Context(), timer("t-1", "exec-1", 0)))

	poller := scheduler.NewPoller(store, handler.handle, slog.Default(), scheduler.WithClock(clock))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	handled, err := poller.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, handled)
	assert.Empty(t, handler.ids())
	assert.Equal(t, []string{"t-1"}, ids(store.Pending()))
}
