package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = time.Second
	DefaultConcurrency  = 8
	defaultBatchSize    = 100
)

// Handler resumes the execution a timer belongs to.
type Handler func(ctx context.Context, timer *Timer) error

// Poller periodically collects due timers and hands them to a Handler.
// Suspended executions never hold a goroutine; the poller is the only waiter.
// Up to concurrency handlers of one batch run at the same time.
type Poller struct {
	store       Store
	handler     Handler
	clock       clockwork.Clock
	interval    time.Duration
	batch       int
	concurrency int
	logger      *slog.Logger
}

type PollerOption func(*Poller)

func WithClock(clock clockwork.Clock) PollerOption {
	return func(p *Poller) {
		p.clock = clock
	}
}

func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithBatchSize(size int) PollerOption {
	return func(p *Poller) {
		if size > 0 {
			p.batch = size
		}
	}
}

// WithConcurrency bounds how many timer handlers run at once.
func WithConcurrency(limit int) PollerOption {
	return func(p *Poller) {
		if limit > 0 {
			p.concurrency = limit
		}
	}
}

func NewPoller(store Store, handler Handler, logger *slog.Logger, opts ...PollerOption) *Poller {
	poller := &Poller{
		store:       store,
		handler:     handler,
		clock:       clockwork.NewRealClock(),
		interval:    DefaultPollInterval,
		batch:       defaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      logger.With("module", "timer_poller"),
	}

	for _, opt := range opts {
		opt(poller)
	}

	return poller
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "Timer poller started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Timer poller stopped")

			return nil
		case <-ticker.Chan():
			_, err := p.Tick(ctx)
			if err != nil {
				p.logger.ErrorContext(ctx, "Failed to process due timers", "error", err)
			}
		}
	}
}

// Tick handles every timer due at the current clock time and returns how
// many were handled. A timer is removed before its handler runs and is not
// retried when the handler fails. Handlers of one batch run concurrently and
// Tick waits for all of them before fetching the next batch. Once ctx is done
// no further timers are taken.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	handled := 0

	for {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}

		due, err := p.store.Due(ctx, p.clock.Now(), p.batch)
		if err != nil {
			return handled, err
		}

		if len(due) == 0 {
			return handled, nil
		}

		var group errgroup.Group
		group.SetLimit(p.concurrency)

		for _, timer := range due {
			if ctx.Err() != nil {
				break
			}

			err = p.store.Remove(ctx, timer.ID)
			if err != nil {
				break
			}

			handled++

			group.Go(func() error {
				p.handle(ctx, timer)

				return nil
			})
		}

		_ = group.Wait()

		if err != nil {
			return handled, err
		}
	}
}

func (p *Poller) handle(ctx context.Context, timer *Timer) {
	err := p.handler(ctx, timer)
	if err != nil {
		p.logger.ErrorContext(ctx, "Timer handler failed",
			"timer_id", timer.ID,
			"execution_id", timer.ExecutionID,
			"kind", timer.Kind,
			"error", err)

		return
	}

	p.logger.DebugContext(ctx, "Timer handled", "timer_id", timer.ID, "execution_id", timer.ExecutionID)
}
