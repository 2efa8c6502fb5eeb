/*
scheduler.go - Background allocation runner

PURPOSE:
  Periodically evaluates the allocation rules for every known owner. The
  rules themselves are idempotent per (owner, date, rule), so ticking more
  than once a day only retries rules that were deferred.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Evaluates immediately on start, then on each tick
  - A failure for one owner is logged and does not stop the others

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the runner is active (default: true)

USAGE:
  runner := NewAllocationRunner(scheduler, store, clock, logger)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - allocation/scheduler.go: per-rule commit protocol
  - handlers.go: EvaluateAutomation endpoint (manual evaluation)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/franga/engine/allocation"
	"github.com/franga/engine/ledger"
)

// AllocationRunner ticks the allocation scheduler for all owners.
type AllocationRunner struct {
	Scheduler     *allocation.Scheduler
	Owners        ledger.OwnerLister
	Clock         ledger.Clock
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAllocationRunner creates a new runner.
func NewAllocationRunner(s *allocation.Scheduler, owners ledger.OwnerLister, clock ledger.Clock, logger *slog.Logger) *AllocationRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &AllocationRunner{
		Scheduler:     s,
		Owners:        owners,
		Clock:         clock,
		Logger:        logger.With(slog.String("component", "allocation-runner")),
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the runner.
func (ar *AllocationRunner) Start() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if !ar.Enabled {
		ar.Logger.Info("disabled, not starting")
		return
	}
	if ar.ticker != nil {
		return
	}

	ar.ticker = time.NewTicker(ar.CheckInterval)
	ar.stop = make(chan struct{})
	ar.wg.Add(1)

	go ar.run()

	ar.Logger.Info("started", slog.Duration("interval", ar.CheckInterval))
}

// Stop stops the runner and waits for an in-flight check to finish.
func (ar *AllocationRunner) Stop() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if ar.ticker != nil {
		ar.ticker.Stop()
		close(ar.stop)
		ar.wg.Wait()
		ar.ticker = nil
		ar.Logger.Info("stopped")
	}
}

func (ar *AllocationRunner) run() {
	defer ar.wg.Done()

	ar.RunNow(context.Background())

	for {
		select {
		case <-ar.ticker.C:
			ar.RunNow(context.Background())
		case <-ar.stop:
			return
		}
	}
}

// RunNow evaluates today's rules for every owner and returns how many
// entries were committed.
func (ar *AllocationRunner) RunNow(ctx context.Context) int {
	today := ar.Clock.Today()

	owners, err := ar.Owners.ListOwners(ctx)
	if err != nil {
		ar.Logger.Error("listing owners", slog.String("error", err.Error()))
		return 0
	}

	committed := 0
	for _, owner := range owners {
		entries, err := ar.Scheduler.Evaluate(ctx, today, owner)
		committed += len(entries)
		if err != nil {
			ar.Logger.Error("evaluation failed",
				slog.String("owner", string(owner)),
				slog.String("date", today.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if committed > 0 {
		ar.Logger.Info("check completed",
			slog.String("date", today.String()),
			slog.Int("owners", len(owners)),
			slog.Int("committed", committed),
		)
	}
	return committed
}

// NextRunTime returns when the next scheduled check will occur.
func (ar *AllocationRunner) NextRunTime() time.Time {
	return time.Now().Add(ar.CheckInterval)
}
