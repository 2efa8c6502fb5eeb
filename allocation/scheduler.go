/*
scheduler.go - Scheduled allocation evaluation

PURPOSE:
  On each tick, decides which rules are due for today and commits them for
  one owner. A rule moves through three states per (owner, date, type) key:

    NotRun -> Running -> Committed

  There is no Failed state. A failed attempt rolls back and leaves the key
  NotRun, so the next tick on the same date retries the whole rule.

COMMIT PROTOCOL (one store transaction per rule):
  1. HasAutomationRun -> already committed, no-op
  2. every leg goes through Ledger.RecordIn (validator, origin automatic)
  3. RecordAutomationRun, which the store rejects if the key exists
  Any failure in 2 or 3 rolls back every leg written in 2.

  Leg rates are resolved before the transaction opens, since a rate source
  may read the same store.

ERRORS:
  A rejected leg (e.g. InsufficientFunds on an expense) defers the rule and
  is not returned. Store failures abort Evaluate and are returned. A date
  after the ledger clock's today is ErrInvalidDate.
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/franga/engine/ledger"
)

// RunState is the lifecycle of one automation key.
type RunState string

const (
	StateNotRun    RunState = "not_run"
	StateRunning   RunState = "running"
	StateCommitted RunState = "committed"
)

// Evaluation outcomes reported to the Recorder.
const (
	OutcomeCommitted = "committed"
	OutcomeSkipped   = "skipped"
	OutcomeDeferred  = "deferred"
	OutcomeFailed    = "failed"
)

// RateSource resolves the rate for non-USD legs.
type RateSource interface {
	Rate(ctx context.Context, currency ledger.Currency) (decimal.Decimal, error)
}

// Recorder is notified of each rule evaluation.
type Recorder interface {
	AutomationEvaluated(t ledger.AutomationType, outcome string)
}

// Scheduler evaluates allocation rules against a Ledger.
type Scheduler struct {
	Ledger   *ledger.Ledger
	Rules    []Rule
	Rates    RateSource
	Logger   *slog.Logger
	Recorder Recorder

	mu      sync.Mutex
	running map[runKey]bool
}

type runKey struct {
	owner ledger.OwnerID
	date  string
	typ   ledger.AutomationType
}

// NewScheduler creates a Scheduler with the default rules.
func NewScheduler(l *ledger.Ledger, rates RateSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Ledger:  l,
		Rules:   DefaultRules(),
		Rates:   rates,
		Logger:  logger,
		running: make(map[runKey]bool),
	}
}

// Evaluate commits every rule due on today for owner and returns the
// entries committed by this call. Calling it again for the same date is a
// no-op for rules that already committed.
func (s *Scheduler) Evaluate(ctx context.Context, today ledger.Date, owner ledger.OwnerID) ([]ledger.Entry, error) {
	if now := s.Ledger.Today(); today.IsZero() || today.After(now) {
		return nil, fmt.Errorf("evaluate %s (today is %s): %w", today, now, ledger.ErrInvalidDate)
	}

	var committed []ledger.Entry
	for _, rule := range s.Rules {
		if !rule.Due(today) {
			continue
		}

		entries, outcome, err := s.evaluateRule(ctx, rule, today, owner)
		s.record(rule.Type, outcome)

		log := s.Logger.With(
			slog.String("owner", string(owner)),
			slog.String("rule", string(rule.Type)),
			slog.String("date", today.String()),
		)
		switch outcome {
		case OutcomeCommitted:
			s.Ledger.Committed(entries...)
			log.Info("allocation committed", slog.Int("entries", len(entries)))
			committed = append(committed, entries...)
		case OutcomeSkipped:
			log.Debug("allocation already committed")
		case OutcomeDeferred:
			log.Warn("allocation deferred, will retry on next tick",
				slog.String("reason", ledger.Reason(err)),
				slog.String("error", err.Error()),
			)
		default:
			log.Error("allocation failed", slog.String("error", err.Error()))
			return committed, err
		}
	}
	return committed, nil
}

func (s *Scheduler) evaluateRule(ctx context.Context, rule Rule, today ledger.Date, owner ledger.OwnerID) ([]ledger.Entry, string, error) {
	key := runKey{owner: owner, date: today.String(), typ: rule.Type}
	if !s.begin(key) {
		// another tick holds the key; it will commit or leave it NotRun
		return nil, OutcomeSkipped, nil
	}
	defer s.end(key)

	legRates := make([]decimal.Decimal, len(rule.Legs))
	for i, leg := range rule.Legs {
		rate, err := s.rate(ctx, leg.Currency)
		if err != nil {
			return classify(rule, nil, false, fmt.Errorf("%s leg %q rate: %w", rule.Type, leg.Category, err))
		}
		legRates[i] = rate
	}

	var entries []ledger.Entry
	already := false
	err := s.Ledger.Store.WithTx(ctx, func(st ledger.Store) error {
		done, err := st.HasAutomationRun(ctx, owner, today, rule.Type)
		if err != nil {
			return &ledger.StoreError{Op: "has automation run", Err: err}
		}
		if done {
			already = true
			return nil
		}

		entries = entries[:0]
		ids := make([]ledger.EntryID, 0, len(rule.Legs))
		for i, leg := range rule.Legs {
			e, err := s.Ledger.RecordIn(ctx, st, rule.input(owner, today, leg), legRates[i], today)
			if err != nil {
				return fmt.Errorf("%s leg %q: %w", rule.Type, leg.Category, err)
			}
			entries = append(entries, e)
			ids = append(ids, e.ID)
		}

		return st.RecordAutomationRun(ctx, ledger.AutomationRun{
			OwnerID:   owner,
			Date:      today,
			Type:      rule.Type,
			EntryIDs:  ids,
			CreatedAt: time.Now().UTC(),
		})
	})
	return classify(rule, entries, already, err)
}

// classify maps the result of one rule attempt to its outcome.
func classify(rule Rule, entries []ledger.Entry, already bool, err error) ([]ledger.Entry, string, error) {
	switch {
	case err == nil && already:
		return nil, OutcomeSkipped, nil
	case err == nil:
		return entries, OutcomeCommitted, nil
	case errors.Is(err, ledger.ErrAutomationRunExists):
		return nil, OutcomeSkipped, nil
	case ledger.IsRejection(err):
		return nil, OutcomeDeferred, err
	case ledger.Reason(err) == "":
		return nil, OutcomeFailed, &ledger.StoreError{Op: "evaluate " + string(rule.Type), Err: err}
	default:
		return nil, OutcomeFailed, err
	}
}

func (s *Scheduler) rate(ctx context.Context, c ledger.Currency) (decimal.Decimal, error) {
	if c == ledger.USD || s.Rates == nil {
		return decimal.NewFromInt(1), nil
	}
	return s.Rates.Rate(ctx, c)
}

// begin marks key Running; it returns false if it already is.
func (s *Scheduler) begin(key runKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[runKey]bool)
	}
	if s.running[key] {
		return false
	}
	s.running[key] = true
	return true
}

func (s *Scheduler) end(key runKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}

// State reports the lifecycle state of a rule for owner on date.
func (s *Scheduler) State(ctx context.Context, owner ledger.OwnerID, date ledger.Date, t ledger.AutomationType) (RunState, error) {
	s.mu.Lock()
	running := s.running[runKey{owner: owner, date: date.String(), typ: t}]
	s.mu.Unlock()
	if running {
		return StateRunning, nil
	}

	done, err := s.Ledger.Store.HasAutomationRun(ctx, owner, date, t)
	if err != nil {
		return "", &ledger.StoreError{Op: "has automation run", Err: err}
	}
	if done {
		return StateCommitted, nil
	}
	return StateNotRun, nil
}

func (s *Scheduler) record(t ledger.AutomationType, outcome string) {
	if s.Recorder != nil {
		s.Recorder.AutomationEvaluated(t, outcome)
	}
}
