package retry

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gmail-analyzer/pkg/mail"
)

// State is a state of the round retry machine.
type State string

const (
	// StateFetching means a pass over a set of ids is in progress.
	StateFetching State = "fetching"

	// StateAwaitingRetry means failures are pending and the round backoff is running.
	StateAwaitingRetry State = "awaiting_retry"

	// StateExhausted means the loop stopped with ids left unresolved.
	StateExhausted State = "exhausted"

	// StateCompleted means the failed set was drained.
	StateCompleted State = "completed"
)

type event string

const (
	evDrained         event = "drained"
	evFailuresPending event = "failures_pending"
	evBackoffElapsed  event = "backoff_elapsed"
	evBudgetSpent     event = "budget_spent"
	evStagnated       event = "stagnated"
	evAborted         event = "aborted"
	evCancelled       event = "cancelled"
)

// transitions is the complete transition table. Terminal states have no
// outgoing edges.
var transitions = map[State]map[event]State{
	StateFetching: {
		evDrained:         StateCompleted,
		evFailuresPending: StateAwaitingRetry,
		evBudgetSpent:     StateExhausted,
		evStagnated:       StateExhausted,
		evAborted:         StateExhausted,
		evCancelled:       StateExhausted,
	},
	StateAwaitingRetry: {
		evBackoffElapsed: StateFetching,
		evCancelled:      StateExhausted,
	},
}

// StopReason explains why the round loop ended.
type StopReason string

const (
	StopDrained    StopReason = "drained"
	StopMaxRounds  StopReason = "max_rounds"
	StopStagnation StopReason = "stagnation"
	StopAborted    StopReason = "aborted"
	StopCancelled  StopReason = "cancelled"
)

var stopReasons = map[event]StopReason{
	evDrained:     StopDrained,
	evBudgetSpent: StopMaxRounds,
	evStagnated:   StopStagnation,
	evAborted:     StopAborted,
	evCancelled:   StopCancelled,
}

type machine struct {
	state  State
	reason StopReason
}

func (m *machine) fire(ev event) {
	next, ok := transitions[m.state][ev]
	if !ok {
		panic(fmt.Sprintf("retry: illegal transition from %s on %s", m.state, ev))
	}
	m.state = next
	if r, ok := stopReasons[ev]; ok {
		m.reason = r
	}
}

// RoundOutcome is what one round attempt reports back to the runner.
type RoundOutcome struct {
	// Retry holds ids that must stay in the failed set: per-item transient
	// failures, ids of batch calls that failed transiently as a whole, and
	// ids left unattempted when the round stopped early.
	Retry []string

	// Deferred is how many ids in Retry never received a per-item answer
	// because their whole batch call failed transiently.
	Deferred int
}

// RoundFunc re-issues batched gets for exactly ids.
type RoundFunc func(ctx context.Context, ids []string) (RoundOutcome, error)

// RoundReport summarizes a finished round loop.
type RoundReport struct {
	Rounds     int
	Unresolved []string
	Reason     StopReason
	Final      State
	Err        error
}

// DefaultMaxDeferredRounds is how many consecutive rounds without a single
// per-item answer an unlimited loop tolerates before it stops.
const DefaultMaxDeferredRounds = 5

// RoundRunner drives the per-round retry loop.
type RoundRunner struct {
	Policy Policy
	Sleep  SleepFunc
	Rand   func() float64

	// MaxDeferredRounds bounds consecutive fully deferred rounds when the
	// round budget is unlimited. Bounded loops rely on their budget.
	MaxDeferredRounds int

	logger zerolog.Logger
}

// NewRoundRunner creates a runner whose round backoff follows policy.
func NewRoundRunner(policy Policy, logger zerolog.Logger) *RoundRunner {
	return &RoundRunner{
		Policy:            policy,
		Sleep:             Sleep,
		Rand:              rand.Float64,
		MaxDeferredRounds: DefaultMaxDeferredRounds,
		logger: logger.With().Str("component", "retry-rounds").Logger(),
	}
}

// Run retries the ids in failed until the set drains, maxRounds rounds have
// run (maxRounds == 0 means unlimited), a round fails to shrink the set, a
// round is aborted by a permanent batch failure, or ctx is cancelled. An
// unlimited loop also stops after MaxDeferredRounds consecutive rounds in
// which every batch call failed as a whole.
// failed is mutated in place and holds the unresolved ids on return.
func (r *RoundRunner) Run(ctx context.Context, failed *mail.FailedSet, maxRounds int, attempt RoundFunc) RoundReport {
	m := &machine{state: StateFetching}
	var report RoundReport
	deferredRun := 0

	if failed.Len() == 0 {
		m.fire(evDrained)
	} else {
		m.fire(evFailuresPending)
	}

	for m.state != StateCompleted && m.state != StateExhausted {
		switch m.state {
		case StateAwaitingRetry:
			wait := r.Policy.Backoff(report.Rounds, r.Rand())
			r.logger.Info().
				Int("failed", failed.Len()).
				Int("round", report.Rounds+1).
				Str("max_rounds", roundsLabel(maxRounds)).
				Dur("backoff", wait).
				Msg("Retrying failed messages")
			if err := r.Sleep(ctx, wait); err != nil {
				report.Err = err
				m.fire(evCancelled)
				continue
			}
			m.fire(evBackoffElapsed)

		case StateFetching:
			snapshot := failed.Drain()
			report.Rounds++
			retryRoundsTotal.Inc()

			outcome, err := attempt(ctx, snapshot)
			for _, id := range outcome.Retry {
				failed.Add(id)
			}
			if outcome.Deferred >= len(snapshot) {
				deferredRun++
			} else {
				deferredRun = 0
			}

			switch {
			case err != nil && ctx.Err() != nil:
				report.Err = err
				m.fire(evCancelled)
			case err != nil:
				report.Err = err
				r.logger.Warn().Err(err).Int("round", report.Rounds).Msg("Batch retry failed permanently")
				m.fire(evAborted)
			case failed.Len() == 0:
				m.fire(evDrained)
			case maxRounds > 0 && report.Rounds >= maxRounds:
				m.fire(evBudgetSpent)
			case stagnated(len(snapshot), failed.Len(), outcome.Deferred):
				r.logger.Warn().
					Int("round", report.Rounds).
					Int("failed", failed.Len()).
					Msg("Retry did not reduce failures, stopping retries")
				m.fire(evStagnated)
			case maxRounds <= 0 && deferredRun >= r.maxDeferred():
				r.logger.Warn().
					Int("round", report.Rounds).
					Int("deferred_rounds", deferredRun).
					Int("failed", failed.Len()).
					Msg("No message answered in consecutive rounds, stopping retries")
				m.fire(evStagnated)
			default:
				m.fire(evFailuresPending)
			}
		}
	}

	report.Final = m.state
	report.Reason = m.reason
	report.Unresolved = failed.IDs()
	if len(report.Unresolved) > 0 {
		retryUnresolvedTotal.WithLabelValues(string(report.Reason)).Add(float64(len(report.Unresolved)))
		r.logger.Warn().
			Int("unresolved", len(report.Unresolved)).
			Int("rounds", report.Rounds).
			Str("reason", string(report.Reason)).
			Msg("Unable to fetch messages after retries")
	}
	return report
}

// stagnated reports whether the ids that received a per-item answer this
// round failed at least as often as they were attempted. Rounds in which no
// id got an answer (whole-call transient failures only) are not evidence of
// stagnation and fall under the round budget instead.
func stagnated(attempted, failedNow, deferred int) bool {
	answered := attempted - deferred
	if answered <= 0 {
		return false
	}
	return failedNow-deferred >= answered
}

func (r *RoundRunner) maxDeferred() int {
	if r.MaxDeferredRounds <= 0 {
		return DefaultMaxDeferredRounds
	}
	return r.MaxDeferredRounds
}

func roundsLabel(maxRounds int) string {
	if maxRounds <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", maxRounds)
}
