// Package poller drives a submitted job to a terminal state with a fixed
// interval and a bounded number of status queries.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// State is the lifecycle state of one poll loop.
type State int

const (
	Running State = iota
	Succeeded
	Failed
	TimedOut
	// Errored means a status query or the identity layer failed mid-loop.
	Errored
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the loop has stopped.
func (s State) Terminal() bool { return s != Running }

// QueryFunc performs status query number attempt (1-based).
type QueryFunc func(ctx context.Context, attempt int) (schemas.Snapshot, error)

// Spec describes one poll loop.
type Spec struct {
	Kind        schemas.ToolKind
	Handle      schemas.JobHandle
	Interval    time.Duration
	MaxAttempts int
	Query       QueryFunc
}

func (s Spec) validate() error {
	if s.Query == nil {
		return errors.New("poll spec has no query function")
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", s.MaxAttempts)
	}
	if s.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", s.Interval)
	}
	return nil
}

// Tick is reported after every status query.
type Tick struct {
	Attempt     int
	MaxAttempts int
	Progress    float64
	State       State
	Snapshot    schemas.Snapshot
}

// Outcome is the terminal result of Run.
type Outcome struct {
	State    State
	Attempts int
	Progress float64
	// Snapshot is the last snapshot received; on success it holds the result.
	Snapshot schemas.Snapshot
	Err      error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// TimerSleep is the default Sleeper.
func TimerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Engine runs poll loops. It is stateless and safe for concurrent use.
type Engine struct {
	sleep  Sleeper
	logger *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSleeper replaces the wait between attempts.
func WithSleeper(s Sleeper) EngineOption {
	return func(e *Engine) { e.sleep = s }
}

// NewEngine creates an Engine.
func NewEngine(logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{sleep: TimerSleep, logger: logger.Named("poller")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run queries the job until it reports SUCCESS or FAILURE, the attempt
// budget is spent, a query fails, or ctx is cancelled. Attempt n waits
// exactly one Interval before attempt n+1; there is no wait after the last
// attempt. onTick may be nil.
func (e *Engine) Run(ctx context.Context, spec Spec, onTick func(Tick)) Outcome {
	if err := spec.validate(); err != nil {
		return Outcome{State: Errored, Err: err}
	}
	if onTick == nil {
		onTick = func(Tick) {}
	}
	log := e.logger.With(zap.String("tool", string(spec.Kind)), zap.String("task_id", spec.Handle.TaskID))

	var (
		progress float64
		last     schemas.Snapshot
	)
	for attempt := 1; attempt <= spec.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{State: Cancelled, Attempts: attempt - 1, Progress: progress, Snapshot: last, Err: err}
		}

		snap, err := spec.Query(ctx, attempt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{State: Cancelled, Attempts: attempt, Progress: progress, Snapshot: last, Err: ctxErr}
			}
			if _, typed := schemas.KindOf(err); !typed {
				err = schemas.NewJobError(schemas.ErrPollTransport, "poll", err)
			}
			log.Warn("Status query failed", zap.Int("attempt", attempt), zap.Error(err))
			return Outcome{State: Errored, Attempts: attempt, Progress: progress, Snapshot: last, Err: err}
		}
		last = snap

		if p := float64(attempt) / float64(spec.MaxAttempts) * 100; p > progress {
			progress = p
		}

		switch snap.Status {
		case schemas.StatusSuccess:
			progress = 100
			onTick(Tick{Attempt: attempt, MaxAttempts: spec.MaxAttempts, Progress: progress, State: Succeeded, Snapshot: snap})
			log.Debug("Job succeeded", zap.Int("attempts", attempt))
			return Outcome{State: Succeeded, Attempts: attempt, Progress: progress, Snapshot: snap}

		case schemas.StatusFailure:
			onTick(Tick{Attempt: attempt, MaxAttempts: spec.MaxAttempts, Progress: progress, State: Failed, Snapshot: snap})
			reason := snap.FailureReason()
			log.Debug("Job failed", zap.Int("attempts", attempt), zap.String("reason", reason))
			return Outcome{
				State: Failed, Attempts: attempt, Progress: progress, Snapshot: snap,
				Err: &schemas.JobError{Kind: schemas.ErrBackendFailure, Op: "poll", Message: reason},
			}
		}

		if attempt == spec.MaxAttempts {
			onTick(Tick{Attempt: attempt, MaxAttempts: spec.MaxAttempts, Progress: progress, State: TimedOut, Snapshot: snap})
			log.Debug("Attempt budget exhausted", zap.Int("attempts", attempt))
			return Outcome{
				State: TimedOut, Attempts: attempt, Progress: progress, Snapshot: snap,
				Err: &schemas.JobError{Kind: schemas.ErrTimeout, Op: "poll", Message: fmt.Sprintf("no terminal status after %d attempts", attempt)},
			}
		}

		onTick(Tick{Attempt: attempt, MaxAttempts: spec.MaxAttempts, Progress: progress, State: Running, Snapshot: snap})

		if err := e.sleep(ctx, spec.Interval); err != nil {
			return Outcome{State: Cancelled, Attempts: attempt, Progress: progress, Snapshot: last, Err: err}
		}
	}
	// Unreachable: the loop always returns on the last attempt.
	return Outcome{State: TimedOut, Attempts: spec.MaxAttempts, Progress: progress, Snapshot: last}
}
