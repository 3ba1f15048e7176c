// Package invocation runs one tool at a time on behalf of a display: it
// submits a job, drives the poll loop and keeps the view state that a
// renderer reads. Only the newest submission may change that state.
package invocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/bus"
	"github.com/xkilldash9x/reconctl/internal/config"
	"github.com/xkilldash9x/reconctl/internal/identity"
	"github.com/xkilldash9x/reconctl/internal/normalize"
	"github.com/xkilldash9x/reconctl/internal/poller"
)

// Backend is the part of the backend client a controller drives.
type Backend interface {
	Submit(ctx context.Context, sub schemas.Submission, headers identity.Headers) (schemas.JobHandle, error)
	Status(ctx context.Context, kind schemas.ToolKind, handle schemas.JobHandle, headers identity.Headers) (schemas.Snapshot, error)
}

// IdentityResolver yields the caller for a submission.
type IdentityResolver interface {
	Resolve(ctx context.Context) (identity.Principal, error)
}

// Publisher receives lifecycle events. *bus.JobBus satisfies it.
type Publisher interface {
	Post(ctx context.Context, ev bus.Event) error
}

// LogEntry is one timestamped line of the invocation log.
type LogEntry struct {
	Time time.Time
	Text string
}

// View is the display state of a controller.
type View struct {
	Tool       schemas.ToolKind
	Generation poller.Generation
	Handle     schemas.JobHandle
	Running    bool
	State      poller.State
	Progress   float64
	Logs       []LogEntry
	Record     *schemas.Record
	LastError  error
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Resolver   IdentityResolver
	Backend    Backend
	Engine     *poller.Engine
	Normalizer *normalize.Normalizer
	Budget     config.PollBudget
	Bus        Publisher
	Logger     *zap.Logger
	Now        func() time.Time
}

// Controller owns the invocation state of one tool.
type Controller struct {
	tool       schemas.Tool
	budget     config.PollBudget
	resolver   IdentityResolver
	backend    Backend
	engine     *poller.Engine
	normalizer *normalize.Normalizer
	bus        Publisher
	logger     *zap.Logger
	now        func() time.Time

	guard poller.Guard

	mu   sync.Mutex
	view View
}

// NewController creates a Controller for kind.
func NewController(kind schemas.ToolKind, deps Deps) (*Controller, error) {
	tool, ok := schemas.LookupTool(kind)
	if !ok {
		return nil, fmt.Errorf("unknown tool kind %q", kind)
	}
	if deps.Resolver == nil || deps.Backend == nil {
		return nil, errors.New("invocation controller requires a resolver and a backend")
	}
	if err := deps.Budget.Validate(); err != nil {
		return nil, fmt.Errorf("poll budget for %s: %w", kind, err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Engine == nil {
		deps.Engine = poller.NewEngine(deps.Logger)
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{
		tool:       tool,
		budget:     deps.Budget,
		resolver:   deps.Resolver,
		backend:    deps.Backend,
		engine:     deps.Engine,
		normalizer: deps.Normalizer,
		bus:        deps.Bus,
		logger:     deps.Logger.Named("invocation").With(zap.String("tool", string(kind))),
		now:        deps.Now,
		view:       View{Tool: kind},
	}, nil
}

// Tool returns the catalog entry the controller runs.
func (c *Controller) Tool() schemas.Tool { return c.tool }

// View returns a copy of the current display state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.view
	v.Logs = append([]LogEntry(nil), c.view.Logs...)
	if c.view.Record != nil {
		rec := *c.view.Record
		v.Record = &rec
	}
	return v
}

// Run is one started invocation.
type Run struct {
	Generation poller.Generation
	Handle     schemas.JobHandle

	done    chan struct{}
	outcome poller.Outcome
	record  *schemas.Record
}

// Wait blocks until the poll loop ends and returns its outcome.
func (r *Run) Wait() poller.Outcome {
	<-r.done
	return r.outcome
}

// Done is closed when the poll loop ends.
func (r *Run) Done() <-chan struct{} { return r.done }

// Record returns the normalized result once the run has finished with one.
func (r *Run) Record() (schemas.Record, bool) {
	select {
	case <-r.done:
	default:
		return schemas.Record{}, false
	}
	if r.record == nil {
		return schemas.Record{}, false
	}
	return *r.record, true
}

// Start submits a job for parameter and polls it in the background. A
// submission failure is returned directly and leaves the view not running.
// Starting again supersedes any run still in flight.
func (c *Controller) Start(ctx context.Context, parameter string) (*Run, error) {
	sub := schemas.Submission{Kind: c.tool.Kind, Parameter: parameter}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	runCtx, gen := c.guard.Begin(ctx)
	startedAt := c.now()
	started := fmt.Sprintf(c.tool.Messages.Started, parameter)
	c.apply(gen, func(v *View) {
		*v = View{Tool: c.tool.Kind, Generation: gen, Running: true, State: poller.Running}
		c.appendLog(v, started)
	})
	c.publish(ctx, gen, schemas.JobHandle{}, bus.TypeStarted, bus.LogLine{Time: startedAt, Text: started})

	principal, err := c.resolver.Resolve(runCtx)
	if err != nil {
		return nil, c.abort(ctx, gen, err)
	}
	headers, err := identity.BuildHeaders(runCtx, principal)
	if err != nil {
		return nil, c.abort(ctx, gen, err)
	}
	handle, err := c.backend.Submit(runCtx, sub, headers)
	if err != nil {
		return nil, c.abort(ctx, gen, err)
	}

	c.guard.Bind(gen, handle)
	c.apply(gen, func(v *View) { v.Handle = handle })
	c.logger.Info("Job submitted", zap.String("task_id", handle.TaskID), zap.Stringer("identity", principal.Kind))

	run := &Run{Generation: gen, Handle: handle, done: make(chan struct{})}
	spec := poller.Spec{
		Kind:        c.tool.Kind,
		Handle:      handle,
		Interval:    c.budget.Interval,
		MaxAttempts: c.budget.MaxAttempts,
		Query: func(qctx context.Context, _ int) (schemas.Snapshot, error) {
			// Headers are rebuilt per query so every request carries a fresh token.
			h, err := identity.BuildHeaders(qctx, principal)
			if err != nil {
				return schemas.Snapshot{}, err
			}
			return c.backend.Status(qctx, c.tool.Kind, handle, h)
		},
	}

	go func() {
		defer close(run.done)
		defer c.guard.End(gen)

		outcome := c.engine.Run(runCtx, spec, func(tick poller.Tick) {
			if c.apply(gen, func(v *View) { v.Progress = tick.Progress }) {
				c.publish(ctx, gen, handle, bus.TypeProgress, bus.Progress{
					Attempt: tick.Attempt, MaxAttempts: tick.MaxAttempts, Percent: tick.Progress,
				})
			}
		})
		run.outcome = outcome
		run.record = c.finish(ctx, gen, normalize.LiveInput{
			Kind:       c.tool.Kind,
			Handle:     handle,
			Parameter:  parameter,
			Snapshot:   outcome.Snapshot,
			StartedAt:  startedAt,
			FinishedAt: c.now(),
		}, outcome)
	}()
	return run, nil
}

// abort records a failure that happened before polling began.
func (c *Controller) abort(ctx context.Context, gen poller.Generation, err error) error {
	line := "Error: " + schemas.UserMessage(err)
	if c.apply(gen, func(v *View) {
		v.Running = false
		v.State = poller.Errored
		v.LastError = err
		c.appendLog(v, line)
	}) {
		c.publish(ctx, gen, schemas.JobHandle{}, bus.TypeLog, bus.LogLine{Time: c.now(), Text: line})
		c.publish(ctx, gen, schemas.JobHandle{}, bus.TypeError, bus.Failure{Reason: schemas.UserMessage(err), Err: err})
	}
	c.guard.End(gen)
	return err
}

// finish applies the terminal outcome and returns the normalized record, if
// the job produced one.
func (c *Controller) finish(ctx context.Context, gen poller.Generation, in normalize.LiveInput, outcome poller.Outcome) *schemas.Record {
	var (
		record  *schemas.Record
		line    string
		evType  bus.EventType
		payload interface{}
	)

	switch outcome.State {
	case poller.Succeeded:
		rec := c.normalizer.Live(in)
		record = &rec
		line = c.tool.Messages.Completed
		if c.tool.Kind == schemas.ToolKatana && rec.Result.Crawl != nil {
			line = fmt.Sprintf(c.tool.Messages.Completed, rec.Result.Crawl.TotalFound)
		}
		evType, payload = bus.TypeCompleted, bus.Completion{Record: rec}
	case poller.Failed:
		reason := schemas.UserMessage(outcome.Err)
		line = fmt.Sprintf(c.tool.Messages.Failed, reason)
		failure := bus.Failure{Reason: reason, Err: outcome.Err}
		if c.tool.Kind == schemas.ToolCommand && outcome.Snapshot.HasResult() {
			rec := c.normalizer.Live(in)
			record = &rec
			failure.Record = &rec
		}
		evType, payload = bus.TypeFailed, failure
	case poller.TimedOut:
		line = c.tool.Messages.Timeout
		evType, payload = bus.TypeTimedOut, bus.Failure{Reason: line, Err: outcome.Err}
	case poller.Cancelled:
		line = "Cancelled"
		evType, payload = bus.TypeError, bus.Failure{Reason: line, Err: outcome.Err}
	default:
		line = "Polling error: " + schemas.UserMessage(outcome.Err)
		evType, payload = bus.TypeError, bus.Failure{Reason: schemas.UserMessage(outcome.Err), Err: outcome.Err}
	}

	applied := c.apply(gen, func(v *View) {
		v.Running = false
		v.State = outcome.State
		if outcome.Progress > v.Progress {
			v.Progress = outcome.Progress
		}
		v.Record = record
		v.LastError = outcome.Err
		c.appendLog(v, line)
	})
	if !applied {
		c.logger.Debug("Discarding superseded outcome", zap.Uint64("generation", uint64(gen)), zap.Stringer("state", outcome.State))
		return record
	}
	c.publish(ctx, gen, in.Handle, bus.TypeLog, bus.LogLine{Time: c.now(), Text: line})
	c.publish(ctx, gen, in.Handle, evType, payload)
	return record
}

// apply mutates the view only while gen is the newest generation.
func (c *Controller) apply(gen poller.Generation, fn func(v *View)) bool {
	return c.guard.Apply(gen, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		fn(&c.view)
	})
}

func (c *Controller) appendLog(v *View, text string) {
	v.Logs = append(v.Logs, LogEntry{Time: c.now(), Text: text})
	c.logger.Info(text, zap.Uint64("generation", uint64(v.Generation)))
}

func (c *Controller) publish(ctx context.Context, gen poller.Generation, handle schemas.JobHandle, typ bus.EventType, payload interface{}) {
	if c.bus == nil {
		return
	}
	ev := bus.Event{Type: typ, Generation: uint64(gen), Tool: c.tool.Kind, TaskID: handle.TaskID, Payload: payload}
	if err := c.bus.Post(context.WithoutCancel(ctx), ev); err != nil {
		c.logger.Debug("Event not delivered", zap.String("type", string(typ)), zap.Error(err))
	}
}
