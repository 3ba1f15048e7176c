// Package bus fans job lifecycle events out to any number of subscribers.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// EventType names a job lifecycle event.
type EventType string

const (
	TypeStarted   EventType = "job.started"
	TypeProgress  EventType = "job.progress"
	TypeLog       EventType = "job.log"
	TypeCompleted EventType = "job.completed"
	TypeFailed    EventType = "job.failed"
	TypeTimedOut  EventType = "job.timed_out"
	TypeError     EventType = "job.error"
)

// ErrClosed is returned by Post after Shutdown.
var ErrClosed = errors.New("job bus is shut down")

// Event is the envelope delivered to subscribers.
type Event struct {
	ID         string
	Timestamp  time.Time
	Type       EventType
	Generation uint64
	Tool       schemas.ToolKind
	TaskID     string
	Payload    interface{}
}

// Progress is the payload of TypeProgress.
type Progress struct {
	Attempt     int
	MaxAttempts int
	Percent     float64
}

// LogLine is the payload of TypeLog.
type LogLine struct {
	Time time.Time
	Text string
}

// Completion is the payload of TypeCompleted.
type Completion struct {
	Record schemas.Record
}

// Failure is the payload of TypeFailed, TypeTimedOut and TypeError.
type Failure struct {
	Reason string
	Err    error
	// Record is set when the backend returned a result alongside the failure.
	Record *schemas.Record
}

// JobBus is an in-process pub/sub for job events. Every delivered event must
// be acknowledged with Acknowledge.
type JobBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	// wildcard subscribers receive every type.
	wildcard []chan Event
	// retired channels were unsubscribed but may still hold events.
	retired    []chan Event
	bufferSize int

	inFlight    sync.WaitGroup
	activePosts sync.WaitGroup

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	closedMu     sync.Mutex
	closed       bool
}

// New creates a JobBus whose subscriber channels hold bufferSize events.
func New(logger *zap.Logger, bufferSize int) *JobBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &JobBus{
		logger:      logger.Named("job_bus"),
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		shutdownCh:  make(chan struct{}),
	}
}

// Post stamps ev with an id and time and delivers it to every matching
// subscriber. It blocks while a subscriber buffer is full.
func (b *JobBus) Post(ctx context.Context, ev Event) error {
	b.closedMu.Lock()
	if b.closed {
		b.closedMu.Unlock()
		return ErrClosed
	}
	b.activePosts.Add(1)
	b.closedMu.Unlock()
	defer b.activePosts.Done()

	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()

	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subscribers[ev.Type])+len(b.wildcard))
	seen := make(map[chan Event]struct{}, cap(targets))
	for _, group := range [][]chan Event{b.subscribers[ev.Type], b.wildcard} {
		for _, ch := range group {
			if _, dup := seen[ch]; dup {
				continue
			}
			seen[ch] = struct{}{}
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}
	b.logger.Debug("Posting event", zap.String("type", string(ev.Type)), zap.String("id", ev.ID), zap.Uint64("generation", ev.Generation))

	for _, ch := range targets {
		b.inFlight.Add(1)
		select {
		case ch <- ev:
		case <-ctx.Done():
			b.inFlight.Done()
			return ctx.Err()
		case <-b.shutdownCh:
			b.inFlight.Done()
			return ErrClosed
		}
	}
	return nil
}

// Subscribe returns a channel of events of the given types, or of every type
// when none are given, and a function that removes the subscription. A
// subscriber reads until the channel closes or unsubscribes.
func (b *JobBus) Subscribe(types ...EventType) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed() {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, b.bufferSize)
	subscribed := append([]EventType(nil), types...)
	if len(subscribed) == 0 {
		b.wildcard = append(b.wildcard, ch)
	}
	for _, t := range subscribed {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if len(subscribed) == 0 {
			b.wildcard = without(b.wildcard, ch)
		}
		for _, t := range subscribed {
			b.subscribers[t] = without(b.subscribers[t], ch)
			if len(b.subscribers[t]) == 0 {
				delete(b.subscribers, t)
			}
		}
		b.retired = append(b.retired, ch)
	}
	return ch, unsubscribe
}

// Acknowledge marks a received event as processed.
func (b *JobBus) Acknowledge(Event) {
	b.inFlight.Done()
}

// Shutdown rejects new posts and closes every subscriber channel. Active
// subscribers keep reading until their channel closes; events left in
// unsubscribed channels are released here. It returns once every delivered
// event is acknowledged.
func (b *JobBus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.closedMu.Lock()
		b.closed = true
		b.closedMu.Unlock()

		close(b.shutdownCh)
		b.activePosts.Wait()

		b.mu.Lock()
		active := make(map[chan Event]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				active[ch] = struct{}{}
			}
		}
		for _, ch := range b.wildcard {
			active[ch] = struct{}{}
		}
		retired := make(map[chan Event]struct{})
		for _, ch := range b.retired {
			if _, ok := active[ch]; !ok {
				retired[ch] = struct{}{}
			}
		}
		b.subscribers = make(map[EventType][]chan Event)
		b.wildcard = nil
		b.retired = nil
		b.mu.Unlock()

		for ch := range active {
			close(ch)
		}
		drained := 0
		for ch := range retired {
			close(ch)
			for range ch {
				drained++
				b.inFlight.Done()
			}
		}
		if drained > 0 {
			b.logger.Debug("Released events of unsubscribed channels", zap.Int("count", drained))
		}
		b.inFlight.Wait()
		b.logger.Debug("Job bus shut down")
	})
}

func (b *JobBus) isClosed() bool {
	b.closedMu.Lock()
	defer b.closedMu.Unlock()
	return b.closed
}

func without(subs []chan Event, ch chan Event) []chan Event {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
