package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// Event names emitted by the orchestrator.
const (
	EventPhaseStarted   = "phase.started"
	EventPhaseCompleted = "phase.completed"
)

// Event is the payload delivered to subscribers. Result is set on
// phase.completed only.
type Event struct {
	Name   string
	Phase  state.Phase
	Result *state.PhaseResult
	Time   time.Time
}

// Handler receives emitted events.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Emitter is a mutex-guarded event registry. Handlers run synchronously in
// registration order; a panicking handler is recovered and logged, and never
// blocks the handlers after it.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]subscription
	nextID   int
	logger   *logging.Logger
}

// NewEmitter creates an empty emitter.
func NewEmitter(logger *logging.Logger) *Emitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Emitter{
		handlers: make(map[string][]subscription),
		logger:   logger.Named("events"),
	}
}

// Subscribe registers fn for the named event and returns an unsubscribe
// func. Unsubscribing twice is harmless.
func (e *Emitter) Subscribe(event string, fn Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], subscription{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[event]
		for i, s := range subs {
			if s.id == id {
				e.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// emit delivers ev to every handler registered for its name. The registry
// lock is released before handlers run, so a handler may subscribe or
// unsubscribe without deadlocking.
func (e *Emitter) emit(ctx context.Context, ev Event) {
	e.mu.Lock()
	subs := make([]subscription, len(e.handlers[ev.Name]))
	copy(subs, e.handlers[ev.Name])
	e.mu.Unlock()

	for _, s := range subs {
		e.dispatch(ctx, ev, s)
	}
}

func (e *Emitter) dispatch(ctx context.Context, ev Event, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "event handler panicked",
				zap.String("event", ev.Name),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}
