package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/akasha-ai/akasha/graphdb"
)

// Subscription identifies a registered handler so it can be removed. Go
// functions are not comparable, so removal is handle-based.
type Subscription struct {
	emitter *Emitter
	typ     Type
	id      uint64
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.emitter == nil {
		return
	}
	s.emitter.remove(s.typ, s.id)
}

type registration struct {
	id      uint64
	handler Handler
	once    bool
}

// Emitter is a typed pub/sub with non-blocking emission. Events are queued
// and drained by a single dispatch goroutine, which preserves emission order
// globally and registration order within a type.
type Emitter struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Type][]registration
	queue    []Event
	wake     chan struct{}
	closed   bool
	idle     *sync.Cond
	busy     bool
}

// NewEmitter creates an emitter and starts its dispatch goroutine.
func NewEmitter() *Emitter {
	e := &Emitter{
		handlers: make(map[Type][]registration),
		wake:     make(chan struct{}, 1),
	}
	e.idle = sync.NewCond(&e.mu)
	go e.dispatch()
	return e
}

// On registers a handler for a type. Handlers for one type run in
// registration order.
func (e *Emitter) On(t Type, h Handler) *Subscription {
	return e.register(t, h, false)
}

// Once registers a handler that is removed before its first invocation.
func (e *Emitter) Once(t Type, h Handler) *Subscription {
	return e.register(t, h, true)
}

func (e *Emitter) register(t Type, h Handler, once bool) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers[t] = append(e.handlers[t], registration{id: id, handler: h, once: once})
	return &Subscription{emitter: e, typ: t, id: id}
}

func (e *Emitter) remove(t Type, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.handlers[t]
	for i, r := range regs {
		if r.id == id {
			e.handlers[t] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit schedules delivery and returns immediately. Events emitted after Close
// are dropped.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = graphdb.Now()
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.busy = true
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Close stops dispatch after the queue drains. Pending events are delivered.
func (e *Emitter) Close() {
	e.Flush()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every event emitted so far has been handled. Intended
// for tests and shutdown.
func (e *Emitter) Flush() {
	e.mu.Lock()
	for e.busy || len(e.queue) > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()
}

func (e *Emitter) dispatch() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 {
			e.busy = false
			e.idle.Broadcast()
			if e.closed {
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			<-e.wake
			e.mu.Lock()
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]

		// Snapshot the handler list and strip once-handlers before invocation.
		regs := e.handlers[ev.Type]
		snapshot := make([]registration, len(regs))
		copy(snapshot, regs)
		kept := regs[:0]
		for _, r := range regs {
			if !r.once {
				kept = append(kept, r)
			}
		}
		e.handlers[ev.Type] = kept
		e.mu.Unlock()

		for _, r := range snapshot {
			e.invoke(r.handler, ev)
		}
	}
}

func (e *Emitter) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: handler panic",
				"type", string(ev.Type),
				"error", fmt.Sprintf("%v", r))
		}
	}()
	h(ev)
}
