package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEmitter(t *testing.T) *Emitter {
	t.Helper()
	e := NewEmitter()
	t.Cleanup(e.Close)
	return e
}

func TestEmitDeliversInOrder(t *testing.T) {
	e := newTestEmitter(t)

	var mu sync.Mutex
	var got []string
	e.On(EntityCreated, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Text)
		mu.Unlock()
	})

	for _, text := range []string{"a", "b", "c"} {
		e.Emit(Event{Type: EntityCreated, Text: text})
	}
	e.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("delivery order = %v", got)
	}
}

func TestEmitDoesNotBlockOnSlowHandler(t *testing.T) {
	e := newTestEmitter(t)

	var ran atomic.Int32
	e.On(EntityCreated, func(Event) {
		time.Sleep(200 * time.Millisecond)
		ran.Add(1)
	})

	start := time.Now()
	e.Emit(Event{Type: EntityCreated})
	emitElapsed := time.Since(start)

	if emitElapsed > 50*time.Millisecond {
		t.Errorf("Emit blocked for %v with a slow handler", emitElapsed)
	}

	e.Flush()
	if ran.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", ran.Load())
	}
	if total := time.Since(start); total < 200*time.Millisecond {
		t.Errorf("Flush returned after %v, before the handler finished", total)
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	e := newTestEmitter(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		e.On(LearnStarted, func(Event) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	e.Emit(Event{Type: LearnStarted})
	e.Flush()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("handler order = %v", got)
		}
	}
}

func TestOnceRemovedBeforeInvocation(t *testing.T) {
	e := newTestEmitter(t)

	var calls atomic.Int32
	e.Once(QueryStarted, func(Event) {
		calls.Add(1)
		// Emitting from inside the handler must not re-trigger it.
		e.Emit(Event{Type: QueryStarted})
	})

	e.Emit(Event{Type: QueryStarted})
	e.Flush()
	if got := calls.Load(); got != 1 {
		t.Errorf("once handler ran %d times", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	e := newTestEmitter(t)

	var calls atomic.Int32
	sub := e.On(EntityDeleted, func(Event) { calls.Add(1) })

	e.Emit(Event{Type: EntityDeleted})
	e.Flush()
	sub.Cancel()
	sub.Cancel() // idempotent
	e.Emit(Event{Type: EntityDeleted})
	e.Flush()

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	e := newTestEmitter(t)

	var calls atomic.Int32
	e.On(LearnFailed, func(Event) { panic("handler bug") })
	e.On(LearnFailed, func(Event) { calls.Add(1) })

	e.Emit(Event{Type: LearnFailed})
	e.Flush()
	if got := calls.Load(); got != 1 {
		t.Errorf("second handler did not run after panic: %d", got)
	}
}

func TestTypesAreIndependent(t *testing.T) {
	e := newTestEmitter(t)

	var entity, doc atomic.Int32
	e.On(EntityCreated, func(Event) { entity.Add(1) })
	e.On(DocumentCreated, func(Event) { doc.Add(1) })

	e.Emit(Event{Type: EntityCreated})
	e.Emit(Event{Type: EntityCreated})
	e.Emit(Event{Type: DocumentCreated})
	e.Flush()

	if entity.Load() != 2 || doc.Load() != 1 {
		t.Errorf("entity = %d, doc = %d", entity.Load(), doc.Load())
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	e := newTestEmitter(t)

	var mu sync.Mutex
	var ts string
	e.On(BatchCompleted, func(ev Event) {
		mu.Lock()
		ts = ev.Timestamp
		mu.Unlock()
	})
	e.Emit(Event{Type: BatchCompleted})
	e.Flush()

	mu.Lock()
	defer mu.Unlock()
	if ts == "" {
		t.Error("timestamp not stamped")
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	e := NewEmitter()

	var calls atomic.Int32
	e.On(QueryCompleted, func(Event) { calls.Add(1) })
	e.Emit(Event{Type: QueryCompleted})
	e.Close()
	e.Emit(Event{Type: QueryCompleted})

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
