package akasha

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akasha-ai/akasha/events"
	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/llm"
)

const extractionAliceAcme = `{
	"entities": [
		{"label": "Person", "properties": {"name": "Alice", "title": "engineer"}},
		{"label": "Organization", "properties": {"name": "Acme"}}
	],
	"relationships": [
		{"type": "WORKS_AT", "from": "Alice", "to": "Acme"}
	]
}`

func newTestEngine(t *testing.T) (*Akasha, *llm.MockProvider) {
	t.Helper()
	mock := llm.NewMockProvider("")
	a, err := New(Config{
		Database: DatabaseConfig{Type: "memory"},
		Providers: ProvidersConfig{
			Embedding: llm.Config{Type: "mock"},
			LLM:       llm.Config{Type: "mock"},
		},
		Scope: &graphdb.Scope{ID: "s-test", Type: "project", Name: "Test"},
	}, WithLLMProvider(mock), WithEmbedder(llm.NewMockEmbedder(8)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, mock
}

// recorder collects delivered events for ordering assertions.
type recorder struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *recorder) record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
}

func (r *recorder) snapshot() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.types))
	copy(out, r.types)
	return out
}

func subscribeAll(a *Akasha, r *recorder, types ...events.Type) {
	for _, t := range types {
		a.Events().On(t, r.record)
	}
}

func TestLearnCreatesGraph(t *testing.T) {
	a, mock := newTestEngine(t)
	ctx := context.Background()
	mock.Respond(extractionAliceAcme)

	res, err := a.Learn(ctx, "Alice is an engineer at Acme.", &LearnOptions{ContextName: "onboarding"})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}

	if res.Created.Document != 1 || res.Created.Entities != 2 || res.Created.Relationships != 1 {
		t.Errorf("Created = %+v, want {1 2 1}", res.Created)
	}
	if res.Context.Name != "onboarding" || res.Context.ID == "" {
		t.Errorf("context = %+v", res.Context)
	}
	if len(res.Entities) != 2 || len(res.Relationships) != 1 {
		t.Fatalf("got %d entities, %d relationships", len(res.Entities), len(res.Relationships))
	}

	for _, e := range res.Entities {
		if _, ok := e.Properties[graphdb.PropEmbedding]; ok {
			t.Errorf("embedding leaked for %s", e.Name())
		}
		if got := e.ContextIDs(); len(got) != 1 || got[0] != res.Context.ID {
			t.Errorf("contextIds for %s = %v", e.Name(), got)
		}
	}

	// Every entity must be linked to the document.
	linked, err := a.db.EntitiesFromDocuments(ctx, []string{res.Document.ID}, "s-test")
	if err != nil {
		t.Fatalf("EntitiesFromDocuments: %v", err)
	}
	if len(linked) != 2 {
		t.Errorf("linked entities = %d, want 2", len(linked))
	}
}

func TestLearnEventOrdering(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(extractionAliceAcme)

	rec := &recorder{}
	subscribeAll(a, rec,
		events.LearnStarted, events.DocumentCreated,
		events.ExtractionStarted, events.ExtractionCompleted,
		events.EntityCreated, events.RelationshipCreated,
		events.LearnCompleted)

	if _, err := a.Learn(context.Background(), "Alice works at Acme.", nil); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	a.Events().Flush()

	want := []events.Type{
		events.LearnStarted,
		events.DocumentCreated,
		events.ExtractionStarted,
		events.ExtractionCompleted,
		events.EntityCreated,
		events.EntityCreated,
		events.RelationshipCreated,
		events.LearnCompleted,
	}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLearnDocumentDedup(t *testing.T) {
	a, mock := newTestEngine(t)
	ctx := context.Background()
	mock.Respond(extractionAliceAcme, extractionAliceAcme)

	text := "Alice is an engineer at Acme."
	first, err := a.Learn(ctx, text, &LearnOptions{ContextName: "run-1"})
	if err != nil {
		t.Fatalf("first Learn: %v", err)
	}
	second, err := a.Learn(ctx, text, &LearnOptions{ContextName: "run-2"})
	if err != nil {
		t.Fatalf("second Learn: %v", err)
	}

	if second.Document.ID != first.Document.ID {
		t.Errorf("document recreated: %s vs %s", second.Document.ID, first.Document.ID)
	}
	if second.Created.Document != 0 || second.Created.Entities != 0 || second.Created.Relationships != 0 {
		t.Errorf("second Created = %+v, want all zero", second.Created)
	}

	got := second.Document.ContextIDs()
	wantSet := map[string]bool{first.Context.ID: true, second.Context.ID: true}
	if len(got) != 2 || !wantSet[got[0]] || !wantSet[got[1]] {
		t.Errorf("document contexts = %v, want both run contexts", got)
	}
}

func TestLearnEntityDedupAcrossCalls(t *testing.T) {
	a, mock := newTestEngine(t)
	ctx := context.Background()
	mock.Respond(
		`{"entities":[{"label":"Person","properties":{"name":"Alice"}}],"relationships":[]}`,
		`{"entities":[{"label":"Person","properties":{"name":"ALICE"}}],"relationships":[]}`,
	)

	first, err := a.Learn(ctx, "Alice appears here.", &LearnOptions{ContextName: "a"})
	if err != nil {
		t.Fatalf("first Learn: %v", err)
	}
	second, err := a.Learn(ctx, "ALICE appears again elsewhere.", &LearnOptions{ContextName: "b"})
	if err != nil {
		t.Fatalf("second Learn: %v", err)
	}

	if second.Created.Entities != 0 {
		t.Errorf("second call created %d entities, want 0", second.Created.Entities)
	}
	if len(second.Entities) != 1 || second.Entities[0].ID != first.Entities[0].ID {
		t.Fatalf("entity not reused: %+v", second.Entities)
	}
	if got := second.Entities[0].ContextIDs(); len(got) != 1 {
		// Context accumulation happens in storage; re-read to observe it.
		t.Logf("returned entity contexts = %v", got)
	}
	stored, err := a.GetEntity(ctx, first.Entities[0].ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got := stored.ContextIDs(); len(got) != 2 {
		t.Errorf("stored contexts = %v, want 2", got)
	}

	// Both documents link to the single shared entity.
	for _, docID := range []string{first.Document.ID, second.Document.ID} {
		linked, err := a.db.EntitiesFromDocuments(ctx, []string{docID}, "s-test")
		if err != nil {
			t.Fatalf("EntitiesFromDocuments(%s): %v", docID, err)
		}
		if len(linked) != 1 || linked[0].ID != first.Entities[0].ID {
			t.Errorf("document %s links = %+v", docID, linked)
		}
	}
}

func TestLearnStableContextID(t *testing.T) {
	a, mock := newTestEngine(t)
	ctx := context.Background()
	mock.Respond(
		`{"entities":[],"relationships":[]}`,
		`{"entities":[],"relationships":[]}`,
	)

	first, err := a.Learn(ctx, "one text", &LearnOptions{ContextName: "meeting-notes"})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	second, err := a.Learn(ctx, "another text", &LearnOptions{ContextName: "meeting-notes"})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if first.Context.ID != second.Context.ID {
		t.Errorf("same context name resolved to %s and %s", first.Context.ID, second.Context.ID)
	}
}

func TestLearnValidation(t *testing.T) {
	a, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		text string
		opts *LearnOptions
	}{
		{"empty text", "   ", nil},
		{"bad validFrom", "x", &LearnOptions{ValidFrom: "not-a-time"}},
		{"validTo before validFrom", "x", &LearnOptions{
			ValidFrom: "2025-01-02T00:00:00Z", ValidTo: "2025-01-01T00:00:00Z",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Learn(ctx, tc.text, tc.opts); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestLearnFailureEmitsLearnFailed(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Fail(errors.New("provider down"))

	rec := &recorder{}
	subscribeAll(a, rec, events.LearnFailed, events.LearnCompleted)

	if _, err := a.Learn(context.Background(), "some text", nil); !errors.Is(err, ErrExtraction) {
		t.Fatalf("err = %v, want ErrExtraction", err)
	}
	a.Events().Flush()

	got := rec.snapshot()
	if len(got) != 1 || got[0] != events.LearnFailed {
		t.Errorf("events = %v, want [learn.failed]", got)
	}
}

func TestLearnNotDelayedBySlowHandler(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(extractionAliceAcme)

	const handlerSleep = 200 * time.Millisecond
	var ran atomic.Int32
	a.Events().On(events.EntityCreated, func(events.Event) {
		time.Sleep(handlerSleep)
		ran.Add(1)
	})

	start := time.Now()
	if _, err := a.Learn(context.Background(), "Alice is an engineer at Acme.", nil); err != nil {
		t.Fatalf("Learn: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed >= handlerSleep {
		t.Errorf("Learn took %v, delayed by the sleeping handler", elapsed)
	}

	a.Events().Flush()
	if ran.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", ran.Load())
	}
}

func TestLearnTemporalMetadata(t *testing.T) {
	a, mock := newTestEngine(t)
	ctx := context.Background()
	mock.Respond(`{"entities":[{"label":"Person","properties":{"name":"Bob"}}],"relationships":[]}`)

	res, err := a.Learn(ctx, "Bob held the role for a year.", &LearnOptions{
		ValidFrom: "2024-01-01T00:00:00Z",
		ValidTo:   "2025-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	e := res.Entities[0]
	if e.Properties[graphdb.PropValidFrom] != "2024-01-01T00:00:00.000Z" {
		t.Errorf("validFrom = %v", e.Properties[graphdb.PropValidFrom])
	}
	if e.Properties[graphdb.PropValidTo] != "2025-01-01T00:00:00.000Z" {
		t.Errorf("validTo = %v", e.Properties[graphdb.PropValidTo])
	}
	if e.Properties[graphdb.PropRecordedAt] == "" {
		t.Error("recordedAt missing")
	}
}

func TestLearnDropsUnresolvedRelationships(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(`{
		"entities": [{"label": "Person", "properties": {"name": "Alice"}}],
		"relationships": [{"type": "WORKS_AT", "from": "Alice", "to": "Ghost Corp"}]
	}`)

	res, err := a.Learn(context.Background(), "Alice works somewhere unknown.", nil)
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if res.Created.Relationships != 0 {
		t.Errorf("created %d relationships, want 0", res.Created.Relationships)
	}
}

func TestLearnFile(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(extractionAliceAcme)

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("Alice is an engineer at Acme."), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := a.LearnFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LearnFile: %v", err)
	}
	if res.Created.Document != 1 {
		t.Errorf("Created.Document = %d, want 1", res.Created.Document)
	}

	if _, err := a.LearnFile(context.Background(), "unsupported.zip", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("unsupported extension err = %v, want ErrValidation", err)
	}
}
