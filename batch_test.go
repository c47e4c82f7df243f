package akasha

import (
	"context"
	"testing"

	"github.com/akasha-ai/akasha/events"
)

func TestLearnBatchAggregates(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(
		`{"entities":[{"label":"Person","properties":{"name":"Alice"}}],"relationships":[]}`,
		`{"entities":[{"label":"Person","properties":{"name":"Bob"}}],"relationships":[]}`,
	)

	res, err := a.LearnBatch(context.Background(), Texts(
		"Alice appears here.",
		"Bob appears there.",
	), nil)
	if err != nil {
		t.Fatalf("LearnBatch: %v", err)
	}
	s := res.Summary
	if s.Total != 2 || s.Succeeded != 2 || s.Failed != 0 {
		t.Errorf("summary = %+v", s)
	}
	if s.TotalDocumentsCreated != 2 || s.TotalEntitiesCreated != 2 {
		t.Errorf("creation counts = %+v", s)
	}
	if len(res.Results) != 2 || len(res.Errors) != 0 {
		t.Errorf("results = %d, errors = %d", len(res.Results), len(res.Errors))
	}
}

func TestLearnBatchContinuesOnFailure(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(
		`{"entities":[{"label":"Person","properties":{"name":"Alice"}}],"relationships":[]}`,
		`{"entities":[{"label":"Person","properties":{"name":"Bob"}}],"relationships":[]}`,
	)

	rec := &recorder{}
	subscribeAll(a, rec, events.BatchProgress, events.BatchCompleted)

	res, err := a.LearnBatch(context.Background(), Texts(
		"Alice appears here.",
		"", // rejected before any provider call
		"Bob appears there.",
	), nil)
	if err != nil {
		t.Fatalf("LearnBatch: %v", err)
	}

	s := res.Summary
	if s.Total != 3 || s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if len(res.Errors) != 1 || res.Errors[0].Index != 1 {
		t.Fatalf("errors = %+v, want one at index 1", res.Errors)
	}

	a.Events().Flush()
	got := rec.snapshot()
	progress, completed := 0, 0
	for _, typ := range got {
		switch typ {
		case events.BatchProgress:
			progress++
		case events.BatchCompleted:
			completed++
		}
	}
	if progress != 3 || completed != 1 {
		t.Errorf("progress = %d, completed = %d", progress, completed)
	}
	if got[len(got)-1] != events.BatchCompleted {
		t.Errorf("last event = %s, want batch.completed", got[len(got)-1])
	}
}

func TestLearnBatchDocumentReuse(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(
		`{"entities":[],"relationships":[]}`,
		`{"entities":[],"relationships":[]}`,
	)

	res, err := a.LearnBatch(context.Background(), Texts(
		"the same text twice",
		"the same text twice",
	), nil)
	if err != nil {
		t.Fatalf("LearnBatch: %v", err)
	}
	if res.Summary.TotalDocumentsCreated != 1 || res.Summary.TotalDocumentsReused != 1 {
		t.Errorf("summary = %+v, want 1 created / 1 reused", res.Summary)
	}
}

func TestLearnBatchPerItemContext(t *testing.T) {
	a, mock := newTestEngine(t)
	mock.Respond(
		`{"entities":[],"relationships":[]}`,
		`{"entities":[],"relationships":[]}`,
	)

	res, err := a.LearnBatch(context.Background(), []BatchItem{
		{Text: "first text", ContextName: "ctx-a"},
		{Text: "second text", ContextName: "ctx-b"},
	}, nil)
	if err != nil {
		t.Fatalf("LearnBatch: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d", len(res.Results))
	}
	if res.Results[0].Context.Name != "ctx-a" || res.Results[1].Context.Name != "ctx-b" {
		t.Errorf("contexts = %q, %q", res.Results[0].Context.Name, res.Results[1].Context.Name)
	}
	if res.Results[0].Context.ID == res.Results[1].Context.ID {
		t.Error("distinct context names resolved to the same id")
	}
}
