package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/akasha-ai/akasha/llm"
)

func newTestExtractor(t *testing.T, responses ...string) (*Extractor, *llm.MockProvider) {
	t.Helper()
	mock := llm.NewMockProvider("")
	mock.Respond(responses...)
	return NewExtractor(mock, DefaultTemplate(), nil), mock
}

func TestExtractPlainJSON(t *testing.T) {
	x, _ := newTestExtractor(t, `{
		"entities": [
			{"label": "Person", "properties": {"name": "Marie Curie"}},
			{"label": "Organization", "properties": {"name": "University of Paris"}}
		],
		"relationships": [
			{"type": "WORKS_AT", "from": "Marie Curie", "to": "University of Paris", "properties": {}}
		]
	}`)

	res, err := x.Extract(context.Background(), "Marie Curie worked at the University of Paris.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(res.Entities))
	}
	if len(res.Relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(res.Relationships))
	}
	if res.Entities[0].Name() != "Marie Curie" {
		t.Errorf("name = %q", res.Entities[0].Name())
	}
}

func TestExtractFencedJSON(t *testing.T) {
	x, _ := newTestExtractor(t, "Here you go:\n```json\n{\"entities\": [{\"label\": \"Concept\", \"properties\": {\"name\": \"gravity\"}}], \"relationships\": []}\n```\nDone.")

	res, err := x.Extract(context.Background(), "gravity")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Name() != "gravity" {
		t.Fatalf("unexpected result: %+v", res.Entities)
	}
}

func TestExtractRejectsNonJSON(t *testing.T) {
	x, _ := newTestExtractor(t, "I could not find any entities, sorry.")
	if _, err := x.Extract(context.Background(), "text"); !errors.Is(err, ErrExtraction) {
		t.Fatalf("want ErrExtraction, got %v", err)
	}
}

func TestExtractPropagatesProviderFailure(t *testing.T) {
	mock := llm.NewMockProvider("")
	mock.Fail(errors.New("upstream down"))
	x := NewExtractor(mock, DefaultTemplate(), nil)
	if _, err := x.Extract(context.Background(), "text"); !errors.Is(err, ErrExtraction) {
		t.Fatalf("want ErrExtraction, got %v", err)
	}
}

func TestValidateDropsBadRecords(t *testing.T) {
	x, _ := newTestExtractor(t, `{
		"entities": [
			{"label": "Person", "properties": {"name": "Alice"}},
			{"label": "Person", "properties": {}},
			{"label": "bad-label", "properties": {"name": "Bob"}},
			{"label": "Person", "properties": {"name": "alice"}},
			{"label": "Person", "properties": {"name": "Carol", "scopeId": "sneaky", "embedding": [1]}}
		],
		"relationships": [
			{"type": "KNOWS", "from": "Alice", "to": "Carol", "properties": {}},
			{"type": "KNOWS", "from": "Alice", "to": "Carol", "properties": {}},
			{"type": "KNOWS", "from": "Alice", "to": "Alice", "properties": {}},
			{"type": "knows", "from": "Alice", "to": "Carol", "properties": {}},
			{"type": "KNOWS", "from": "", "to": "Carol", "properties": {}}
		]
	}`)

	res, err := x.Extract(context.Background(), "text")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	// Alice and Carol survive; the nameless, bad-label, and case-duplicate
	// entities are dropped.
	if len(res.Entities) != 2 {
		t.Fatalf("entities = %d, want 2: %+v", len(res.Entities), res.Entities)
	}
	for _, e := range res.Entities {
		if _, ok := e.Properties["scopeId"]; ok {
			t.Error("reserved key scopeId survived validation")
		}
		if _, ok := e.Properties["embedding"]; ok {
			t.Error("reserved key embedding survived validation")
		}
	}

	// One KNOWS edge survives: the duplicate, self-reference, lowercase type,
	// and empty-endpoint edges are dropped.
	if len(res.Relationships) != 1 {
		t.Fatalf("relationships = %d, want 1: %+v", len(res.Relationships), res.Relationships)
	}
}

func TestSystemPromptRendersOntology(t *testing.T) {
	prompt := DefaultTemplate().SystemPrompt()
	for _, want := range []string{"ENTITY TYPES:", "RELATIONSHIP TYPES:", "OUTPUT FORMAT:", "RULES:", "EXAMPLES:", "Person", "WORKS_AT"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestMergeReplacesArrays(t *testing.T) {
	base := DefaultTemplate()
	override := Template{
		Role:        "custom role",
		EntityTypes: []EntityType{{Label: "Gene", Description: "A gene."}},
	}

	merged := Merge(base, override)
	if merged.Role != "custom role" {
		t.Errorf("role = %q", merged.Role)
	}
	if len(merged.EntityTypes) != 1 || merged.EntityTypes[0].Label != "Gene" {
		t.Errorf("entityTypes not replaced: %+v", merged.EntityTypes)
	}
	// Untouched fields fall back to the base.
	if merged.Task != base.Task {
		t.Errorf("task changed unexpectedly")
	}
	if len(merged.RelationshipTypes) != len(base.RelationshipTypes) {
		t.Errorf("relationshipTypes changed unexpectedly")
	}
}

func TestUnmarshalOverride(t *testing.T) {
	tpl, err := UnmarshalOverride([]byte(`{"entityTypes": [{"label": "Drug", "description": "A medication."}]}`))
	if err != nil {
		t.Fatalf("UnmarshalOverride: %v", err)
	}
	if tpl.EntityTypes[0].Label != "Drug" {
		t.Errorf("label = %q", tpl.EntityTypes[0].Label)
	}

	if _, err := UnmarshalOverride([]byte(`{"entityTypes": [{"description": "missing label"}]}`)); err == nil {
		t.Error("expected shape error for missing label")
	}
	if _, err := UnmarshalOverride([]byte(`not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestExtractionUsesLowTemperature(t *testing.T) {
	x, mock := newTestExtractor(t, `{"entities": [], "relationships": []}`)
	if _, err := x.Extract(context.Background(), "text"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Temperature > 0.5 {
		t.Errorf("temperature = %f, want low", calls[0].Temperature)
	}
	if calls[0].SystemPrompt == "" {
		t.Error("system prompt not set")
	}
}
