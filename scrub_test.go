package akasha

import (
	"testing"

	"github.com/akasha-ai/akasha/graphdb"
)

func TestScrubPropsDropsInternals(t *testing.T) {
	in := map[string]any{
		"name":                 "Alice",
		graphdb.PropScopeID:    "s1",
		graphdb.PropContextIDs: []string{"c1"},
		graphdb.PropEmbedding:  []float32{1, 2},
		"_nameNorm":            "alice",
		graphdb.PropSimilarity: 0.93,
		graphdb.PropRecordedAt: "2025-01-01T00:00:00.000Z",
		graphdb.PropValidFrom:  "2025-01-01T00:00:00.000Z",
		graphdb.PropValidTo:    "2026-01-01T00:00:00.000Z",
	}
	out := scrubProps(in)

	if _, ok := out[graphdb.PropEmbedding]; ok {
		t.Error("embedding survived")
	}
	if _, ok := out["_nameNorm"]; ok {
		t.Error("internal field survived")
	}
	for _, keep := range []string{
		"name", graphdb.PropScopeID, graphdb.PropContextIDs,
		graphdb.PropSimilarity, graphdb.PropRecordedAt,
		graphdb.PropValidFrom, graphdb.PropValidTo,
	} {
		if _, ok := out[keep]; !ok {
			t.Errorf("%s dropped", keep)
		}
	}

	// Input untouched.
	if _, ok := in[graphdb.PropEmbedding]; !ok {
		t.Error("scrub mutated the input map")
	}
}

func TestScrubIdempotent(t *testing.T) {
	e := graphdb.Entity{ID: "e1", Label: "Person", Properties: map[string]any{
		"name":                "Alice",
		graphdb.PropEmbedding: []float32{1},
	}}
	once := scrubEntity(e)
	twice := scrubEntity(once)
	if len(once.Properties) != len(twice.Properties) {
		t.Errorf("scrub not idempotent: %v vs %v", once.Properties, twice.Properties)
	}
}

func TestScrubSliceBypass(t *testing.T) {
	in := []graphdb.Entity{{ID: "e1", Properties: map[string]any{
		"name":                "Alice",
		graphdb.PropEmbedding: []float32{1},
	}}}
	kept := scrubEntities(in, true)
	if _, ok := kept[0].Properties[graphdb.PropEmbedding]; !ok {
		t.Error("includeEmbeddings bypass dropped the embedding")
	}
	scrubbed := scrubEntities(in, false)
	if _, ok := scrubbed[0].Properties[graphdb.PropEmbedding]; ok {
		t.Error("embedding survived scrub")
	}
}
