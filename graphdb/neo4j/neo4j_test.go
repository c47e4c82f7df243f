package neo4j

import (
	"testing"

	"github.com/akasha-ai/akasha/graphdb"
)

func TestWritePropsConvertsEmbedding(t *testing.T) {
	out := writeProps(map[string]any{
		"name":                "Alice",
		graphdb.PropEmbedding: []float32{0.5, 1},
	})
	vec, ok := out[graphdb.PropEmbedding].([]float64)
	if !ok || len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("embedding = %#v", out[graphdb.PropEmbedding])
	}
	if out["name"] != "Alice" {
		t.Errorf("name = %v", out["name"])
	}
}

func TestReadPropsRestoresShapes(t *testing.T) {
	props := readProps(map[string]any{
		"name":                 "Alice",
		nameNormProp:           "alice",
		graphdb.PropEmbedding:  []any{float64(0.5), float64(1)},
		graphdb.PropContextIDs: []any{"c1", "c2"},
	})
	if _, ok := props[nameNormProp]; ok {
		t.Error("internal dedup key leaked")
	}
	vec, ok := props[graphdb.PropEmbedding].([]float32)
	if !ok || len(vec) != 2 || vec[0] != 0.5 {
		t.Fatalf("embedding = %#v", props[graphdb.PropEmbedding])
	}

	e := graphdb.Entity{Properties: props}
	if got := e.ContextIDs(); len(got) != 2 || got[0] != "c1" {
		t.Errorf("contextIds = %v", got)
	}
}

func TestRoundTripProps(t *testing.T) {
	in := map[string]any{graphdb.PropEmbedding: []float32{1, 2, 3}}
	out := readProps(writeProps(in))
	vec, ok := out[graphdb.PropEmbedding].([]float32)
	if !ok || len(vec) != 3 || vec[2] != 3 {
		t.Fatalf("round trip lost embedding: %#v", out)
	}
}

func TestPageBounds(t *testing.T) {
	limit, offset := pageBounds(0, -5)
	if limit != defaultListLimit || offset != 0 {
		t.Errorf("bounds = %d, %d", limit, offset)
	}
	limit, offset = pageBounds(5, 10)
	if limit != 5 || offset != 10 {
		t.Errorf("bounds = %d, %d", limit, offset)
	}
}

func TestNewDefaultsDatabase(t *testing.T) {
	p := New(Config{URI: "bolt://localhost:7687"})
	if p.database != defaultDatabase {
		t.Errorf("database = %q", p.database)
	}
}
