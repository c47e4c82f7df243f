//go:build cgo

package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/akasha-ai/akasha/graphdb"
)

const testDim = 4

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p := New(filepath.Join(t.TempDir(), "test.db"), testDim)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { p.Disconnect(context.Background()) })
	return p
}

func entity(label, name, scopeID string) graphdb.Entity {
	return graphdb.Entity{
		Label: label,
		Properties: map[string]any{
			"name":              name,
			graphdb.PropScopeID: scopeID,
		},
	}
}

func TestSerializeFloat32RoundTrip(t *testing.T) {
	in := []float32{0.25, -1, 3.5, 0}
	out := deserializeFloat32(serializeFloat32(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %f != %f", i, in[i], out[i])
		}
	}
}

func TestEntityDedupAcrossScopes(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	first, err := p.CreateEntities(ctx, []graphdb.Entity{entity("Person", "Alice", "s1")},
		[][]float32{{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	again, err := p.CreateEntities(ctx, []graphdb.Entity{entity("Person", "ALICE", "s1")}, nil)
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	if again[0].ID != first[0].ID {
		t.Errorf("dedup failed within scope")
	}
	other, err := p.CreateEntities(ctx, []graphdb.Entity{entity("Person", "Alice", "s2")}, nil)
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	if other[0].ID == first[0].ID {
		t.Errorf("scopes must not share entities")
	}

	found, err := p.FindEntityByName(ctx, "  alice ", "s1")
	if err != nil {
		t.Fatalf("FindEntityByName: %v", err)
	}
	if found.ID != first[0].ID {
		t.Errorf("lookup returned wrong entity")
	}
	if got := found.Embedding(); len(got) != testDim {
		t.Errorf("embedding not restored: %v", got)
	}
}

func TestDocumentDedupUnionsContexts(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	doc := graphdb.Document{Properties: map[string]any{
		"text":                 "shared text",
		graphdb.PropScopeID:    "s1",
		graphdb.PropContextIDs: []string{"c1"},
	}}
	first, err := p.CreateDocument(ctx, doc, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	doc.Properties[graphdb.PropContextIDs] = []string{"c2", "c1"}
	second, err := p.CreateDocument(ctx, doc, nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("dedup failed")
	}
	if got := second.ContextIDs(); len(got) != 2 {
		t.Errorf("contextIds = %v, want union of c1,c2", got)
	}

	if _, err := p.FindDocumentByText(ctx, "shared text", "s2"); !errors.Is(err, graphdb.ErrNotFound) {
		t.Errorf("want ErrNotFound in other scope, got %v", err)
	}
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if _, err := p.CreateEntities(ctx, []graphdb.Entity{
		entity("Concept", "exact", "s1"),
		entity("Concept", "close", "s1"),
		entity("Concept", "orthogonal", "s1"),
	}, [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 1, 0, 0},
	}); err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	hits, err := p.FindEntitiesByVector(ctx, []float32{1, 0, 0, 0}, graphdb.VectorQuery{
		Limit: 10, Threshold: 0.5, ScopeID: "s1",
	})
	if err != nil {
		t.Fatalf("FindEntitiesByVector: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Name() != "exact" || hits[1].Name() != "close" {
		t.Errorf("order = %s, %s", hits[0].Name(), hits[1].Name())
	}
	sim, ok := hits[0].Properties[graphdb.PropSimilarity].(float64)
	if !ok || math.Abs(sim-1) > 0.01 {
		t.Errorf("similarity = %v, want ~1", hits[0].Properties[graphdb.PropSimilarity])
	}
}

func TestVectorSearchScopeIsolation(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	if _, err := p.CreateEntities(ctx, []graphdb.Entity{
		entity("Concept", "mine", "s1"),
		entity("Concept", "theirs", "s2"),
	}, [][]float32{
		{1, 0, 0, 0},
		{1, 0, 0, 0},
	}); err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	hits, err := p.FindEntitiesByVector(ctx, []float32{1, 0, 0, 0}, graphdb.VectorQuery{
		Limit: 10, ScopeID: "s1",
	})
	if err != nil {
		t.Fatalf("FindEntitiesByVector: %v", err)
	}
	if len(hits) != 1 || hits[0].Name() != "mine" {
		t.Errorf("scope leak: %+v", hits)
	}
}

func TestRelationshipMergeAndCascade(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	created, _ := p.CreateEntities(ctx, []graphdb.Entity{
		entity("Person", "Alice", "s1"),
		entity("Person", "Bob", "s1"),
	}, nil)
	a, b := created[0].ID, created[1].ID

	rel := graphdb.Relationship{Type: "KNOWS", From: a, To: b, Properties: map[string]any{
		graphdb.PropScopeID:    "s1",
		graphdb.PropContextIDs: []string{"c1"},
	}}
	first, err := p.CreateRelationships(ctx, []graphdb.Relationship{rel})
	if err != nil {
		t.Fatalf("CreateRelationships: %v", err)
	}
	rel.Properties[graphdb.PropContextIDs] = []string{"c2"}
	second, err := p.CreateRelationships(ctx, []graphdb.Relationship{rel})
	if err != nil {
		t.Fatalf("CreateRelationships: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Error("duplicate edge created")
	}
	if got := second[0].ContextIDs(); len(got) != 2 {
		t.Errorf("contextIds = %v", got)
	}

	if _, err := p.CreateRelationships(ctx, []graphdb.Relationship{{Type: "KNOWS", From: a, To: a, Properties: map[string]any{}}}); !errors.Is(err, graphdb.ErrSelfReference) {
		t.Errorf("want ErrSelfReference, got %v", err)
	}

	res, err := p.DeleteEntity(ctx, a, "s1")
	if err != nil || !res.Deleted {
		t.Fatalf("DeleteEntity: %+v, %v", res, err)
	}
	rels, _ := p.ListRelationships(ctx, graphdb.ListQuery{ScopeID: "s1"})
	if len(rels) != 0 {
		t.Errorf("incident relationships survived: %d", len(rels))
	}
}

func TestLinkAndEntitiesFromDocuments(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	doc, err := p.CreateDocument(ctx, graphdb.Document{Properties: map[string]any{
		"text": "doc", graphdb.PropScopeID: "s1",
	}}, nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	created, _ := p.CreateEntities(ctx, []graphdb.Entity{
		entity("Person", "Alice", "s1"),
		entity("Person", "Bob", "s1"),
	}, nil)

	for _, e := range created {
		if _, err := p.LinkEntityToDocument(ctx, doc.ID, e.ID, "s1"); err != nil {
			t.Fatalf("LinkEntityToDocument: %v", err)
		}
	}
	// Re-linking merges rather than duplicating.
	if _, err := p.LinkEntityToDocument(ctx, doc.ID, created[0].ID, "s1"); err != nil {
		t.Fatalf("LinkEntityToDocument: %v", err)
	}
	links, _ := p.ListRelationships(ctx, graphdb.ListQuery{ScopeID: "s1", Label: graphdb.ContainsEntityType})
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}

	got, err := p.EntitiesFromDocuments(ctx, []string{doc.ID}, "s1")
	if err != nil {
		t.Fatalf("EntitiesFromDocuments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entities = %d, want 2", len(got))
	}

	res, err := p.DeleteDocument(ctx, doc.ID, "s1")
	if err != nil || !res.Deleted {
		t.Fatalf("DeleteDocument: %+v, %v", res, err)
	}
	links, _ = p.ListRelationships(ctx, graphdb.ListQuery{ScopeID: "s1", Label: graphdb.ContainsEntityType})
	if len(links) != 0 {
		t.Errorf("document links survived")
	}
}

func TestRetrieveSubgraphDepth(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	created, _ := p.CreateEntities(ctx, []graphdb.Entity{
		entity("Person", "a", "s1"),
		entity("Person", "b", "s1"),
		entity("Person", "c", "s1"),
		entity("Person", "d", "s1"),
	}, nil)
	ids := make([]string, len(created))
	for i, e := range created {
		ids[i] = e.ID
	}
	if _, err := p.CreateRelationships(ctx, []graphdb.Relationship{
		{Type: "KNOWS", From: ids[0], To: ids[1], Properties: map[string]any{graphdb.PropScopeID: "s1"}},
		{Type: "KNOWS", From: ids[1], To: ids[2], Properties: map[string]any{graphdb.PropScopeID: "s1"}},
		{Type: "KNOWS", From: ids[2], To: ids[3], Properties: map[string]any{graphdb.PropScopeID: "s1"}},
	}); err != nil {
		t.Fatalf("CreateRelationships: %v", err)
	}

	sub, err := p.RetrieveSubgraph(ctx, graphdb.SubgraphQuery{
		MaxDepth: 2, Limit: 50, StartEntityIDs: []string{ids[0]}, ScopeID: "s1",
	})
	if err != nil {
		t.Fatalf("RetrieveSubgraph: %v", err)
	}
	if len(sub.Entities) != 3 {
		t.Errorf("entities = %d, want 3", len(sub.Entities))
	}
	if len(sub.Relationships) != 2 {
		t.Errorf("relationships = %d, want 2", len(sub.Relationships))
	}
}

func TestUpdateDropsReservedAndEnforcesScope(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	created, _ := p.CreateEntities(ctx, []graphdb.Entity{entity("Person", "Alice", "s1")}, nil)
	id := created[0].ID

	updated, err := p.UpdateEntity(ctx, id, map[string]any{
		"title":             "doctor",
		graphdb.PropScopeID: "hijacked",
	}, "s1")
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.Properties["title"] != "doctor" || updated.ScopeID() != "s1" {
		t.Errorf("update wrong: %+v", updated.Properties)
	}
	if _, err := p.UpdateEntity(ctx, id, map[string]any{"x": 1}, "other"); !errors.Is(err, graphdb.ErrScopeViolation) {
		t.Errorf("want ErrScopeViolation, got %v", err)
	}
}

func TestSurvivesReconnect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	ctx := context.Background()

	p := New(path, testDim)
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	created, err := p.CreateEntities(ctx, []graphdb.Entity{entity("Person", "Alice", "s1")},
		[][]float32{{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}
	if err := p.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	p2 := New(path, testDim)
	if err := p2.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer p2.Disconnect(ctx)
	found, err := p2.FindEntityByID(ctx, created[0].ID, "s1")
	if err != nil {
		t.Fatalf("FindEntityByID after reconnect: %v", err)
	}
	if found.Name() != "Alice" || len(found.Embedding()) != testDim {
		t.Errorf("record lost across reconnect: %+v", found)
	}
}
