// Package memory implements the graphdb.Provider contract with in-process
// maps. It backs tests and zero-dependency demos; data does not survive the
// process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/akasha-ai/akasha/graphdb"
)

const defaultListLimit = 100

// Provider stores the graph behind a single mutex. Operations return copies,
// so callers can mutate results freely.
type Provider struct {
	mu sync.Mutex

	entities      map[string]*graphdb.Entity
	relationships map[string]*graphdb.Relationship
	documents     map[string]*graphdb.Document

	// insertion order, for stable listing
	entityOrder   []string
	relOrder      []string
	documentOrder []string

	connected bool
}

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		entities:      make(map[string]*graphdb.Entity),
		relationships: make(map[string]*graphdb.Relationship),
		documents:     make(map[string]*graphdb.Document),
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *Provider) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return fmt.Errorf("%w: not connected", graphdb.ErrDatabase)
	}
	return nil
}

// EnsureVectorIndexes is a no-op; similarity is computed by linear scan.
func (p *Provider) EnsureVectorIndexes(ctx context.Context) error { return nil }

// --- helpers ---

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if s, ok := v.([]string); ok {
			cp := make([]string, len(s))
			copy(cp, s)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

func copyEntity(e *graphdb.Entity) graphdb.Entity {
	return graphdb.Entity{ID: e.ID, Label: e.Label, Properties: copyProps(e.Properties)}
}

func copyRelationship(r *graphdb.Relationship) graphdb.Relationship {
	return graphdb.Relationship{ID: r.ID, Type: r.Type, From: r.From, To: r.To, Properties: copyProps(r.Properties)}
}

func copyDocument(d *graphdb.Document) graphdb.Document {
	return graphdb.Document{ID: d.ID, Label: d.Label, Properties: copyProps(d.Properties)}
}

func scopeMatches(recordScope, wantScope string) bool {
	return wantScope == "" || recordScope == wantScope
}

// --- vector search ---

type scored struct {
	id    string
	score float64
}

func (p *Provider) FindEntitiesByVector(ctx context.Context, vector []float32, q graphdb.VectorQuery) ([]graphdb.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hits []scored
	for _, id := range p.entityOrder {
		e := p.entities[id]
		if !scopeMatches(e.ScopeID(), q.ScopeID) {
			continue
		}
		if !graphdb.MatchesContexts(e.Properties, q.Contexts) {
			continue
		}
		if !graphdb.WithinValidity(e.Properties, q.ValidAt) {
			continue
		}
		score := graphdb.CosineSimilarity(vector, e.Embedding())
		if score < q.Threshold {
			continue
		}
		hits = append(hits, scored{id: id, score: score})
	}
	sortScored(hits)
	hits = capScored(hits, q.Limit)

	out := make([]graphdb.Entity, 0, len(hits))
	for _, h := range hits {
		e := copyEntity(p.entities[h.id])
		e.Properties[graphdb.PropSimilarity] = h.score
		out = append(out, e)
	}
	return out, nil
}

func (p *Provider) FindDocumentsByVector(ctx context.Context, vector []float32, q graphdb.VectorQuery) ([]graphdb.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hits []scored
	for _, id := range p.documentOrder {
		d := p.documents[id]
		if !scopeMatches(d.ScopeID(), q.ScopeID) {
			continue
		}
		if !graphdb.MatchesContexts(d.Properties, q.Contexts) {
			continue
		}
		if !graphdb.WithinValidity(d.Properties, q.ValidAt) {
			continue
		}
		score := graphdb.CosineSimilarity(vector, d.Embedding())
		if score < q.Threshold {
			continue
		}
		hits = append(hits, scored{id: id, score: score})
	}
	sortScored(hits)
	hits = capScored(hits, q.Limit)

	out := make([]graphdb.Document, 0, len(hits))
	for _, h := range hits {
		d := copyDocument(p.documents[h.id])
		d.Properties[graphdb.PropSimilarity] = h.score
		out = append(out, d)
	}
	return out, nil
}

func sortScored(hits []scored) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
}

func capScored(hits []scored, limit int) []scored {
	if limit > 0 && len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

// --- subgraph expansion ---

func (p *Provider) RetrieveSubgraph(ctx context.Context, q graphdb.SubgraphQuery) (*graphdb.Subgraph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	maxDepth := q.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	labelOK := func(label string) bool {
		if len(q.EntityLabels) == 0 {
			return true
		}
		for _, l := range q.EntityLabels {
			if l == label {
				return true
			}
		}
		return false
	}
	typeOK := func(t string) bool {
		if len(q.RelationshipTypes) == 0 {
			return t != graphdb.ContainsEntityType
		}
		for _, rt := range q.RelationshipTypes {
			if rt == t {
				return true
			}
		}
		return false
	}

	visited := make(map[string]bool)
	relSeen := make(map[string]bool)
	sub := &graphdb.Subgraph{}

	frontier := make([]string, 0, len(q.StartEntityIDs))
	for _, id := range q.StartEntityIDs {
		e, ok := p.entities[id]
		if !ok || !scopeMatches(e.ScopeID(), q.ScopeID) || !labelOK(e.Label) {
			continue
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		sub.Entities = append(sub.Entities, copyEntity(e))
		frontier = append(frontier, id)
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0 && len(sub.Entities) < limit; depth++ {
		var next []string
		for _, relID := range p.relOrder {
			r := p.relationships[relID]
			if relSeen[relID] || !typeOK(r.Type) || !scopeMatches(r.ScopeID(), q.ScopeID) {
				continue
			}
			var neighbor string
			switch {
			case visited[r.From] && !visited[r.To]:
				neighbor = r.To
			case visited[r.To] && !visited[r.From]:
				neighbor = r.From
			case visited[r.From] && visited[r.To]:
				relSeen[relID] = true
				sub.Relationships = append(sub.Relationships, copyRelationship(r))
				continue
			default:
				continue
			}
			e, ok := p.entities[neighbor]
			if !ok || !scopeMatches(e.ScopeID(), q.ScopeID) || !labelOK(e.Label) {
				continue
			}
			if len(sub.Entities) >= limit {
				break
			}
			visited[neighbor] = true
			relSeen[relID] = true
			sub.Entities = append(sub.Entities, copyEntity(e))
			sub.Relationships = append(sub.Relationships, copyRelationship(r))
			next = append(next, neighbor)
		}
		frontier = next
	}

	// Pick up edges between already-collected entities that BFS skipped.
	for _, relID := range p.relOrder {
		r := p.relationships[relID]
		if relSeen[relID] || !typeOK(r.Type) || !scopeMatches(r.ScopeID(), q.ScopeID) {
			continue
		}
		if visited[r.From] && visited[r.To] {
			relSeen[relID] = true
			sub.Relationships = append(sub.Relationships, copyRelationship(r))
		}
	}

	return sub, nil
}

// --- entities ---

func (p *Provider) findEntityByNameLocked(name, scopeID string) *graphdb.Entity {
	want := graphdb.NormalizeName(name)
	for _, id := range p.entityOrder {
		e := p.entities[id]
		if e.ScopeID() == scopeID && graphdb.NormalizeName(e.Name()) == want {
			return e
		}
	}
	return nil
}

func (p *Provider) CreateEntities(ctx context.Context, entities []graphdb.Entity, embeddings [][]float32) ([]graphdb.Entity, error) {
	if len(embeddings) != 0 && len(embeddings) != len(entities) {
		return nil, fmt.Errorf("%w: %d embeddings for %d entities", graphdb.ErrDatabase, len(embeddings), len(entities))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]graphdb.Entity, 0, len(entities))
	for i, e := range entities {
		if !graphdb.ValidLabel(e.Label) {
			return nil, fmt.Errorf("%w: label %q", graphdb.ErrInvalidIdentifier, e.Label)
		}
		if existing := p.findEntityByNameLocked(e.Name(), e.ScopeID()); existing != nil {
			out = append(out, copyEntity(existing))
			continue
		}
		stored := graphdb.Entity{
			ID:         uuid.NewString(),
			Label:      e.Label,
			Properties: copyProps(e.Properties),
		}
		if len(embeddings) > 0 && len(embeddings[i]) > 0 {
			stored.Properties[graphdb.PropEmbedding] = embeddings[i]
		}
		p.entities[stored.ID] = &stored
		p.entityOrder = append(p.entityOrder, stored.ID)
		out = append(out, copyEntity(&stored))
	}
	return out, nil
}

func (p *Provider) FindEntityByName(ctx context.Context, name, scopeID string) (*graphdb.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.findEntityByNameLocked(name, scopeID); e != nil {
		cp := copyEntity(e)
		return &cp, nil
	}
	return nil, graphdb.ErrNotFound
}

func (p *Provider) FindEntityByID(ctx context.Context, id, scopeID string) (*graphdb.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[id]
	if !ok || !scopeMatches(e.ScopeID(), scopeID) {
		return nil, graphdb.ErrNotFound
	}
	cp := copyEntity(e)
	return &cp, nil
}

func (p *Provider) UpdateEntity(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[id]
	if !ok {
		return nil, graphdb.ErrNotFound
	}
	if !scopeMatches(e.ScopeID(), scopeID) {
		return nil, graphdb.ErrScopeViolation
	}
	for k, v := range graphdb.SanitizeUpdate(props) {
		e.Properties[k] = v
	}
	cp := copyEntity(e)
	return &cp, nil
}

func (p *Provider) AppendEntityContext(ctx context.Context, id, contextID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[id]
	if !ok {
		return graphdb.ErrNotFound
	}
	graphdb.AppendContext(e.Properties, contextID)
	return nil
}

func (p *Provider) DeleteEntity(ctx context.Context, id, scopeID string) (*graphdb.DeleteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[id]
	if !ok {
		return &graphdb.DeleteResult{Deleted: false, Message: "entity not found"}, nil
	}
	if !scopeMatches(e.ScopeID(), scopeID) {
		return nil, graphdb.ErrScopeViolation
	}
	delete(p.entities, id)
	p.entityOrder = removeID(p.entityOrder, id)

	// Cascade: incident relationships go with the entity.
	for _, relID := range append([]string(nil), p.relOrder...) {
		r := p.relationships[relID]
		if r.From == id || r.To == id {
			delete(p.relationships, relID)
			p.relOrder = removeID(p.relOrder, relID)
		}
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "entity and incident relationships deleted"}, nil
}

func (p *Provider) ListEntities(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []graphdb.Entity
	for _, id := range p.entityOrder {
		e := p.entities[id]
		if !scopeMatches(e.ScopeID(), q.ScopeID) {
			continue
		}
		if q.Label != "" && e.Label != q.Label {
			continue
		}
		all = append(all, copyEntity(e))
	}
	return paginate(all, q.Limit, q.Offset), nil
}

// --- relationships ---

func (p *Provider) CreateRelationships(ctx context.Context, rels []graphdb.Relationship) ([]graphdb.Relationship, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]graphdb.Relationship, 0, len(rels))
	for _, r := range rels {
		if !graphdb.ValidRelationshipType(r.Type) {
			return nil, fmt.Errorf("%w: relationship type %q", graphdb.ErrInvalidIdentifier, r.Type)
		}
		if r.From == r.To {
			return nil, fmt.Errorf("%w: %s", graphdb.ErrSelfReference, r.From)
		}
		if existing := p.findRelationshipLocked(r.From, r.To, r.Type, r.ScopeID()); existing != nil {
			for _, cid := range r.ContextIDs() {
				graphdb.AppendContext(existing.Properties, cid)
			}
			out = append(out, copyRelationship(existing))
			continue
		}
		stored := graphdb.Relationship{
			ID:         uuid.NewString(),
			Type:       r.Type,
			From:       r.From,
			To:         r.To,
			Properties: copyProps(r.Properties),
		}
		p.relationships[stored.ID] = &stored
		p.relOrder = append(p.relOrder, stored.ID)
		out = append(out, copyRelationship(&stored))
	}
	return out, nil
}

func (p *Provider) findRelationshipLocked(from, to, typ, scopeID string) *graphdb.Relationship {
	for _, id := range p.relOrder {
		r := p.relationships[id]
		if r.From == from && r.To == to && r.Type == typ && r.ScopeID() == scopeID {
			return r
		}
	}
	return nil
}

func (p *Provider) FindRelationshipByID(ctx context.Context, id, scopeID string) (*graphdb.Relationship, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.relationships[id]
	if !ok || !scopeMatches(r.ScopeID(), scopeID) {
		return nil, graphdb.ErrNotFound
	}
	cp := copyRelationship(r)
	return &cp, nil
}

func (p *Provider) UpdateRelationship(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Relationship, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.relationships[id]
	if !ok {
		return nil, graphdb.ErrNotFound
	}
	if !scopeMatches(r.ScopeID(), scopeID) {
		return nil, graphdb.ErrScopeViolation
	}
	for k, v := range graphdb.SanitizeUpdate(props) {
		r.Properties[k] = v
	}
	cp := copyRelationship(r)
	return &cp, nil
}

func (p *Provider) DeleteRelationship(ctx context.Context, id, scopeID string) (*graphdb.DeleteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.relationships[id]
	if !ok {
		return &graphdb.DeleteResult{Deleted: false, Message: "relationship not found"}, nil
	}
	if !scopeMatches(r.ScopeID(), scopeID) {
		return nil, graphdb.ErrScopeViolation
	}
	delete(p.relationships, id)
	p.relOrder = removeID(p.relOrder, id)
	return &graphdb.DeleteResult{Deleted: true, Message: "relationship deleted"}, nil
}

func (p *Provider) ListRelationships(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Relationship, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []graphdb.Relationship
	for _, id := range p.relOrder {
		r := p.relationships[id]
		if !scopeMatches(r.ScopeID(), q.ScopeID) {
			continue
		}
		if q.Label != "" && r.Type != q.Label {
			continue
		}
		if q.FromID != "" && r.From != q.FromID {
			continue
		}
		if q.ToID != "" && r.To != q.ToID {
			continue
		}
		all = append(all, copyRelationship(r))
	}
	return paginate(all, q.Limit, q.Offset), nil
}

// --- documents ---

func (p *Provider) findDocumentByTextLocked(text, scopeID string) *graphdb.Document {
	for _, id := range p.documentOrder {
		d := p.documents[id]
		if d.ScopeID() == scopeID && d.Text() == text {
			return d
		}
	}
	return nil
}

func (p *Provider) CreateDocument(ctx context.Context, doc graphdb.Document, embedding []float32) (*graphdb.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing := p.findDocumentByTextLocked(doc.Text(), doc.ScopeID()); existing != nil {
		for _, cid := range doc.ContextIDs() {
			graphdb.AppendContext(existing.Properties, cid)
		}
		cp := copyDocument(existing)
		return &cp, nil
	}

	stored := graphdb.Document{
		ID:         uuid.NewString(),
		Label:      graphdb.DocumentLabel,
		Properties: copyProps(doc.Properties),
	}
	if len(embedding) > 0 {
		stored.Properties[graphdb.PropEmbedding] = embedding
	}
	p.documents[stored.ID] = &stored
	p.documentOrder = append(p.documentOrder, stored.ID)
	cp := copyDocument(&stored)
	return &cp, nil
}

func (p *Provider) FindDocumentByText(ctx context.Context, text, scopeID string) (*graphdb.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d := p.findDocumentByTextLocked(text, scopeID); d != nil {
		cp := copyDocument(d)
		return &cp, nil
	}
	return nil, graphdb.ErrNotFound
}

func (p *Provider) FindDocumentByID(ctx context.Context, id, scopeID string) (*graphdb.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.documents[id]
	if !ok || !scopeMatches(d.ScopeID(), scopeID) {
		return nil, graphdb.ErrNotFound
	}
	cp := copyDocument(d)
	return &cp, nil
}

func (p *Provider) UpdateDocument(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.documents[id]
	if !ok {
		return nil, graphdb.ErrNotFound
	}
	if !scopeMatches(d.ScopeID(), scopeID) {
		return nil, graphdb.ErrScopeViolation
	}
	for k, v := range graphdb.SanitizeUpdate(props) {
		d.Properties[k] = v
	}
	cp := copyDocument(d)
	return &cp, nil
}

func (p *Provider) AppendDocumentContext(ctx context.Context, id, contextID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.documents[id]
	if !ok {
		return graphdb.ErrNotFound
	}
	graphdb.AppendContext(d.Properties, contextID)
	return nil
}

func (p *Provider) DeleteDocument(ctx context.Context, id, scopeID string) (*graphdb.DeleteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.documents[id]
	if !ok {
		return &graphdb.DeleteResult{Deleted: false, Message: "document not found"}, nil
	}
	if !scopeMatches(d.ScopeID(), scopeID) {
		return nil, graphdb.ErrScopeViolation
	}
	delete(p.documents, id)
	p.documentOrder = removeID(p.documentOrder, id)

	// Cascade: drop the document's CONTAINS_ENTITY links.
	for _, relID := range append([]string(nil), p.relOrder...) {
		r := p.relationships[relID]
		if r.Type == graphdb.ContainsEntityType && r.From == id {
			delete(p.relationships, relID)
			p.relOrder = removeID(p.relOrder, relID)
		}
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "document and entity links deleted"}, nil
}

func (p *Provider) ListDocuments(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []graphdb.Document
	for _, id := range p.documentOrder {
		d := p.documents[id]
		if !scopeMatches(d.ScopeID(), q.ScopeID) {
			continue
		}
		all = append(all, copyDocument(d))
	}
	return paginate(all, q.Limit, q.Offset), nil
}

// --- links ---

func (p *Provider) LinkEntityToDocument(ctx context.Context, docID, entityID, scopeID string) (*graphdb.Relationship, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.documents[docID]; !ok {
		return nil, fmt.Errorf("%w: document %s", graphdb.ErrNotFound, docID)
	}
	if _, ok := p.entities[entityID]; !ok {
		return nil, fmt.Errorf("%w: entity %s", graphdb.ErrNotFound, entityID)
	}
	if existing := p.findRelationshipLocked(docID, entityID, graphdb.ContainsEntityType, scopeID); existing != nil {
		cp := copyRelationship(existing)
		return &cp, nil
	}
	stored := graphdb.Relationship{
		ID:   uuid.NewString(),
		Type: graphdb.ContainsEntityType,
		From: docID,
		To:   entityID,
		Properties: map[string]any{
			graphdb.PropScopeID:    scopeID,
			graphdb.PropRecordedAt: graphdb.Now(),
		},
	}
	p.relationships[stored.ID] = &stored
	p.relOrder = append(p.relOrder, stored.ID)
	cp := copyRelationship(&stored)
	return &cp, nil
}

func (p *Provider) EntitiesFromDocuments(ctx context.Context, docIDs []string, scopeID string) ([]graphdb.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wanted := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		wanted[id] = true
	}
	seen := make(map[string]bool)
	var out []graphdb.Entity
	for _, relID := range p.relOrder {
		r := p.relationships[relID]
		if r.Type != graphdb.ContainsEntityType || !wanted[r.From] {
			continue
		}
		if !scopeMatches(r.ScopeID(), scopeID) || seen[r.To] {
			continue
		}
		e, ok := p.entities[r.To]
		if !ok {
			continue
		}
		seen[r.To] = true
		out = append(out, copyEntity(e))
	}
	return out, nil
}

// --- shared ---

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func paginate[T any](all []T, limit, offset int) []T {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
