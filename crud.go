package akasha

import (
	"context"
	"errors"
	"fmt"

	"github.com/akasha-ai/akasha/events"
	"github.com/akasha-ai/akasha/graphdb"
)

// EntityInput describes one entity to create directly, bypassing extraction.
type EntityInput struct {
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// RelationshipInput describes one relationship to create directly.
type RelationshipInput struct {
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ListOptions pages and filters listing calls.
type ListOptions struct {
	// Label filters entities by label, or relationships by type.
	Label  string `json:"label,omitempty"`
	FromID string `json:"fromId,omitempty"`
	ToID   string `json:"toId,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func (o *ListOptions) query(scopeID string) graphdb.ListQuery {
	q := graphdb.ListQuery{ScopeID: scopeID}
	if o != nil {
		q.Label = o.Label
		q.FromID = o.FromID
		q.ToID = o.ToID
		q.Limit = o.Limit
		q.Offset = o.Offset
	}
	return q
}

func validateEntityInput(in EntityInput) error {
	if !graphdb.ValidLabel(in.Label) {
		return fmt.Errorf("%w: invalid label %q", ErrValidation, in.Label)
	}
	name, _ := in.Properties["name"].(string)
	if name == "" {
		return fmt.Errorf("%w: entity requires a name property", ErrValidation)
	}
	for k := range in.Properties {
		if !graphdb.ValidPropertyKey(k) {
			return fmt.Errorf("%w: invalid property key %q", ErrValidation, k)
		}
	}
	return nil
}

// CreateEntity inserts one entity, embedding its canonical text. An existing
// entity with the same lowercased name in the scope is reused.
func (a *Akasha) CreateEntity(ctx context.Context, in EntityInput) (*graphdb.Entity, error) {
	created, err := a.CreateEntities(ctx, []EntityInput{in})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// CreateEntities inserts entities in one batch with a single embedding call.
func (a *Akasha) CreateEntities(ctx context.Context, in []EntityInput) ([]graphdb.Entity, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no entities given", ErrValidation)
	}
	scopeID := a.scopeID()
	now := graphdb.Now()

	entities := make([]graphdb.Entity, len(in))
	texts := make([]string, len(in))
	for i, item := range in {
		if err := validateEntityInput(item); err != nil {
			return nil, err
		}
		props := make(map[string]any, len(item.Properties)+3)
		for k, v := range graphdb.SanitizeUpdate(item.Properties) {
			props[k] = v
		}
		if scopeID != "" {
			props[graphdb.PropScopeID] = scopeID
		}
		props[graphdb.PropRecordedAt] = now
		props[graphdb.PropValidFrom] = now
		entities[i] = graphdb.Entity{Label: item.Label, Properties: props}
		texts[i] = graphdb.EntityEmbeddingText(item.Label, entities[i].Name(), props)
	}

	embeddings, err := a.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	created, err := a.db.CreateEntities(ctx, entities, embeddings)
	if err != nil {
		return nil, err
	}
	for i := range created {
		e := created[i]
		a.emitter.Emit(events.Event{Type: events.EntityCreated, ScopeID: scopeID, Entity: &e})
	}
	return scrubEntities(created, false), nil
}

// GetEntity fetches one entity by id within the scope.
func (a *Akasha) GetEntity(ctx context.Context, id string) (*graphdb.Entity, error) {
	e, err := a.db.FindEntityByID(ctx, id, a.scopeID())
	if err != nil {
		return nil, err
	}
	scrubbed := scrubEntity(*e)
	return &scrubbed, nil
}

// UpdateEntity merges properties into an entity. Reserved fields in props are
// silently dropped.
func (a *Akasha) UpdateEntity(ctx context.Context, id string, props map[string]any) (*graphdb.Entity, error) {
	for k := range props {
		if !graphdb.ValidPropertyKey(k) {
			return nil, fmt.Errorf("%w: invalid property key %q", ErrValidation, k)
		}
	}
	scopeID := a.scopeID()
	e, err := a.db.UpdateEntity(ctx, id, props, scopeID)
	if err != nil {
		return nil, err
	}
	scrubbed := scrubEntity(*e)
	a.emitter.Emit(events.Event{Type: events.EntityUpdated, ScopeID: scopeID, Entity: &scrubbed})
	return &scrubbed, nil
}

// DeleteEntity removes an entity and its incident relationships. Deleting a
// missing entity is not an error.
func (a *Akasha) DeleteEntity(ctx context.Context, id string) (*graphdb.DeleteResult, error) {
	scopeID := a.scopeID()
	res, err := a.db.DeleteEntity(ctx, id, scopeID)
	if err != nil {
		return nil, err
	}
	if res.Deleted {
		a.emitter.Emit(events.Event{
			Type: events.EntityDeleted, ScopeID: scopeID,
			Entity: &graphdb.Entity{ID: id},
		})
	}
	return res, nil
}

// ListEntities pages through the scope's entities.
func (a *Akasha) ListEntities(ctx context.Context, opts *ListOptions) ([]graphdb.Entity, error) {
	out, err := a.db.ListEntities(ctx, opts.query(a.scopeID()))
	if err != nil {
		return nil, err
	}
	return scrubEntities(out, false), nil
}

// CreateRelationship links two existing entities. Both endpoints must resolve
// within the scope.
func (a *Akasha) CreateRelationship(ctx context.Context, in RelationshipInput) (*graphdb.Relationship, error) {
	created, err := a.CreateRelationships(ctx, []RelationshipInput{in})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// CreateRelationships links entities in one batch. Duplicate links with the
// same endpoints and type merge into the existing relationship.
func (a *Akasha) CreateRelationships(ctx context.Context, in []RelationshipInput) ([]graphdb.Relationship, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no relationships given", ErrValidation)
	}
	scopeID := a.scopeID()
	now := graphdb.Now()

	rels := make([]graphdb.Relationship, len(in))
	for i, item := range in {
		if !graphdb.ValidRelationshipType(item.Type) {
			return nil, fmt.Errorf("%w: invalid relationship type %q", ErrValidation, item.Type)
		}
		if item.From == "" || item.To == "" {
			return nil, fmt.Errorf("%w: relationship requires both endpoints", ErrValidation)
		}
		if item.From == item.To {
			return nil, fmt.Errorf("%w: relationship cannot reference itself", ErrValidation)
		}
		if _, err := a.db.FindEntityByID(ctx, item.From, scopeID); err != nil {
			if errors.Is(err, graphdb.ErrNotFound) {
				return nil, fmt.Errorf("%w: from entity %s not found", ErrValidation, item.From)
			}
			return nil, err
		}
		if _, err := a.db.FindEntityByID(ctx, item.To, scopeID); err != nil {
			if errors.Is(err, graphdb.ErrNotFound) {
				return nil, fmt.Errorf("%w: to entity %s not found", ErrValidation, item.To)
			}
			return nil, err
		}

		props := make(map[string]any, len(item.Properties)+3)
		for k, v := range graphdb.SanitizeUpdate(item.Properties) {
			props[k] = v
		}
		if scopeID != "" {
			props[graphdb.PropScopeID] = scopeID
		}
		props[graphdb.PropRecordedAt] = now
		props[graphdb.PropValidFrom] = now
		rels[i] = graphdb.Relationship{Type: item.Type, From: item.From, To: item.To, Properties: props}
	}

	created, err := a.db.CreateRelationships(ctx, rels)
	if err != nil {
		return nil, err
	}
	for i := range created {
		r := created[i]
		a.emitter.Emit(events.Event{Type: events.RelationshipCreated, ScopeID: scopeID, Relationship: &r})
	}
	return scrubRelationships(created, false), nil
}

// GetRelationship fetches one relationship by id within the scope.
func (a *Akasha) GetRelationship(ctx context.Context, id string) (*graphdb.Relationship, error) {
	r, err := a.db.FindRelationshipByID(ctx, id, a.scopeID())
	if err != nil {
		return nil, err
	}
	scrubbed := scrubRelationship(*r)
	return &scrubbed, nil
}

// UpdateRelationship merges properties into a relationship.
func (a *Akasha) UpdateRelationship(ctx context.Context, id string, props map[string]any) (*graphdb.Relationship, error) {
	for k := range props {
		if !graphdb.ValidPropertyKey(k) {
			return nil, fmt.Errorf("%w: invalid property key %q", ErrValidation, k)
		}
	}
	scopeID := a.scopeID()
	r, err := a.db.UpdateRelationship(ctx, id, props, scopeID)
	if err != nil {
		return nil, err
	}
	scrubbed := scrubRelationship(*r)
	a.emitter.Emit(events.Event{Type: events.RelationshipUpdated, ScopeID: scopeID, Relationship: &scrubbed})
	return &scrubbed, nil
}

// DeleteRelationship removes one relationship. Deleting a missing one is not
// an error.
func (a *Akasha) DeleteRelationship(ctx context.Context, id string) (*graphdb.DeleteResult, error) {
	scopeID := a.scopeID()
	res, err := a.db.DeleteRelationship(ctx, id, scopeID)
	if err != nil {
		return nil, err
	}
	if res.Deleted {
		a.emitter.Emit(events.Event{
			Type: events.RelationshipDeleted, ScopeID: scopeID,
			Relationship: &graphdb.Relationship{ID: id},
		})
	}
	return res, nil
}

// ListRelationships pages through the scope's relationships.
func (a *Akasha) ListRelationships(ctx context.Context, opts *ListOptions) ([]graphdb.Relationship, error) {
	out, err := a.db.ListRelationships(ctx, opts.query(a.scopeID()))
	if err != nil {
		return nil, err
	}
	return scrubRelationships(out, false), nil
}

// GetDocument fetches one document by id within the scope.
func (a *Akasha) GetDocument(ctx context.Context, id string) (*graphdb.Document, error) {
	d, err := a.db.FindDocumentByID(ctx, id, a.scopeID())
	if err != nil {
		return nil, err
	}
	scrubbed := scrubDocument(*d)
	return &scrubbed, nil
}

// UpdateDocument merges properties into a document. The text itself is
// immutable; changing it would break the (scope, text) identity.
func (a *Akasha) UpdateDocument(ctx context.Context, id string, props map[string]any) (*graphdb.Document, error) {
	for k := range props {
		if !graphdb.ValidPropertyKey(k) {
			return nil, fmt.Errorf("%w: invalid property key %q", ErrValidation, k)
		}
	}
	if _, ok := props["text"]; ok {
		return nil, fmt.Errorf("%w: document text cannot be updated", ErrValidation)
	}
	scopeID := a.scopeID()
	d, err := a.db.UpdateDocument(ctx, id, props, scopeID)
	if err != nil {
		return nil, err
	}
	scrubbed := scrubDocument(*d)
	a.emitter.Emit(events.Event{Type: events.DocumentUpdated, ScopeID: scopeID, Document: &scrubbed})
	return &scrubbed, nil
}

// DeleteDocument removes a document and its entity links. Linked entities
// survive.
func (a *Akasha) DeleteDocument(ctx context.Context, id string) (*graphdb.DeleteResult, error) {
	scopeID := a.scopeID()
	res, err := a.db.DeleteDocument(ctx, id, scopeID)
	if err != nil {
		return nil, err
	}
	if res.Deleted {
		a.emitter.Emit(events.Event{
			Type: events.DocumentDeleted, ScopeID: scopeID,
			Document: &graphdb.Document{ID: id},
		})
	}
	return res, nil
}

// ListDocuments pages through the scope's documents.
func (a *Akasha) ListDocuments(ctx context.Context, opts *ListOptions) ([]graphdb.Document, error) {
	out, err := a.db.ListDocuments(ctx, opts.query(a.scopeID()))
	if err != nil {
		return nil, err
	}
	return scrubDocuments(out, false), nil
}
