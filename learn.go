package akasha

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/akasha-ai/akasha/events"
	"github.com/akasha-ai/akasha/graphdb"
)

// contextNamespace seeds deterministic context ids, so the same context name
// within a scope always resolves to the same id.
var contextNamespace = uuid.MustParse("8d6a2f10-41c7-4be2-9b5e-0f3cb1a47e52")

// LearnOptions tunes one ingestion call.
type LearnOptions struct {
	ContextID   string `json:"contextId,omitempty"`
	ContextName string `json:"contextName,omitempty"`
	ValidFrom   string `json:"validFrom,omitempty"`
	ValidTo     string `json:"validTo,omitempty"`

	// IncludeEmbeddings keeps embedding vectors in the response. It does not
	// affect what is stored.
	IncludeEmbeddings bool `json:"includeEmbeddings,omitempty"`
}

// Created counts what one learn call added to the graph.
type Created struct {
	Document      int `json:"document"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
}

// LearnResult is the outcome of one ingestion call.
type LearnResult struct {
	Context       graphdb.Context        `json:"context"`
	Document      graphdb.Document       `json:"document"`
	Entities      []graphdb.Entity       `json:"entities"`
	Relationships []graphdb.Relationship `json:"relationships"`
	Summary       string                 `json:"summary"`
	Created       Created                `json:"created"`
}

// Learn ingests one text: dedup the document, extract the graph, dedup
// entities, embed, persist, link, emit. The text itself is the document's
// identity within the scope.
func (a *Akasha) Learn(ctx context.Context, text string, opts *LearnOptions) (*LearnResult, error) {
	if opts == nil {
		opts = &LearnOptions{}
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}

	validFrom, err := graphdb.NormalizeTime(opts.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: validFrom: %v", ErrValidation, err)
	}
	validTo, err := graphdb.NormalizeTime(opts.ValidTo)
	if err != nil {
		return nil, fmt.Errorf("%w: validTo: %v", ErrValidation, err)
	}

	scopeID := a.scopeID()
	a.emitter.Emit(events.Event{Type: events.LearnStarted, ScopeID: scopeID, Text: text})

	result, err := a.learn(ctx, text, opts, validFrom, validTo)
	if err != nil {
		a.emitter.Emit(events.Event{
			Type: events.LearnFailed, ScopeID: scopeID, Text: text, Error: err.Error(),
		})
		return nil, err
	}

	a.emitter.Emit(events.Event{
		Type: events.LearnCompleted, ScopeID: scopeID,
		Summary: map[string]any{
			"document":      result.Created.Document,
			"entities":      result.Created.Entities,
			"relationships": result.Created.Relationships,
		},
	})
	return result, nil
}

func (a *Akasha) learn(ctx context.Context, text string, opts *LearnOptions, validFrom, validTo string) (*LearnResult, error) {
	scopeID := a.scopeID()
	learnCtx := a.resolveContext(opts)
	now := graphdb.Now()
	if validFrom == "" {
		validFrom = now
	}
	if validTo != "" && validTo <= validFrom {
		return nil, fmt.Errorf("%w: validTo must be after validFrom", ErrValidation)
	}

	// Document dedup by (scope, text).
	doc, created, err := a.upsertDocument(ctx, text, scopeID, learnCtx.ID, now, validFrom, validTo)
	if err != nil {
		return nil, err
	}
	result := &LearnResult{Context: learnCtx}
	if created {
		result.Created.Document = 1
		a.emitter.Emit(events.Event{Type: events.DocumentCreated, ScopeID: scopeID, Document: doc})
	}

	// Extraction.
	a.emitter.Emit(events.Event{Type: events.ExtractionStarted, ScopeID: scopeID, Text: text})
	extracted, err := a.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	a.emitter.Emit(events.Event{
		Type: events.ExtractionCompleted, ScopeID: scopeID,
		Summary: map[string]any{
			"entities":      len(extracted.Entities),
			"relationships": len(extracted.Relationships),
		},
	})

	// Entity dedup by (scope, lowercased name).
	var newEntities []graphdb.Entity
	var existing []graphdb.Entity
	for _, e := range extracted.Entities {
		found, err := a.db.FindEntityByName(ctx, e.Name(), scopeID)
		switch {
		case err == nil:
			existing = append(existing, *found)
		case errors.Is(err, graphdb.ErrNotFound):
			props := make(map[string]any, len(e.Properties)+5)
			for k, v := range e.Properties {
				props[k] = v
			}
			if scopeID != "" {
				props[graphdb.PropScopeID] = scopeID
			}
			props[graphdb.PropContextIDs] = []string{learnCtx.ID}
			props[graphdb.PropRecordedAt] = now
			props[graphdb.PropValidFrom] = validFrom
			if validTo != "" {
				props[graphdb.PropValidTo] = validTo
			}
			newEntities = append(newEntities, graphdb.Entity{Label: e.Label, Properties: props})
		default:
			return nil, err
		}
	}

	// One batch embedding call over the new entities' canonical texts.
	var embeddings [][]float32
	if len(newEntities) > 0 {
		texts := make([]string, len(newEntities))
		for i, e := range newEntities {
			texts[i] = graphdb.EntityEmbeddingText(e.Label, e.Name(), e.Properties)
		}
		embeddings, err = a.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
	}

	createdEntities, err := a.db.CreateEntities(ctx, newEntities, embeddings)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if err := a.db.AppendEntityContext(ctx, e.ID, learnCtx.ID); err != nil {
			return nil, err
		}
	}

	// Transient name→id map for endpoint resolution. Same-name entities under
	// different labels collapse to one record, so dedup by id here.
	idByName := make(map[string]string, len(createdEntities)+len(existing))
	touched := make([]graphdb.Entity, 0, len(createdEntities)+len(existing))
	seenID := make(map[string]bool, len(createdEntities)+len(existing))
	newEntityCount := 0
	for _, e := range createdEntities {
		idByName[graphdb.NormalizeName(e.Name())] = e.ID
		if !seenID[e.ID] {
			seenID[e.ID] = true
			touched = append(touched, e)
			newEntityCount++
		}
	}
	for _, e := range existing {
		idByName[graphdb.NormalizeName(e.Name())] = e.ID
		if !seenID[e.ID] {
			seenID[e.ID] = true
			touched = append(touched, e)
		}
	}

	// Relationships, dropping any with unresolved endpoints. Merges into
	// pre-existing relationships do not count as new.
	var rels []graphdb.Relationship
	var relIsNew []bool
	newRels := 0
	for _, r := range extracted.Relationships {
		fromID, okFrom := idByName[graphdb.NormalizeName(r.From)]
		toID, okTo := idByName[graphdb.NormalizeName(r.To)]
		if !okFrom || !okTo {
			a.logger.Warn("dropping relationship with unresolved endpoint",
				"type", r.Type, "from", r.From, "to", r.To)
			continue
		}
		if fromID == toID {
			continue
		}
		prior, err := a.db.ListRelationships(ctx, graphdb.ListQuery{
			Label: r.Type, FromID: fromID, ToID: toID, Limit: 1, ScopeID: scopeID,
		})
		if err != nil {
			return nil, err
		}
		isNew := len(prior) == 0
		if isNew {
			newRels++
		}
		relIsNew = append(relIsNew, isNew)
		props := make(map[string]any, len(r.Properties)+5)
		for k, v := range r.Properties {
			props[k] = v
		}
		if scopeID != "" {
			props[graphdb.PropScopeID] = scopeID
		}
		props[graphdb.PropContextIDs] = []string{learnCtx.ID}
		props[graphdb.PropRecordedAt] = now
		props[graphdb.PropValidFrom] = validFrom
		if validTo != "" {
			props[graphdb.PropValidTo] = validTo
		}
		rels = append(rels, graphdb.Relationship{Type: r.Type, From: fromID, To: toID, Properties: props})
	}
	createdRels, err := a.db.CreateRelationships(ctx, rels)
	if err != nil {
		return nil, err
	}

	// Link every touched entity to the document.
	for _, e := range touched {
		if _, err := a.db.LinkEntityToDocument(ctx, doc.ID, e.ID, scopeID); err != nil {
			return nil, err
		}
	}

	emittedID := make(map[string]bool, len(createdEntities))
	for _, e := range createdEntities {
		if emittedID[e.ID] {
			continue
		}
		emittedID[e.ID] = true
		e := e
		a.emitter.Emit(events.Event{Type: events.EntityCreated, ScopeID: scopeID, Entity: &e})
	}
	for i := range createdRels {
		if i < len(relIsNew) && !relIsNew[i] {
			continue
		}
		r := createdRels[i]
		a.emitter.Emit(events.Event{Type: events.RelationshipCreated, ScopeID: scopeID, Relationship: &r})
	}

	result.Created.Entities = newEntityCount
	result.Created.Relationships = newRels
	result.Document = scrubDocuments([]graphdb.Document{*doc}, opts.IncludeEmbeddings)[0]
	result.Entities = scrubEntities(touched, opts.IncludeEmbeddings)
	result.Relationships = scrubRelationships(createdRels, opts.IncludeEmbeddings)
	result.Summary = fmt.Sprintf("learned %d entities and %d relationships from 1 document",
		len(touched), len(createdRels))
	return result, nil
}

// resolveContext picks the context for a learn call: explicit id, stable id
// derived from the name, or a fresh UUID.
func (a *Akasha) resolveContext(opts *LearnOptions) graphdb.Context {
	scopeID := a.scopeID()
	switch {
	case opts.ContextID != "":
		return graphdb.Context{ID: opts.ContextID, ScopeID: scopeID, Name: opts.ContextName, Source: "provided"}
	case opts.ContextName != "":
		id := uuid.NewSHA1(contextNamespace, []byte(scopeID+"/"+opts.ContextName)).String()
		return graphdb.Context{ID: id, ScopeID: scopeID, Name: opts.ContextName, Source: "derived"}
	default:
		return graphdb.Context{ID: uuid.NewString(), ScopeID: scopeID, Source: "generated"}
	}
}

func (a *Akasha) upsertDocument(ctx context.Context, text, scopeID, contextID, now, validFrom, validTo string) (*graphdb.Document, bool, error) {
	found, err := a.db.FindDocumentByText(ctx, text, scopeID)
	if err == nil {
		if err := a.db.AppendDocumentContext(ctx, found.ID, contextID); err != nil {
			return nil, false, err
		}
		refreshed, err := a.db.FindDocumentByID(ctx, found.ID, scopeID)
		if err != nil {
			return nil, false, err
		}
		return refreshed, false, nil
	}
	if !errors.Is(err, graphdb.ErrNotFound) {
		return nil, false, err
	}

	embedding, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, false, err
	}
	props := map[string]any{
		"text":                 text,
		graphdb.PropContextIDs: []string{contextID},
		graphdb.PropRecordedAt: now,
		graphdb.PropValidFrom:  validFrom,
	}
	if scopeID != "" {
		props[graphdb.PropScopeID] = scopeID
	}
	if validTo != "" {
		props[graphdb.PropValidTo] = validTo
	}
	doc, err := a.db.CreateDocument(ctx, graphdb.Document{
		Label:      graphdb.DocumentLabel,
		Properties: props,
	}, embedding)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// LearnFile parses a file through the registry and ingests its text.
func (a *Akasha) LearnFile(ctx context.Context, path string, opts *LearnOptions) (*LearnResult, error) {
	p, err := a.parsers.ForPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parsed, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	return a.Learn(ctx, parsed.Text(), opts)
}
