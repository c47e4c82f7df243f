package akasha

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/akasha-ai/akasha/events"
	"github.com/akasha-ai/akasha/graphdb"
	"github.com/akasha-ai/akasha/llm"
)

const (
	// maxContextChars caps the assembled retrieval context handed to the LLM.
	maxContextChars = 200_000

	defaultAskLimit     = 50
	defaultAskDepth     = 2
	maxAskDepth         = 10
	defaultSimThreshold = 0.7

	// defaultAnswerTemperature applies when the config leaves the
	// generation temperature unset.
	defaultAnswerTemperature = 0.7
)

// Search strategies for Ask.
const (
	StrategyDocuments = "documents"
	StrategyEntities  = "entities"
	StrategyBoth      = "both"
)

const askSystemPrompt = `You are a precise assistant that answers questions using only the knowledge graph context provided.
Ground every claim in the supplied entities, relationships, and document excerpts.
If the context is insufficient to answer, say so plainly instead of guessing.`

// AskOptions tunes retrieval and generation for one query.
type AskOptions struct {
	// MaxDepth bounds the graph expansion around seed entities, 1 to 10.
	MaxDepth int `json:"maxDepth,omitempty"`

	// Limit caps each vector search.
	Limit int `json:"limit,omitempty"`

	// Strategy is "documents", "entities", or "both" (the default).
	Strategy string `json:"strategy,omitempty"`

	// Contexts restricts retrieval to records tagged with at least one of
	// these context ids. Untagged records always pass.
	Contexts []string `json:"contexts,omitempty"`

	// ValidAt restricts retrieval to records valid at this instant.
	ValidAt string `json:"validAt,omitempty"`

	// SimilarityThreshold is the minimum cosine similarity, default 0.7.
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`

	IncludeEmbeddings bool `json:"includeEmbeddings,omitempty"`
	IncludeStats      bool `json:"includeStats,omitempty"`
}

// Statistics reports per-phase wall times and retrieval counts.
type Statistics struct {
	SearchTimeMs            int64 `json:"searchTimeMs"`
	SubgraphRetrievalTimeMs int64 `json:"subgraphRetrievalTimeMs"`
	LLMGenerationTimeMs     int64 `json:"llmGenerationTimeMs"`
	TotalTimeMs             int64 `json:"totalTimeMs"`

	EntitiesFound      int `json:"entitiesFound"`
	RelationshipsFound int `json:"relationshipsFound"`
	DocumentsFound     int `json:"documentsFound"`
}

// RetrievedContext is the graph neighbourhood that grounded an answer.
type RetrievedContext struct {
	Entities      []graphdb.Entity       `json:"entities"`
	Relationships []graphdb.Relationship `json:"relationships"`
	Documents     []graphdb.Document     `json:"documents"`
	Summary       string                 `json:"summary"`
}

// AskResult is a grounded answer plus the context that produced it.
type AskResult struct {
	Answer     string           `json:"answer"`
	Context    RetrievedContext `json:"context"`
	Statistics *Statistics      `json:"statistics,omitempty"`
}

// Ask answers a natural-language question: embed it, find similar entities
// and documents, expand the graph around the hits, and synthesize a grounded
// answer from the combined context.
func (a *Akasha) Ask(ctx context.Context, question string, opts *AskOptions) (*AskResult, error) {
	if opts == nil {
		opts = &AskOptions{}
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyBoth
	}
	switch strategy {
	case StrategyDocuments, StrategyEntities, StrategyBoth:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrValidation, opts.Strategy)
	}

	depth := opts.MaxDepth
	if depth <= 0 {
		depth = defaultAskDepth
	}
	if depth > maxAskDepth {
		depth = maxAskDepth
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultAskLimit
	}
	threshold := opts.SimilarityThreshold
	if threshold == 0 {
		threshold = defaultSimThreshold
	}
	validAt, err := graphdb.NormalizeTime(opts.ValidAt)
	if err != nil {
		return nil, fmt.Errorf("%w: validAt: %v", ErrValidation, err)
	}

	scopeID := a.scopeID()
	a.emitter.Emit(events.Event{Type: events.QueryStarted, ScopeID: scopeID, Text: question})

	start := time.Now()
	stats := Statistics{}

	vector, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	query := graphdb.VectorQuery{
		Limit:     limit,
		Threshold: threshold,
		ScopeID:   scopeID,
		Contexts:  opts.Contexts,
		ValidAt:   validAt,
	}

	searchStart := time.Now()
	var seeds []graphdb.Entity
	var documents []graphdb.Document

	if strategy == StrategyEntities || strategy == StrategyBoth {
		seeds, err = a.db.FindEntitiesByVector(ctx, vector, query)
		if err != nil {
			return nil, err
		}
	}
	if strategy == StrategyDocuments || strategy == StrategyBoth {
		documents, err = a.db.FindDocumentsByVector(ctx, vector, query)
		if err != nil {
			return nil, err
		}
		// Entities mentioned in matching documents join the seed set after
		// the direct hits, without duplicates.
		if len(documents) > 0 {
			docIDs := make([]string, len(documents))
			for i, d := range documents {
				docIDs[i] = d.ID
			}
			docEntities, err := a.db.EntitiesFromDocuments(ctx, docIDs, scopeID)
			if err != nil {
				return nil, err
			}
			seen := make(map[string]bool, len(seeds))
			for _, e := range seeds {
				seen[e.ID] = true
			}
			for _, e := range docEntities {
				if !seen[e.ID] {
					seen[e.ID] = true
					seeds = append(seeds, e)
				}
			}
		}
	}
	stats.SearchTimeMs = time.Since(searchStart).Milliseconds()

	// Expand the neighbourhood around the seeds.
	subgraphStart := time.Now()
	entities := seeds
	var relationships []graphdb.Relationship
	if len(seeds) > 0 {
		seedIDs := make([]string, len(seeds))
		for i, e := range seeds {
			seedIDs[i] = e.ID
		}
		sub, err := a.db.RetrieveSubgraph(ctx, graphdb.SubgraphQuery{
			MaxDepth:       depth,
			Limit:          limit,
			StartEntityIDs: seedIDs,
			ScopeID:        scopeID,
		})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(entities))
		for _, e := range entities {
			seen[e.ID] = true
		}
		for _, e := range sub.Entities {
			if !seen[e.ID] {
				seen[e.ID] = true
				entities = append(entities, e)
			}
		}
		relationships = sub.Relationships
	}
	stats.SubgraphRetrievalTimeMs = time.Since(subgraphStart).Milliseconds()

	stats.EntitiesFound = len(entities)
	stats.RelationshipsFound = len(relationships)
	stats.DocumentsFound = len(documents)

	prompt := buildAskContext(scopeID, opts.Contexts, validAt, entities, relationships, documents)

	llmStart := time.Now()
	answer, err := a.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:       question,
		Context:      prompt,
		SystemPrompt: askSystemPrompt,
		Temperature:  a.answerTemperature(),
	})
	if err != nil {
		return nil, err
	}
	stats.LLMGenerationTimeMs = time.Since(llmStart).Milliseconds()
	stats.TotalTimeMs = time.Since(start).Milliseconds()

	result := &AskResult{
		Answer: answer,
		Context: RetrievedContext{
			Entities:      scrubEntities(entities, opts.IncludeEmbeddings),
			Relationships: scrubRelationships(relationships, opts.IncludeEmbeddings),
			Documents:     scrubDocuments(documents, opts.IncludeEmbeddings),
			Summary: fmt.Sprintf("%d entities, %d relationships, %d documents",
				len(entities), len(relationships), len(documents)),
		},
	}
	if opts.IncludeStats {
		result.Statistics = &stats
	}

	a.emitter.Emit(events.Event{
		Type: events.QueryCompleted, ScopeID: scopeID, Text: question,
		Result: map[string]any{
			"entities":      len(entities),
			"relationships": len(relationships),
			"documents":     len(documents),
			"totalTimeMs":   stats.TotalTimeMs,
		},
	})
	return result, nil
}

// answerTemperature is the configured generation temperature, falling back
// to the default when unset.
func (a *Akasha) answerTemperature() float64 {
	if t := a.cfg.Providers.LLM.Temperature; t > 0 {
		return t
	}
	return defaultAnswerTemperature
}

// buildAskContext renders the retrieved graph as prompt text. When the full
// rendering exceeds the cap it degrades in order: document excerpts go first,
// then relationship lines, then entity property detail.
func buildAskContext(scopeID string, contexts []string, validAt string, entities []graphdb.Entity, relationships []graphdb.Relationship, documents []graphdb.Document) string {
	var preamble strings.Builder
	preamble.WriteString("KNOWLEDGE GRAPH CONTEXT\n")
	if scopeID != "" {
		fmt.Fprintf(&preamble, "Scope: %s\n", scopeID)
	}
	if len(contexts) > 0 {
		fmt.Fprintf(&preamble, "Contexts: %s\n", strings.Join(contexts, ", "))
	}
	if validAt != "" {
		fmt.Fprintf(&preamble, "Valid at: %s\n", validAt)
	}

	entityLines := renderEntityLines(entities, true)
	relLines := renderRelationshipLines(relationships, entities)
	docBlocks := renderDocumentBlocks(documents)

	for attempt := 0; ; attempt++ {
		out := assembleContext(preamble.String(), entityLines, relLines, docBlocks)
		if len(out) <= maxContextChars {
			return out
		}
		switch attempt {
		case 0:
			docBlocks = nil
		case 1:
			relLines = nil
		case 2:
			entityLines = renderEntityLines(entities, false)
		default:
			if len(out) > maxContextChars {
				out = out[:maxContextChars]
			}
			return out
		}
	}
}

func assembleContext(preamble string, entityLines, relLines []string, docBlocks []string) string {
	var b strings.Builder
	b.WriteString(preamble)
	if len(entityLines) > 0 {
		b.WriteString("\nENTITIES:\n")
		for _, l := range entityLines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	if len(relLines) > 0 {
		b.WriteString("\nRELATIONSHIPS:\n")
		for _, l := range relLines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	if len(docBlocks) > 0 {
		b.WriteString("\nSOURCE DOCUMENTS:\n")
		for _, d := range docBlocks {
			b.WriteString(d)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func renderEntityLines(entities []graphdb.Entity, withProps bool) []string {
	lines := make([]string, 0, len(entities))
	for i := range entities {
		e := &entities[i]
		line := fmt.Sprintf("- %s: %s", e.Label, e.Name())
		if withProps {
			if detail := salientProps(e.Properties); detail != "" {
				line += " (" + detail + ")"
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func renderRelationshipLines(relationships []graphdb.Relationship, entities []graphdb.Entity) []string {
	nameByID := make(map[string]string, len(entities))
	for i := range entities {
		nameByID[entities[i].ID] = entities[i].Name()
	}
	lines := make([]string, 0, len(relationships))
	for i := range relationships {
		r := &relationships[i]
		from, to := nameByID[r.From], nameByID[r.To]
		if from == "" {
			from = r.From
		}
		if to == "" {
			to = r.To
		}
		line := fmt.Sprintf("- %s --[%s]--> %s", from, r.Type, to)
		if detail := salientProps(r.Properties); detail != "" {
			line += " (" + detail + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

func renderDocumentBlocks(documents []graphdb.Document) []string {
	blocks := make([]string, 0, len(documents))
	for i := range documents {
		d := &documents[i]
		text := d.Text()
		if len(text) > 2000 {
			text = text[:2000] + "…"
		}
		blocks = append(blocks, fmt.Sprintf("--- document %d ---\n%s", i+1, text))
	}
	return blocks
}

// salientProps renders the non-reserved scalar properties, sorted by key.
func salientProps(props map[string]any) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		if k == "name" || strings.HasPrefix(k, "_") {
			continue
		}
		switch k {
		case graphdb.PropScopeID, graphdb.PropContextIDs, graphdb.PropEmbedding:
			continue
		}
		switch props[k].(type) {
		case string, bool, int, int64, float32, float64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, props[k])
	}
	return strings.Join(parts, ", ")
}
