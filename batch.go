package akasha

import (
	"context"

	"github.com/akasha-ai/akasha/events"
)

// BatchItem is one text in a batch ingestion, with per-item context and
// validity overrides.
type BatchItem struct {
	Text        string `json:"text"`
	ContextID   string `json:"contextId,omitempty"`
	ContextName string `json:"contextName,omitempty"`
	ValidFrom   string `json:"validFrom,omitempty"`
	ValidTo     string `json:"validTo,omitempty"`
}

// Texts wraps plain strings as batch items.
func Texts(texts ...string) []BatchItem {
	items := make([]BatchItem, len(texts))
	for i, t := range texts {
		items[i] = BatchItem{Text: t}
	}
	return items
}

// BatchError records one failed item. Index is the item's position in the
// input slice.
type BatchError struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total                     int `json:"total"`
	Succeeded                 int `json:"succeeded"`
	Failed                    int `json:"failed"`
	TotalDocumentsCreated     int `json:"totalDocumentsCreated"`
	TotalDocumentsReused      int `json:"totalDocumentsReused"`
	TotalEntitiesCreated      int `json:"totalEntitiesCreated"`
	TotalRelationshipsCreated int `json:"totalRelationshipsCreated"`
}

// BatchResult holds the per-item outcomes and the aggregate. Results only
// contains successful items; Errors only failed ones.
type BatchResult struct {
	Results []LearnResult `json:"results"`
	Summary BatchSummary  `json:"summary"`
	Errors  []BatchError  `json:"errors,omitempty"`
}

// LearnBatch ingests items sequentially. A failed item is recorded and the
// batch continues; the call itself only errors when the context is cancelled.
func (a *Akasha) LearnBatch(ctx context.Context, items []BatchItem, opts *LearnOptions) (*BatchResult, error) {
	if opts == nil {
		opts = &LearnOptions{}
	}
	scopeID := a.scopeID()
	out := &BatchResult{Summary: BatchSummary{Total: len(items)}}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		itemOpts := *opts
		if item.ContextID != "" {
			itemOpts.ContextID = item.ContextID
		}
		if item.ContextName != "" {
			itemOpts.ContextName = item.ContextName
		}
		if item.ValidFrom != "" {
			itemOpts.ValidFrom = item.ValidFrom
		}
		if item.ValidTo != "" {
			itemOpts.ValidTo = item.ValidTo
		}

		res, err := a.Learn(ctx, item.Text, &itemOpts)
		if err != nil {
			out.Summary.Failed++
			out.Errors = append(out.Errors, BatchError{Index: i, Text: item.Text, Error: err.Error()})
			a.logger.Warn("batch item failed", "index", i, "error", err)
		} else {
			out.Summary.Succeeded++
			out.Summary.TotalDocumentsCreated += res.Created.Document
			out.Summary.TotalDocumentsReused += 1 - res.Created.Document
			out.Summary.TotalEntitiesCreated += res.Created.Entities
			out.Summary.TotalRelationshipsCreated += res.Created.Relationships
			out.Results = append(out.Results, *res)
		}

		a.emitter.Emit(events.Event{
			Type: events.BatchProgress, ScopeID: scopeID,
			Progress: &events.Progress{
				Current:   i + 1,
				Total:     len(items),
				Completed: out.Summary.Succeeded,
				Failed:    out.Summary.Failed,
			},
		})
	}

	a.emitter.Emit(events.Event{
		Type: events.BatchCompleted, ScopeID: scopeID,
		Summary: map[string]any{
			"total":                     out.Summary.Total,
			"succeeded":                 out.Summary.Succeeded,
			"failed":                    out.Summary.Failed,
			"totalDocumentsCreated":     out.Summary.TotalDocumentsCreated,
			"totalDocumentsReused":      out.Summary.TotalDocumentsReused,
			"totalEntitiesCreated":      out.Summary.TotalEntitiesCreated,
			"totalRelationshipsCreated": out.Summary.TotalRelationshipsCreated,
		},
	})
	return out, nil
}
