// Package graphdb defines the property-graph data model and the provider
// contract every storage backend must satisfy. The engine core only touches
// persistent state through the Provider interface; backends live in the
// sqlite, neo4j, and memory subpackages.
package graphdb

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Reserved property names managed by the engine. They are written at creation
// time and are never writable through user update calls.
const (
	PropScopeID    = "scopeId"
	PropContextIDs = "contextIds"
	PropEmbedding  = "embedding"
	PropRecordedAt = "_recordedAt"
	PropValidFrom  = "_validFrom"
	PropValidTo    = "_validTo"
	PropSimilarity = "_similarity"
)

// DocumentLabel is the fixed label of document nodes.
const DocumentLabel = "Document"

// ContainsEntityType is the built-in relationship type linking a document to
// each entity extracted from it.
const ContainsEntityType = "CONTAINS_ENTITY"

// isoFormat is a fixed-width, Z-suffixed timestamp layout so that lexical
// order on stored values equals chronological order.
const isoFormat = "2006-01-02T15:04:05.000Z"

// Now returns the current UTC time in the canonical ISO-8601 form.
func Now() string {
	return time.Now().UTC().Format(isoFormat)
}

// NormalizeTime parses any RFC3339-style timestamp and re-renders it in the
// canonical form. Empty input stays empty.
func NormalizeTime(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Accept date-only inputs like "2024-01-01".
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return "", err
		}
	}
	return t.UTC().Format(isoFormat), nil
}

var (
	propertyKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	labelRe       = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	relTypeRe     = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

var reservedKeys = map[string]bool{
	PropScopeID:    true,
	PropContextIDs: true,
	PropEmbedding:  true,
	PropRecordedAt: true,
	PropValidFrom:  true,
	PropValidTo:    true,
	PropSimilarity: true,
}

// IsReservedKey reports whether a property name is engine-managed.
func IsReservedKey(k string) bool { return reservedKeys[k] }

// ValidPropertyKey reports whether k is an acceptable user property name:
// identifier-shaped and not reserved.
func ValidPropertyKey(k string) bool {
	return propertyKeyRe.MatchString(k) && !reservedKeys[k]
}

// ValidLabel reports whether a label is identifier-shaped with a leading
// uppercase letter.
func ValidLabel(l string) bool { return labelRe.MatchString(l) }

// ValidRelationshipType reports whether a relationship type is
// UPPER_SNAKE_CASE.
func ValidRelationshipType(t string) bool { return relTypeRe.MatchString(t) }

// NormalizeName lowercases and trims an entity name; this is the dedup key
// within a scope.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SanitizeUpdate returns a copy of props with reserved fields silently
// dropped, so user updates can never touch system metadata.
func SanitizeUpdate(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if reservedKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// Entity is a typed graph node with a human-meaningful name, embedding, and
// user properties. System metadata lives in Properties under the reserved
// names above.
type Entity struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// Relationship is a typed directed edge between two entities in one scope.
// No embedding is stored on relationships.
type Relationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties"`
}

// Document is a graph node holding verbatim source text plus its embedding.
type Document struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// Scope is a tenancy boundary: a tag on every write, a filter on every read.
type Scope struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Context is a logical label shared by documents and entities ingested
// together. Records may belong to many contexts simultaneously.
type Context struct {
	ID      string `json:"id"`
	ScopeID string `json:"scopeId,omitempty"`
	Name    string `json:"name,omitempty"`
	Source  string `json:"source"`
}

// --- property accessors ---

func stringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	s, _ := props[key].(string)
	return s
}

func stringSliceProp(props map[string]any, key string) []string {
	if props == nil {
		return nil
	}
	switch v := props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		// Legacy single-id context field: treat as a one-element set.
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Name returns the entity's display name property.
func (e *Entity) Name() string { return stringProp(e.Properties, "name") }

// ScopeID returns the entity's scope tag, or "" for unscoped records.
func (e *Entity) ScopeID() string { return stringProp(e.Properties, PropScopeID) }

// ContextIDs returns the context set, normalising the legacy scalar form.
func (e *Entity) ContextIDs() []string { return stringSliceProp(e.Properties, PropContextIDs) }

// Embedding returns the stored vector, if any.
func (e *Entity) Embedding() []float32 { return vectorProp(e.Properties) }

func (r *Relationship) ScopeID() string      { return stringProp(r.Properties, PropScopeID) }
func (r *Relationship) ContextIDs() []string { return stringSliceProp(r.Properties, PropContextIDs) }

// Text returns the verbatim source text (the dedup key within a scope).
func (d *Document) Text() string        { return stringProp(d.Properties, "text") }
func (d *Document) ScopeID() string     { return stringProp(d.Properties, PropScopeID) }
func (d *Document) ContextIDs() []string { return stringSliceProp(d.Properties, PropContextIDs) }
func (d *Document) Embedding() []float32 { return vectorProp(d.Properties) }

func vectorProp(props map[string]any) []float32 {
	if props == nil {
		return nil
	}
	switch v := props[PropEmbedding].(type) {
	case []float32:
		return v
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	}
	return nil
}

// AppendContext adds a context id to a property map's context set, keeping
// ids unique. Returns true when the set changed.
func AppendContext(props map[string]any, contextID string) bool {
	if contextID == "" {
		return false
	}
	existing := stringSliceProp(props, PropContextIDs)
	for _, id := range existing {
		if id == contextID {
			return false
		}
	}
	props[PropContextIDs] = append(existing, contextID)
	return true
}

// WithinValidity reports whether a record's temporal interval covers validAt.
// Records with no temporal metadata are treated as always valid. Comparisons
// are lexical, which matches chronological order for canonical timestamps.
func WithinValidity(props map[string]any, validAt string) bool {
	if validAt == "" {
		return true
	}
	from := stringProp(props, PropValidFrom)
	to := stringProp(props, PropValidTo)
	if from != "" && from > validAt {
		return false
	}
	if to != "" && to <= validAt {
		return false
	}
	return true
}

// MatchesContexts implements the strict context-filter semantics: a record
// with no contexts matches any filter (legacy records); otherwise the sets
// must intersect.
func MatchesContexts(props map[string]any, contexts []string) bool {
	if len(contexts) == 0 {
		return true
	}
	recorded := stringSliceProp(props, PropContextIDs)
	if len(recorded) == 0 {
		return true
	}
	for _, want := range contexts {
		for _, have := range recorded {
			if want == have {
				return true
			}
		}
	}
	return false
}

// CosineSimilarity computes the cosine similarity of two vectors. Mismatched
// or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EntityEmbeddingText builds the deterministic string an entity is embedded
// under: label, name, then displayable scalar properties in stable key order.
func EntityEmbeddingText(label, name string, props map[string]any) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(" ")
	b.WriteString(name)
	keys := make([]string, 0, len(props))
	for k, v := range props {
		if k == "name" || IsReservedKey(k) {
			continue
		}
		switch v.(type) {
		case string, bool, int, int64, float64, float32:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(fmt.Sprintf("%v", props[k])))
	}
	return b.String()
}

// --- provider contract ---

// VectorQuery parameterises a similarity search.
type VectorQuery struct {
	Limit     int
	Threshold float64
	ScopeID   string
	Contexts  []string
	ValidAt   string
}

// SubgraphQuery parameterises a bounded-depth expansion from seed entities.
// Empty label/type lists mean no whitelist.
type SubgraphQuery struct {
	EntityLabels      []string
	RelationshipTypes []string
	MaxDepth          int
	Limit             int
	StartEntityIDs    []string
	ScopeID           string
}

// Subgraph is the deduplicated result of an expansion.
type Subgraph struct {
	Entities      []Entity
	Relationships []Relationship
}

// ListQuery parameterises paginated listing.
type ListQuery struct {
	Label   string // entity label or relationship type filter
	FromID  string
	ToID    string
	Limit   int
	Offset  int
	ScopeID string
}

// DeleteResult reports the outcome of a delete.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// Provider is the only interface through which the engine touches persistent
// state. Implementations must enforce the dedup invariants (one document per
// (scope, text), one entity per (scope, lowercased name)), reject
// self-referential relationships, and cascade entity deletes to incident
// relationships and CONTAINS_ENTITY links.
type Provider interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	EnsureVectorIndexes(ctx context.Context) error

	FindEntitiesByVector(ctx context.Context, vector []float32, q VectorQuery) ([]Entity, error)
	FindDocumentsByVector(ctx context.Context, vector []float32, q VectorQuery) ([]Document, error)
	RetrieveSubgraph(ctx context.Context, q SubgraphQuery) (*Subgraph, error)

	CreateEntities(ctx context.Context, entities []Entity, embeddings [][]float32) ([]Entity, error)
	FindEntityByName(ctx context.Context, name, scopeID string) (*Entity, error)
	FindEntityByID(ctx context.Context, id, scopeID string) (*Entity, error)
	UpdateEntity(ctx context.Context, id string, props map[string]any, scopeID string) (*Entity, error)
	AppendEntityContext(ctx context.Context, id, contextID string) error
	DeleteEntity(ctx context.Context, id, scopeID string) (*DeleteResult, error)
	ListEntities(ctx context.Context, q ListQuery) ([]Entity, error)

	CreateRelationships(ctx context.Context, rels []Relationship) ([]Relationship, error)
	FindRelationshipByID(ctx context.Context, id, scopeID string) (*Relationship, error)
	UpdateRelationship(ctx context.Context, id string, props map[string]any, scopeID string) (*Relationship, error)
	DeleteRelationship(ctx context.Context, id, scopeID string) (*DeleteResult, error)
	ListRelationships(ctx context.Context, q ListQuery) ([]Relationship, error)

	CreateDocument(ctx context.Context, doc Document, embedding []float32) (*Document, error)
	FindDocumentByText(ctx context.Context, text, scopeID string) (*Document, error)
	FindDocumentByID(ctx context.Context, id, scopeID string) (*Document, error)
	UpdateDocument(ctx context.Context, id string, props map[string]any, scopeID string) (*Document, error)
	AppendDocumentContext(ctx context.Context, id, contextID string) error
	DeleteDocument(ctx context.Context, id, scopeID string) (*DeleteResult, error)
	ListDocuments(ctx context.Context, q ListQuery) ([]Document, error)

	LinkEntityToDocument(ctx context.Context, docID, entityID, scopeID string) (*Relationship, error)
	EntitiesFromDocuments(ctx context.Context, docIDs []string, scopeID string) ([]Entity, error)
}
