// Package sqlite implements the graphdb.Provider contract on an embedded
// SQLite database, with vector search served by sqlite-vec virtual tables.
// It needs cgo and registers the sqlite-vec extension at init.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/akasha-ai/akasha/graphdb"
)

func init() {
	sqlite_vec.Auto()
}

const defaultListLimit = 100

// Provider stores the graph in three tables plus two vec0 virtual tables
// keyed by rowid. Properties are serialized as JSON; embeddings live only in
// the vec tables.
type Provider struct {
	path         string
	embeddingDim int
	db           *sql.DB
}

// New creates a provider for a database file. Connect opens it.
func New(path string, embeddingDim int) *Provider {
	return &Provider{path: path, embeddingDim: embeddingDim}
}

func (p *Provider) Connect(ctx context.Context) error {
	dir := filepath.Dir(p.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: creating db directory: %v", graphdb.ErrDatabase, err)
		}
	}

	db, err := sql.Open("sqlite3", p.path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return fmt.Errorf("%w: opening database: %v", graphdb.ErrDatabase, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: pinging database: %v", graphdb.ErrDatabase, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL(p.embeddingDim)); err != nil {
		db.Close()
		return fmt.Errorf("%w: creating schema: %v", graphdb.ErrDatabase, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	p.db = db
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	if err != nil {
		return fmt.Errorf("%w: closing database: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

func (p *Provider) Ping(ctx context.Context) error {
	if p.db == nil {
		return fmt.Errorf("%w: not connected", graphdb.ErrDatabase)
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

// EnsureVectorIndexes is satisfied by schema creation; the vec0 tables are
// the indexes.
func (p *Provider) EnsureVectorIndexes(ctx context.Context) error {
	return p.Ping(ctx)
}

func (p *Provider) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func marshalProps(props map[string]any) (string, error) {
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("%w: encoding properties: %v", graphdb.ErrDatabase, err)
	}
	return string(b), nil
}

func unmarshalProps(raw string) (map[string]any, error) {
	props := make(map[string]any)
	if raw == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("%w: decoding properties: %v", graphdb.ErrDatabase, err)
	}
	return props, nil
}

// --- entities ---

func (p *Provider) CreateEntities(ctx context.Context, entities []graphdb.Entity, embeddings [][]float32) ([]graphdb.Entity, error) {
	if len(embeddings) != 0 && len(embeddings) != len(entities) {
		return nil, fmt.Errorf("%w: %d embeddings for %d entities", graphdb.ErrDatabase, len(embeddings), len(entities))
	}

	out := make([]graphdb.Entity, 0, len(entities))
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		for i, e := range entities {
			if !graphdb.ValidLabel(e.Label) {
				return fmt.Errorf("%w: label %q", graphdb.ErrInvalidIdentifier, e.Label)
			}
			existing, err := findEntityByNameTx(tx, ctx, e.Name(), e.ScopeID())
			if err != nil && !errors.Is(err, graphdb.ErrNotFound) {
				return err
			}
			if existing != nil {
				out = append(out, *existing)
				continue
			}

			id := uuid.NewString()
			propsJSON, err := marshalProps(e.Properties)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO entities (id, label, name_norm, scope_id, properties)
				VALUES (?, ?, ?, ?, ?)`,
				id, e.Label, graphdb.NormalizeName(e.Name()), e.ScopeID(), propsJSON)
			if err != nil {
				return fmt.Errorf("%w: inserting entity: %v", graphdb.ErrDatabase, err)
			}
			if len(embeddings) > 0 && len(embeddings[i]) > 0 {
				rowid, err := res.LastInsertId()
				if err != nil {
					return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT OR REPLACE INTO entity_vectors (entity_rowid, embedding) VALUES (?, ?)",
					rowid, serializeFloat32(embeddings[i])); err != nil {
					return fmt.Errorf("%w: inserting entity embedding: %v", graphdb.ErrDatabase, err)
				}
			}
			stored := graphdb.Entity{ID: id, Label: e.Label, Properties: e.Properties}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanEntity(row *sql.Row) (*graphdb.Entity, error) {
	var e graphdb.Entity
	var propsJSON string
	var embedding []byte
	if err := row.Scan(&e.ID, &e.Label, &propsJSON, &embedding); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, graphdb.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	props, err := unmarshalProps(propsJSON)
	if err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
	}
	e.Properties = props
	return &e, nil
}

const entitySelect = `
	SELECT e.id, e.label, e.properties, v.embedding
	FROM entities e
	LEFT JOIN entity_vectors v ON v.entity_rowid = e.rowid`

func findEntityByNameTx(q rowQuerier, ctx context.Context, name, scopeID string) (*graphdb.Entity, error) {
	row := q.QueryRowContext(ctx, entitySelect+`
		WHERE e.name_norm = ? AND e.scope_id = ?`,
		graphdb.NormalizeName(name), scopeID)
	return scanEntity(row)
}

func (p *Provider) FindEntityByName(ctx context.Context, name, scopeID string) (*graphdb.Entity, error) {
	return findEntityByNameTx(p.db, ctx, name, scopeID)
}

func (p *Provider) FindEntityByID(ctx context.Context, id, scopeID string) (*graphdb.Entity, error) {
	row := p.db.QueryRowContext(ctx, entitySelect+`
		WHERE e.id = ? AND (? = '' OR e.scope_id = ?)`, id, scopeID, scopeID)
	return scanEntity(row)
}

func (p *Provider) UpdateEntity(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Entity, error) {
	current, err := p.FindEntityByID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}
	delete(current.Properties, graphdb.PropEmbedding)
	for k, v := range graphdb.SanitizeUpdate(props) {
		current.Properties[k] = v
	}
	propsJSON, err := marshalProps(current.Properties)
	if err != nil {
		return nil, err
	}
	if _, err := p.db.ExecContext(ctx,
		"UPDATE entities SET properties = ?, name_norm = ? WHERE id = ?",
		propsJSON, graphdb.NormalizeName(current.Name()), id); err != nil {
		return nil, fmt.Errorf("%w: updating entity: %v", graphdb.ErrDatabase, err)
	}
	return current, nil
}

func (p *Provider) AppendEntityContext(ctx context.Context, id, contextID string) error {
	current, err := p.FindEntityByID(ctx, id, "")
	if err != nil {
		return err
	}
	delete(current.Properties, graphdb.PropEmbedding)
	if !graphdb.AppendContext(current.Properties, contextID) {
		return nil
	}
	propsJSON, err := marshalProps(current.Properties)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx,
		"UPDATE entities SET properties = ? WHERE id = ?", propsJSON, id); err != nil {
		return fmt.Errorf("%w: appending entity context: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

func (p *Provider) DeleteEntity(ctx context.Context, id, scopeID string) (*graphdb.DeleteResult, error) {
	current, err := p.FindEntityByID(ctx, id, "")
	if errors.Is(err, graphdb.ErrNotFound) {
		return &graphdb.DeleteResult{Deleted: false, Message: "entity not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}

	err = p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM entity_vectors WHERE entity_rowid = (SELECT rowid FROM entities WHERE id = ?)", id); err != nil {
			return fmt.Errorf("%w: deleting entity embedding: %v", graphdb.ErrDatabase, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM relationships WHERE from_id = ? OR to_id = ?", id, id); err != nil {
			return fmt.Errorf("%w: deleting incident relationships: %v", graphdb.ErrDatabase, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id); err != nil {
			return fmt.Errorf("%w: deleting entity: %v", graphdb.ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "entity and incident relationships deleted"}, nil
}

func (p *Provider) ListEntities(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Entity, error) {
	limit, offset := pageBounds(q.Limit, q.Offset)
	rows, err := p.db.QueryContext(ctx, entitySelect+`
		WHERE (? = '' OR e.scope_id = ?) AND (? = '' OR e.label = ?)
		ORDER BY e.rowid
		LIMIT ? OFFSET ?`,
		q.ScopeID, q.ScopeID, q.Label, q.Label, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing entities: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()

	var out []graphdb.Entity
	for rows.Next() {
		var e graphdb.Entity
		var propsJSON string
		var embedding []byte
		if err := rows.Scan(&e.ID, &e.Label, &propsJSON, &embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}
		props, err := unmarshalProps(propsJSON)
		if err != nil {
			return nil, err
		}
		if len(embedding) > 0 {
			props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
		}
		e.Properties = props
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- vector search ---

func (p *Provider) FindEntitiesByVector(ctx context.Context, vector []float32, q graphdb.VectorQuery) ([]graphdb.Entity, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	// KNN runs before the scope/context filters, so over-fetch and trim.
	k := limit * 4
	if k < 50 {
		k = 50
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.label, e.properties, v.distance, v.embedding
		FROM entity_vectors v
		JOIN entities e ON e.rowid = v.entity_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		serializeFloat32(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: entity vector search: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()

	var out []graphdb.Entity
	for rows.Next() {
		var e graphdb.Entity
		var propsJSON string
		var distance float64
		var embedding []byte
		if err := rows.Scan(&e.ID, &e.Label, &propsJSON, &distance, &embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}
		props, err := unmarshalProps(propsJSON)
		if err != nil {
			return nil, err
		}
		similarity := 1.0 - distance
		if !keepVectorHit(props, similarity, q) {
			continue
		}
		props[graphdb.PropSimilarity] = similarity
		if len(embedding) > 0 {
			props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
		}
		e.Properties = props
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (p *Provider) FindDocumentsByVector(ctx context.Context, vector []float32, q graphdb.VectorQuery) ([]graphdb.Document, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	k := limit * 4
	if k < 50 {
		k = 50
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.properties, v.distance, v.embedding
		FROM document_vectors v
		JOIN documents d ON d.rowid = v.document_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		serializeFloat32(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: document vector search: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()

	var out []graphdb.Document
	for rows.Next() {
		var d graphdb.Document
		var propsJSON string
		var distance float64
		var embedding []byte
		if err := rows.Scan(&d.ID, &propsJSON, &distance, &embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}
		props, err := unmarshalProps(propsJSON)
		if err != nil {
			return nil, err
		}
		similarity := 1.0 - distance
		if !keepVectorHit(props, similarity, q) {
			continue
		}
		props[graphdb.PropSimilarity] = similarity
		if len(embedding) > 0 {
			props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
		}
		d.Label = graphdb.DocumentLabel
		d.Properties = props
		out = append(out, d)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func keepVectorHit(props map[string]any, similarity float64, q graphdb.VectorQuery) bool {
	if similarity < q.Threshold {
		return false
	}
	if q.ScopeID != "" {
		if scope, _ := props[graphdb.PropScopeID].(string); scope != q.ScopeID {
			return false
		}
	}
	return graphdb.MatchesContexts(props, q.Contexts) && graphdb.WithinValidity(props, q.ValidAt)
}

// --- subgraph ---

func (p *Provider) RetrieveSubgraph(ctx context.Context, q graphdb.SubgraphQuery) (*graphdb.Subgraph, error) {
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

	sub := &graphdb.Subgraph{}
	visited := make(map[string]bool)
	relSeen := make(map[string]bool)

	var frontier []string
	for _, id := range q.StartEntityIDs {
		e, err := p.FindEntityByID(ctx, id, q.ScopeID)
		if errors.Is(err, graphdb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !labelOK(e.Label) || visited[e.ID] {
			continue
		}
		visited[e.ID] = true
		sub.Entities = append(sub.Entities, *e)
		frontier = append(frontier, e.ID)
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0 && len(sub.Entities) < limit; depth++ {
		var next []string
		for _, id := range frontier {
			rels, err := p.incidentRelationships(ctx, id, q.ScopeID)
			if err != nil {
				return nil, err
			}
			for _, r := range rels {
				if relSeen[r.ID] || !typeOK(r.Type) {
					continue
				}
				neighborID := r.To
				if neighborID == id {
					neighborID = r.From
				}
				if visited[neighborID] {
					relSeen[r.ID] = true
					sub.Relationships = append(sub.Relationships, r)
					continue
				}
				if len(sub.Entities) >= limit {
					break
				}
				e, err := p.FindEntityByID(ctx, neighborID, q.ScopeID)
				if errors.Is(err, graphdb.ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, err
				}
				if !labelOK(e.Label) {
					continue
				}
				visited[e.ID] = true
				relSeen[r.ID] = true
				sub.Entities = append(sub.Entities, *e)
				sub.Relationships = append(sub.Relationships, r)
				next = append(next, e.ID)
			}
		}
		frontier = next
	}

	return sub, nil
}

func (p *Provider) incidentRelationships(ctx context.Context, entityID, scopeID string) ([]graphdb.Relationship, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, from_id, to_id, properties
		FROM relationships
		WHERE (from_id = ? OR to_id = ?) AND (? = '' OR scope_id = ?)
		ORDER BY rowid`,
		entityID, entityID, scopeID, scopeID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading incident relationships: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// --- relationships ---

func scanRelationships(rows *sql.Rows) ([]graphdb.Relationship, error) {
	var out []graphdb.Relationship
	for rows.Next() {
		var r graphdb.Relationship
		var propsJSON string
		if err := rows.Scan(&r.ID, &r.Type, &r.From, &r.To, &propsJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}
		props, err := unmarshalProps(propsJSON)
		if err != nil {
			return nil, err
		}
		r.Properties = props
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Provider) CreateRelationships(ctx context.Context, rels []graphdb.Relationship) ([]graphdb.Relationship, error) {
	out := make([]graphdb.Relationship, 0, len(rels))
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rels {
			if !graphdb.ValidRelationshipType(r.Type) {
				return fmt.Errorf("%w: relationship type %q", graphdb.ErrInvalidIdentifier, r.Type)
			}
			if r.From == r.To {
				return fmt.Errorf("%w: %s", graphdb.ErrSelfReference, r.From)
			}

			var existingID, existingProps string
			err := tx.QueryRowContext(ctx, `
				SELECT id, properties FROM relationships
				WHERE from_id = ? AND to_id = ? AND type = ? AND scope_id = ?`,
				r.From, r.To, r.Type, r.ScopeID()).Scan(&existingID, &existingProps)
			switch {
			case err == nil:
				props, err := unmarshalProps(existingProps)
				if err != nil {
					return err
				}
				changed := false
				for _, cid := range r.ContextIDs() {
					if graphdb.AppendContext(props, cid) {
						changed = true
					}
				}
				if changed {
					propsJSON, err := marshalProps(props)
					if err != nil {
						return err
					}
					if _, err := tx.ExecContext(ctx,
						"UPDATE relationships SET properties = ? WHERE id = ?", propsJSON, existingID); err != nil {
						return fmt.Errorf("%w: merging relationship: %v", graphdb.ErrDatabase, err)
					}
				}
				out = append(out, graphdb.Relationship{ID: existingID, Type: r.Type, From: r.From, To: r.To, Properties: props})
				continue
			case errors.Is(err, sql.ErrNoRows):
				// fall through to insert
			default:
				return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
			}

			id := uuid.NewString()
			propsJSON, err := marshalProps(r.Properties)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO relationships (id, type, from_id, to_id, scope_id, properties)
				VALUES (?, ?, ?, ?, ?, ?)`,
				id, r.Type, r.From, r.To, r.ScopeID(), propsJSON); err != nil {
				return fmt.Errorf("%w: inserting relationship: %v", graphdb.ErrDatabase, err)
			}
			r.ID = id
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) FindRelationshipByID(ctx context.Context, id, scopeID string) (*graphdb.Relationship, error) {
	var r graphdb.Relationship
	var propsJSON string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, type, from_id, to_id, properties FROM relationships
		WHERE id = ? AND (? = '' OR scope_id = ?)`, id, scopeID, scopeID).
		Scan(&r.ID, &r.Type, &r.From, &r.To, &propsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graphdb.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	props, err := unmarshalProps(propsJSON)
	if err != nil {
		return nil, err
	}
	r.Properties = props
	return &r, nil
}

func (p *Provider) UpdateRelationship(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Relationship, error) {
	current, err := p.FindRelationshipByID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}
	for k, v := range graphdb.SanitizeUpdate(props) {
		current.Properties[k] = v
	}
	propsJSON, err := marshalProps(current.Properties)
	if err != nil {
		return nil, err
	}
	if _, err := p.db.ExecContext(ctx,
		"UPDATE relationships SET properties = ? WHERE id = ?", propsJSON, id); err != nil {
		return nil, fmt.Errorf("%w: updating relationship: %v", graphdb.ErrDatabase, err)
	}
	return current, nil
}

func (p *Provider) DeleteRelationship(ctx context.Context, id, scopeID string) (*graphdb.DeleteResult, error) {
	current, err := p.FindRelationshipByID(ctx, id, "")
	if errors.Is(err, graphdb.ErrNotFound) {
		return &graphdb.DeleteResult{Deleted: false, Message: "relationship not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}
	if _, err := p.db.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("%w: deleting relationship: %v", graphdb.ErrDatabase, err)
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "relationship deleted"}, nil
}

func (p *Provider) ListRelationships(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Relationship, error) {
	limit, offset := pageBounds(q.Limit, q.Offset)
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, from_id, to_id, properties
		FROM relationships
		WHERE (? = '' OR scope_id = ?) AND (? = '' OR type = ?)
			AND (? = '' OR from_id = ?) AND (? = '' OR to_id = ?)
		ORDER BY rowid
		LIMIT ? OFFSET ?`,
		q.ScopeID, q.ScopeID, q.Label, q.Label, q.FromID, q.FromID, q.ToID, q.ToID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing relationships: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()
	return scanRelationships(rows)
}

// --- documents ---

const documentSelect = `
	SELECT d.id, d.properties, v.embedding
	FROM documents d
	LEFT JOIN document_vectors v ON v.document_rowid = d.rowid`

func scanDocument(row *sql.Row) (*graphdb.Document, error) {
	var d graphdb.Document
	var propsJSON string
	var embedding []byte
	if err := row.Scan(&d.ID, &propsJSON, &embedding); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, graphdb.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	props, err := unmarshalProps(propsJSON)
	if err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
	}
	d.Label = graphdb.DocumentLabel
	d.Properties = props
	return &d, nil
}

func (p *Provider) CreateDocument(ctx context.Context, doc graphdb.Document, embedding []float32) (*graphdb.Document, error) {
	var out *graphdb.Document
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var existingID, existingProps string
		err := tx.QueryRowContext(ctx,
			"SELECT id, properties FROM documents WHERE scope_id = ? AND text = ?",
			doc.ScopeID(), doc.Text()).Scan(&existingID, &existingProps)
		switch {
		case err == nil:
			props, err := unmarshalProps(existingProps)
			if err != nil {
				return err
			}
			changed := false
			for _, cid := range doc.ContextIDs() {
				if graphdb.AppendContext(props, cid) {
					changed = true
				}
			}
			if changed {
				propsJSON, err := marshalProps(props)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					"UPDATE documents SET properties = ? WHERE id = ?", propsJSON, existingID); err != nil {
					return fmt.Errorf("%w: merging document: %v", graphdb.ErrDatabase, err)
				}
			}
			out = &graphdb.Document{ID: existingID, Label: graphdb.DocumentLabel, Properties: props}
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}

		id := uuid.NewString()
		propsJSON, err := marshalProps(doc.Properties)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO documents (id, text, scope_id, properties) VALUES (?, ?, ?, ?)",
			id, doc.Text(), doc.ScopeID(), propsJSON)
		if err != nil {
			return fmt.Errorf("%w: inserting document: %v", graphdb.ErrDatabase, err)
		}
		if len(embedding) > 0 {
			rowid, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO document_vectors (document_rowid, embedding) VALUES (?, ?)",
				rowid, serializeFloat32(embedding)); err != nil {
				return fmt.Errorf("%w: inserting document embedding: %v", graphdb.ErrDatabase, err)
			}
		}
		out = &graphdb.Document{ID: id, Label: graphdb.DocumentLabel, Properties: doc.Properties}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) FindDocumentByText(ctx context.Context, text, scopeID string) (*graphdb.Document, error) {
	row := p.db.QueryRowContext(ctx, documentSelect+`
		WHERE d.text = ? AND d.scope_id = ?`, text, scopeID)
	return scanDocument(row)
}

func (p *Provider) FindDocumentByID(ctx context.Context, id, scopeID string) (*graphdb.Document, error) {
	row := p.db.QueryRowContext(ctx, documentSelect+`
		WHERE d.id = ? AND (? = '' OR d.scope_id = ?)`, id, scopeID, scopeID)
	return scanDocument(row)
}

func (p *Provider) UpdateDocument(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Document, error) {
	current, err := p.FindDocumentByID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}
	delete(current.Properties, graphdb.PropEmbedding)
	for k, v := range graphdb.SanitizeUpdate(props) {
		current.Properties[k] = v
	}
	propsJSON, err := marshalProps(current.Properties)
	if err != nil {
		return nil, err
	}
	if _, err := p.db.ExecContext(ctx,
		"UPDATE documents SET properties = ?, text = ? WHERE id = ?",
		propsJSON, current.Text(), id); err != nil {
		return nil, fmt.Errorf("%w: updating document: %v", graphdb.ErrDatabase, err)
	}
	return current, nil
}

func (p *Provider) AppendDocumentContext(ctx context.Context, id, contextID string) error {
	current, err := p.FindDocumentByID(ctx, id, "")
	if err != nil {
		return err
	}
	delete(current.Properties, graphdb.PropEmbedding)
	if !graphdb.AppendContext(current.Properties, contextID) {
		return nil
	}
	propsJSON, err := marshalProps(current.Properties)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx,
		"UPDATE documents SET properties = ? WHERE id = ?", propsJSON, id); err != nil {
		return fmt.Errorf("%w: appending document context: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

func (p *Provider) DeleteDocument(ctx context.Context, id, scopeID string) (*graphdb.DeleteResult, error) {
	current, err := p.FindDocumentByID(ctx, id, "")
	if errors.Is(err, graphdb.ErrNotFound) {
		return &graphdb.DeleteResult{Deleted: false, Message: "document not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}

	err = p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM document_vectors WHERE document_rowid = (SELECT rowid FROM documents WHERE id = ?)", id); err != nil {
			return fmt.Errorf("%w: deleting document embedding: %v", graphdb.ErrDatabase, err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM relationships WHERE type = ? AND from_id = ?",
			graphdb.ContainsEntityType, id); err != nil {
			return fmt.Errorf("%w: deleting document links: %v", graphdb.ErrDatabase, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("%w: deleting document: %v", graphdb.ErrDatabase, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "document and entity links deleted"}, nil
}

func (p *Provider) ListDocuments(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Document, error) {
	limit, offset := pageBounds(q.Limit, q.Offset)
	rows, err := p.db.QueryContext(ctx, documentSelect+`
		WHERE (? = '' OR d.scope_id = ?)
		ORDER BY d.rowid
		LIMIT ? OFFSET ?`,
		q.ScopeID, q.ScopeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()

	var out []graphdb.Document
	for rows.Next() {
		var d graphdb.Document
		var propsJSON string
		var embedding []byte
		if err := rows.Scan(&d.ID, &propsJSON, &embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}
		props, err := unmarshalProps(propsJSON)
		if err != nil {
			return nil, err
		}
		if len(embedding) > 0 {
			props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
		}
		d.Label = graphdb.DocumentLabel
		d.Properties = props
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- links ---

func (p *Provider) LinkEntityToDocument(ctx context.Context, docID, entityID, scopeID string) (*graphdb.Relationship, error) {
	if _, err := p.FindDocumentByID(ctx, docID, ""); err != nil {
		return nil, err
	}
	if _, err := p.FindEntityByID(ctx, entityID, ""); err != nil {
		return nil, err
	}

	var existingID, existingProps string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, properties FROM relationships
		WHERE from_id = ? AND to_id = ? AND type = ? AND scope_id = ?`,
		docID, entityID, graphdb.ContainsEntityType, scopeID).Scan(&existingID, &existingProps)
	if err == nil {
		props, err := unmarshalProps(existingProps)
		if err != nil {
			return nil, err
		}
		return &graphdb.Relationship{
			ID: existingID, Type: graphdb.ContainsEntityType,
			From: docID, To: entityID, Properties: props,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}

	props := map[string]any{
		graphdb.PropScopeID:    scopeID,
		graphdb.PropRecordedAt: graphdb.Now(),
	}
	propsJSON, err := marshalProps(props)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO relationships (id, type, from_id, to_id, scope_id, properties)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, graphdb.ContainsEntityType, docID, entityID, scopeID, propsJSON); err != nil {
		return nil, fmt.Errorf("%w: linking entity to document: %v", graphdb.ErrDatabase, err)
	}
	return &graphdb.Relationship{
		ID: id, Type: graphdb.ContainsEntityType,
		From: docID, To: entityID, Properties: props,
	}, nil
}

func (p *Provider) EntitiesFromDocuments(ctx context.Context, docIDs []string, scopeID string) ([]graphdb.Entity, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(docIDs)+3)
	args = append(args, graphdb.ContainsEntityType)
	for _, id := range docIDs {
		args = append(args, id)
	}
	args = append(args, scopeID, scopeID)

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT e.id, e.label, e.properties, v.embedding
		FROM relationships r
		JOIN entities e ON e.id = r.to_id
		LEFT JOIN entity_vectors v ON v.entity_rowid = e.rowid
		WHERE r.type = ? AND r.from_id IN (?%s) AND (? = '' OR r.scope_id = ?)
		ORDER BY e.rowid`, repeatPlaceholders(len(docIDs)-1)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading document entities: %v", graphdb.ErrDatabase, err)
	}
	defer rows.Close()

	var out []graphdb.Entity
	for rows.Next() {
		var e graphdb.Entity
		var propsJSON string
		var embedding []byte
		if err := rows.Scan(&e.ID, &e.Label, &propsJSON, &embedding); err != nil {
			return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
		}
		props, err := unmarshalProps(propsJSON)
		if err != nil {
			return nil, err
		}
		if len(embedding) > 0 {
			props[graphdb.PropEmbedding] = deserializeFloat32(embedding)
		}
		e.Properties = props
		out = append(out, e)
	}
	return out, rows.Err()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
