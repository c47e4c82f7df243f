// Package neo4j implements the graphdb.Provider contract on a Neo4j server
// (v5+, vector indexes required). All user-supplied strings travel as bind
// parameters; labels and relationship types are interpolated only after
// passing the identifier whitelist.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/akasha-ai/akasha/graphdb"
)

const (
	defaultDatabase  = "neo4j"
	defaultListLimit = 100

	entityIndexName   = "akasha_entity_embeddings"
	documentIndexName = "akasha_document_embeddings"

	// nameNormProp holds the lowercased name used as the dedup key.
	nameNormProp = "_nameNorm"
)

// Provider talks to Neo4j through a single driver.
type Provider struct {
	uri          string
	username     string
	password     string
	database     string
	embeddingDim int

	driver neo4j.DriverWithContext
}

// Config carries the connection settings.
type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	EmbeddingDim int
}

// New creates a provider; Connect dials the server.
func New(cfg Config) *Provider {
	db := cfg.Database
	if db == "" {
		db = defaultDatabase
	}
	return &Provider{
		uri:          cfg.URI,
		username:     cfg.Username,
		password:     cfg.Password,
		database:     db,
		embeddingDim: cfg.EmbeddingDim,
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(p.uri, neo4j.BasicAuth(p.username, p.password, ""))
	if err != nil {
		return fmt.Errorf("%w: creating driver: %v", graphdb.ErrDatabase, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return fmt.Errorf("%w: verifying connectivity: %v", graphdb.ErrDatabase, err)
	}
	p.driver = driver
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	if p.driver == nil {
		return nil
	}
	err := p.driver.Close(ctx)
	p.driver = nil
	if err != nil {
		return fmt.Errorf("%w: closing driver: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

func (p *Provider) Ping(ctx context.Context) error {
	if p.driver == nil {
		return fmt.Errorf("%w: not connected", graphdb.ErrDatabase)
	}
	if err := p.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	return nil
}

// EnsureVectorIndexes creates the entity and document vector indexes when
// absent. Entity embeddings live on a shared secondary label so one index
// covers every entity label.
func (p *Provider) EnsureVectorIndexes(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
			FOR (e:AkashaEntity) ON (e.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			entityIndexName, p.embeddingDim),
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
			FOR (d:Document) ON (d.embedding)
			OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			documentIndexName, p.embeddingDim),
	}
	for _, stmt := range stmts {
		if _, err := p.run(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, p.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(p.database))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graphdb.ErrDatabase, err)
	}
	return result, nil
}

// --- property conversion ---

// writeProps prepares a property map for storage: embeddings become float64
// lists, everything else passes through.
func writeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if vec, ok := v.([]float32); ok {
			f64 := make([]float64, len(vec))
			for i, f := range vec {
				f64[i] = float64(f)
			}
			out[k] = f64
			continue
		}
		out[k] = v
	}
	return out
}

// readProps normalizes a node's stored properties back to the engine's
// shapes and strips the internal dedup key.
func readProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == nameNormProp {
			continue
		}
		switch vv := v.(type) {
		case []any:
			if k == graphdb.PropEmbedding {
				vec := make([]float32, 0, len(vv))
				for _, e := range vv {
					if f, ok := e.(float64); ok {
						vec = append(vec, float32(f))
					}
				}
				out[k] = vec
				continue
			}
			out[k] = vv
		case []float64:
			if k == graphdb.PropEmbedding {
				vec := make([]float32, len(vv))
				for i, f := range vv {
					vec[i] = float32(f)
				}
				out[k] = vec
				continue
			}
			out[k] = vv
		default:
			out[k] = v
		}
	}
	return out
}

func nodeToEntity(node neo4j.Node) graphdb.Entity {
	label := ""
	for _, l := range node.Labels {
		if l != "AkashaEntity" {
			label = l
			break
		}
	}
	return graphdb.Entity{
		ID:         stringFrom(node.Props, "id"),
		Label:      label,
		Properties: readProps(node.Props),
	}
}

func nodeToDocument(node neo4j.Node) graphdb.Document {
	return graphdb.Document{
		ID:         stringFrom(node.Props, "id"),
		Label:      graphdb.DocumentLabel,
		Properties: readProps(node.Props),
	}
}

func stringFrom(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func nodeValue(record *neo4j.Record, key string) (neo4j.Node, bool) {
	v, ok := record.Get(key)
	if !ok {
		return neo4j.Node{}, false
	}
	node, ok := v.(neo4j.Node)
	return node, ok
}

// --- entities ---

func (p *Provider) CreateEntities(ctx context.Context, entities []graphdb.Entity, embeddings [][]float32) ([]graphdb.Entity, error) {
	if len(embeddings) != 0 && len(embeddings) != len(entities) {
		return nil, fmt.Errorf("%w: %d embeddings for %d entities", graphdb.ErrDatabase, len(embeddings), len(entities))
	}

	out := make([]graphdb.Entity, 0, len(entities))
	for i, e := range entities {
		if !graphdb.ValidLabel(e.Label) {
			return nil, fmt.Errorf("%w: label %q", graphdb.ErrInvalidIdentifier, e.Label)
		}

		existing, err := p.FindEntityByName(ctx, e.Name(), e.ScopeID())
		if err != nil && !errors.Is(err, graphdb.ErrNotFound) {
			return nil, err
		}
		if existing != nil {
			out = append(out, *existing)
			continue
		}

		props := writeProps(e.Properties)
		props["id"] = uuid.NewString()
		props[nameNormProp] = graphdb.NormalizeName(e.Name())
		if len(embeddings) > 0 && len(embeddings[i]) > 0 {
			props[graphdb.PropEmbedding] = writeProps(map[string]any{graphdb.PropEmbedding: embeddings[i]})[graphdb.PropEmbedding]
		}

		result, err := p.run(ctx,
			fmt.Sprintf("CREATE (e:%s:AkashaEntity) SET e = $props RETURN e", e.Label),
			map[string]any{"props": props})
		if err != nil {
			return nil, err
		}
		if len(result.Records) == 0 {
			return nil, fmt.Errorf("%w: create returned no node", graphdb.ErrDatabase)
		}
		node, _ := nodeValue(result.Records[0], "e")
		out = append(out, nodeToEntity(node))
	}
	return out, nil
}

func (p *Provider) FindEntityByName(ctx context.Context, name, scopeID string) (*graphdb.Entity, error) {
	result, err := p.run(ctx, `
		MATCH (e:AkashaEntity)
		WHERE e.`+nameNormProp+` = $norm AND coalesce(e.scopeId, '') = $scope
		RETURN e LIMIT 1`,
		map[string]any{"norm": graphdb.NormalizeName(name), "scope": scopeID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	node, _ := nodeValue(result.Records[0], "e")
	e := nodeToEntity(node)
	return &e, nil
}

func (p *Provider) FindEntityByID(ctx context.Context, id, scopeID string) (*graphdb.Entity, error) {
	result, err := p.run(ctx, `
		MATCH (e:AkashaEntity {id: $id})
		WHERE $scope = '' OR coalesce(e.scopeId, '') = $scope
		RETURN e LIMIT 1`,
		map[string]any{"id": id, "scope": scopeID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	node, _ := nodeValue(result.Records[0], "e")
	e := nodeToEntity(node)
	return &e, nil
}

func (p *Provider) UpdateEntity(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Entity, error) {
	current, err := p.FindEntityByID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}

	clean := graphdb.SanitizeUpdate(props)
	params := map[string]any{"id": id, "props": writeProps(clean)}
	cypher := "MATCH (e:AkashaEntity {id: $id}) SET e += $props"
	if name, ok := clean["name"].(string); ok {
		cypher += ", e." + nameNormProp + " = $norm"
		params["norm"] = graphdb.NormalizeName(name)
	}
	cypher += " RETURN e"

	result, err := p.run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	node, _ := nodeValue(result.Records[0], "e")
	e := nodeToEntity(node)
	return &e, nil
}

func (p *Provider) AppendEntityContext(ctx context.Context, id, contextID string) error {
	if contextID == "" {
		return nil
	}
	result, err := p.run(ctx, `
		MATCH (e:AkashaEntity {id: $id})
		SET e.contextIds = CASE
			WHEN e.contextIds IS NULL THEN [$cid]
			WHEN $cid IN e.contextIds THEN e.contextIds
			ELSE e.contextIds + $cid
		END
		RETURN e.id`,
		map[string]any{"id": id, "cid": contextID})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return graphdb.ErrNotFound
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

	// DETACH DELETE removes incident relationships with the node.
	if _, err := p.run(ctx,
		"MATCH (e:AkashaEntity {id: $id}) DETACH DELETE e",
		map[string]any{"id": id}); err != nil {
		return nil, err
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "entity and incident relationships deleted"}, nil
}

func (p *Provider) ListEntities(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Entity, error) {
	match := "MATCH (e:AkashaEntity)"
	if q.Label != "" {
		if !graphdb.ValidLabel(q.Label) {
			return nil, fmt.Errorf("%w: label %q", graphdb.ErrInvalidIdentifier, q.Label)
		}
		match = fmt.Sprintf("MATCH (e:%s:AkashaEntity)", q.Label)
	}
	limit, offset := pageBounds(q.Limit, q.Offset)
	result, err := p.run(ctx, match+`
		WHERE $scope = '' OR coalesce(e.scopeId, '') = $scope
		RETURN e ORDER BY e.id SKIP $offset LIMIT $limit`,
		map[string]any{"scope": q.ScopeID, "offset": offset, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]graphdb.Entity, 0, len(result.Records))
	for _, rec := range result.Records {
		node, ok := nodeValue(rec, "e")
		if !ok {
			continue
		}
		out = append(out, nodeToEntity(node))
	}
	return out, nil
}

// --- vector search ---

func (p *Provider) FindEntitiesByVector(ctx context.Context, vector []float32, q graphdb.VectorQuery) ([]graphdb.Entity, error) {
	nodes, scores, err := p.queryVectorIndex(ctx, entityIndexName, vector, q)
	if err != nil {
		return nil, err
	}
	out := make([]graphdb.Entity, 0, len(nodes))
	for i, node := range nodes {
		e := nodeToEntity(node)
		e.Properties[graphdb.PropSimilarity] = scores[i]
		out = append(out, e)
	}
	return out, nil
}

func (p *Provider) FindDocumentsByVector(ctx context.Context, vector []float32, q graphdb.VectorQuery) ([]graphdb.Document, error) {
	nodes, scores, err := p.queryVectorIndex(ctx, documentIndexName, vector, q)
	if err != nil {
		return nil, err
	}
	out := make([]graphdb.Document, 0, len(nodes))
	for i, node := range nodes {
		d := nodeToDocument(node)
		d.Properties[graphdb.PropSimilarity] = scores[i]
		out = append(out, d)
	}
	return out, nil
}

func (p *Provider) queryVectorIndex(ctx context.Context, index string, vector []float32, q graphdb.VectorQuery) ([]neo4j.Node, []float64, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	// The index query runs before the scope filter, so over-fetch and trim.
	k := limit * 4
	if k < 50 {
		k = 50
	}

	f64 := make([]float64, len(vector))
	for i, f := range vector {
		f64[i] = float64(f)
	}
	result, err := p.run(ctx, `
		CALL db.index.vector.queryNodes($index, $k, $vector)
		YIELD node, score
		WHERE $scope = '' OR coalesce(node.scopeId, '') = $scope
		RETURN node, score`,
		map[string]any{"index": index, "k": k, "vector": f64, "scope": q.ScopeID})
	if err != nil {
		return nil, nil, err
	}

	var nodes []neo4j.Node
	var scores []float64
	for _, rec := range result.Records {
		node, ok := nodeValue(rec, "node")
		if !ok {
			continue
		}
		sv, _ := rec.Get("score")
		score, _ := sv.(float64)
		if score < q.Threshold {
			continue
		}
		props := readProps(node.Props)
		if !graphdb.MatchesContexts(props, q.Contexts) || !graphdb.WithinValidity(props, q.ValidAt) {
			continue
		}
		nodes = append(nodes, node)
		scores = append(scores, score)
		if len(nodes) >= limit {
			break
		}
	}
	return nodes, scores, nil
}

// --- subgraph ---

func (p *Provider) RetrieveSubgraph(ctx context.Context, q graphdb.SubgraphQuery) (*graphdb.Subgraph, error) {
	maxDepth := q.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if maxDepth > 10 {
		maxDepth = 10
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	for _, l := range q.EntityLabels {
		if !graphdb.ValidLabel(l) {
			return nil, fmt.Errorf("%w: label %q", graphdb.ErrInvalidIdentifier, l)
		}
	}
	for _, t := range q.RelationshipTypes {
		if !graphdb.ValidRelationshipType(t) {
			return nil, fmt.Errorf("%w: relationship type %q", graphdb.ErrInvalidIdentifier, t)
		}
	}

	// maxDepth is validated and clamped; Cypher cannot bind a range bound.
	relPattern := "*1.." + fmt.Sprint(maxDepth)
	if len(q.RelationshipTypes) > 0 {
		relPattern = ":" + strings.Join(q.RelationshipTypes, "|") + relPattern
	}

	cypher := fmt.Sprintf(`
		MATCH (s:AkashaEntity)
		WHERE s.id IN $ids AND ($scope = '' OR coalesce(s.scopeId, '') = $scope)
		OPTIONAL MATCH path = (s)-[%s]-(m:AkashaEntity)
		WHERE ($scope = '' OR coalesce(m.scopeId, '') = $scope)
			AND all(rel IN relationships(path) WHERE type(rel) <> 'CONTAINS_ENTITY' OR $typed)
		RETURN s, path
		LIMIT $limit`, relPattern)

	result, err := p.run(ctx, cypher, map[string]any{
		"ids":   q.StartEntityIDs,
		"scope": q.ScopeID,
		"typed": len(q.RelationshipTypes) > 0,
		"limit": limit * 10,
	})
	if err != nil {
		return nil, err
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

	sub := &graphdb.Subgraph{}
	seenEntity := make(map[string]bool)
	seenRel := make(map[string]bool)

	addEntity := func(node neo4j.Node) {
		e := nodeToEntity(node)
		if e.ID == "" || seenEntity[e.ID] || !labelOK(e.Label) {
			return
		}
		if len(sub.Entities) >= limit {
			return
		}
		seenEntity[e.ID] = true
		sub.Entities = append(sub.Entities, e)
	}

	for _, rec := range result.Records {
		if node, ok := nodeValue(rec, "s"); ok {
			addEntity(node)
		}
		pv, ok := rec.Get("path")
		if !ok || pv == nil {
			continue
		}
		path, ok := pv.(neo4j.Path)
		if !ok {
			continue
		}
		idByElement := make(map[string]string, len(path.Nodes))
		for _, node := range path.Nodes {
			addEntity(node)
			idByElement[node.ElementId] = stringFrom(node.Props, "id")
		}
		for _, rel := range path.Relationships {
			id := stringFrom(rel.Props, "id")
			if id == "" || seenRel[id] {
				continue
			}
			from := idByElement[rel.StartElementId]
			to := idByElement[rel.EndElementId]
			if !seenEntity[from] || !seenEntity[to] {
				continue
			}
			seenRel[id] = true
			sub.Relationships = append(sub.Relationships, graphdb.Relationship{
				ID:         id,
				Type:       rel.Type,
				From:       from,
				To:         to,
				Properties: readProps(rel.Props),
			})
		}
	}
	return sub, nil
}

// --- relationships ---

func (p *Provider) CreateRelationships(ctx context.Context, rels []graphdb.Relationship) ([]graphdb.Relationship, error) {
	out := make([]graphdb.Relationship, 0, len(rels))
	for _, r := range rels {
		if !graphdb.ValidRelationshipType(r.Type) {
			return nil, fmt.Errorf("%w: relationship type %q", graphdb.ErrInvalidIdentifier, r.Type)
		}
		if r.From == r.To {
			return nil, fmt.Errorf("%w: %s", graphdb.ErrSelfReference, r.From)
		}

		props := writeProps(r.Properties)
		id := uuid.NewString()
		result, err := p.run(ctx, fmt.Sprintf(`
			MATCH (a:AkashaEntity {id: $from}), (b:AkashaEntity {id: $to})
			MERGE (a)-[r:%s]->(b)
			ON CREATE SET r = $props, r.id = $id
			ON MATCH SET r.contextIds = CASE
				WHEN r.contextIds IS NULL THEN $cids
				ELSE r.contextIds + [cid IN $cids WHERE NOT cid IN r.contextIds]
			END
			RETURN r, a.id AS fromId, b.id AS toId`, r.Type),
			map[string]any{
				"from":  r.From,
				"to":    r.To,
				"props": props,
				"id":    id,
				"cids":  r.ContextIDs(),
			})
		if err != nil {
			return nil, err
		}
		if len(result.Records) == 0 {
			return nil, fmt.Errorf("%w: relationship endpoints not found", graphdb.ErrNotFound)
		}
		rec := result.Records[0]
		rv, _ := rec.Get("r")
		edge, _ := rv.(neo4j.Relationship)
		out = append(out, graphdb.Relationship{
			ID:         stringFrom(edge.Props, "id"),
			Type:       edge.Type,
			From:       r.From,
			To:         r.To,
			Properties: readProps(edge.Props),
		})
	}
	return out, nil
}

func relationshipFromRecord(rec *neo4j.Record) (*graphdb.Relationship, bool) {
	rv, ok := rec.Get("r")
	if !ok {
		return nil, false
	}
	edge, ok := rv.(neo4j.Relationship)
	if !ok {
		return nil, false
	}
	fromV, _ := rec.Get("fromId")
	toV, _ := rec.Get("toId")
	from, _ := fromV.(string)
	to, _ := toV.(string)
	return &graphdb.Relationship{
		ID:         stringFrom(edge.Props, "id"),
		Type:       edge.Type,
		From:       from,
		To:         to,
		Properties: readProps(edge.Props),
	}, true
}

func (p *Provider) FindRelationshipByID(ctx context.Context, id, scopeID string) (*graphdb.Relationship, error) {
	result, err := p.run(ctx, `
		MATCH (a)-[r {id: $id}]->(b)
		WHERE $scope = '' OR coalesce(r.scopeId, '') = $scope
		RETURN r, a.id AS fromId, b.id AS toId LIMIT 1`,
		map[string]any{"id": id, "scope": scopeID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	rel, ok := relationshipFromRecord(result.Records[0])
	if !ok {
		return nil, graphdb.ErrNotFound
	}
	return rel, nil
}

func (p *Provider) UpdateRelationship(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Relationship, error) {
	current, err := p.FindRelationshipByID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}
	result, err := p.run(ctx, `
		MATCH (a)-[r {id: $id}]->(b)
		SET r += $props
		RETURN r, a.id AS fromId, b.id AS toId`,
		map[string]any{"id": id, "props": writeProps(graphdb.SanitizeUpdate(props))})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	rel, ok := relationshipFromRecord(result.Records[0])
	if !ok {
		return nil, graphdb.ErrNotFound
	}
	return rel, nil
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
	if _, err := p.run(ctx, "MATCH ()-[r {id: $id}]->() DELETE r", map[string]any{"id": id}); err != nil {
		return nil, err
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "relationship deleted"}, nil
}

func (p *Provider) ListRelationships(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Relationship, error) {
	match := "MATCH (a)-[r]->(b)"
	if q.Label != "" {
		if !graphdb.ValidRelationshipType(q.Label) {
			return nil, fmt.Errorf("%w: relationship type %q", graphdb.ErrInvalidIdentifier, q.Label)
		}
		match = fmt.Sprintf("MATCH (a)-[r:%s]->(b)", q.Label)
	}
	limit, offset := pageBounds(q.Limit, q.Offset)
	result, err := p.run(ctx, match+`
		WHERE ($scope = '' OR coalesce(r.scopeId, '') = $scope)
			AND ($from = '' OR a.id = $from)
			AND ($to = '' OR b.id = $to)
		RETURN r, a.id AS fromId, b.id AS toId
		ORDER BY r.id SKIP $offset LIMIT $limit`,
		map[string]any{
			"scope": q.ScopeID, "from": q.FromID, "to": q.ToID,
			"offset": offset, "limit": limit,
		})
	if err != nil {
		return nil, err
	}
	out := make([]graphdb.Relationship, 0, len(result.Records))
	for _, rec := range result.Records {
		if rel, ok := relationshipFromRecord(rec); ok {
			out = append(out, *rel)
		}
	}
	return out, nil
}

// --- documents ---

func (p *Provider) CreateDocument(ctx context.Context, doc graphdb.Document, embedding []float32) (*graphdb.Document, error) {
	existing, err := p.FindDocumentByText(ctx, doc.Text(), doc.ScopeID())
	if err != nil && !errors.Is(err, graphdb.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		for _, cid := range doc.ContextIDs() {
			if err := p.AppendDocumentContext(ctx, existing.ID, cid); err != nil {
				return nil, err
			}
		}
		return p.FindDocumentByID(ctx, existing.ID, "")
	}

	props := writeProps(doc.Properties)
	props["id"] = uuid.NewString()
	if len(embedding) > 0 {
		f64 := make([]float64, len(embedding))
		for i, f := range embedding {
			f64[i] = float64(f)
		}
		props[graphdb.PropEmbedding] = f64
	}
	result, err := p.run(ctx,
		"CREATE (d:Document) SET d = $props RETURN d",
		map[string]any{"props": props})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: create returned no node", graphdb.ErrDatabase)
	}
	node, _ := nodeValue(result.Records[0], "d")
	d := nodeToDocument(node)
	return &d, nil
}

func (p *Provider) FindDocumentByText(ctx context.Context, text, scopeID string) (*graphdb.Document, error) {
	result, err := p.run(ctx, `
		MATCH (d:Document)
		WHERE d.text = $text AND coalesce(d.scopeId, '') = $scope
		RETURN d LIMIT 1`,
		map[string]any{"text": text, "scope": scopeID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	node, _ := nodeValue(result.Records[0], "d")
	d := nodeToDocument(node)
	return &d, nil
}

func (p *Provider) FindDocumentByID(ctx context.Context, id, scopeID string) (*graphdb.Document, error) {
	result, err := p.run(ctx, `
		MATCH (d:Document {id: $id})
		WHERE $scope = '' OR coalesce(d.scopeId, '') = $scope
		RETURN d LIMIT 1`,
		map[string]any{"id": id, "scope": scopeID})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	node, _ := nodeValue(result.Records[0], "d")
	d := nodeToDocument(node)
	return &d, nil
}

func (p *Provider) UpdateDocument(ctx context.Context, id string, props map[string]any, scopeID string) (*graphdb.Document, error) {
	current, err := p.FindDocumentByID(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if scopeID != "" && current.ScopeID() != scopeID {
		return nil, graphdb.ErrScopeViolation
	}
	result, err := p.run(ctx, `
		MATCH (d:Document {id: $id})
		SET d += $props
		RETURN d`,
		map[string]any{"id": id, "props": writeProps(graphdb.SanitizeUpdate(props))})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, graphdb.ErrNotFound
	}
	node, _ := nodeValue(result.Records[0], "d")
	d := nodeToDocument(node)
	return &d, nil
}

func (p *Provider) AppendDocumentContext(ctx context.Context, id, contextID string) error {
	if contextID == "" {
		return nil
	}
	result, err := p.run(ctx, `
		MATCH (d:Document {id: $id})
		SET d.contextIds = CASE
			WHEN d.contextIds IS NULL THEN [$cid]
			WHEN $cid IN d.contextIds THEN d.contextIds
			ELSE d.contextIds + $cid
		END
		RETURN d.id`,
		map[string]any{"id": id, "cid": contextID})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return graphdb.ErrNotFound
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
	if _, err := p.run(ctx,
		"MATCH (d:Document {id: $id}) DETACH DELETE d",
		map[string]any{"id": id}); err != nil {
		return nil, err
	}
	return &graphdb.DeleteResult{Deleted: true, Message: "document and entity links deleted"}, nil
}

func (p *Provider) ListDocuments(ctx context.Context, q graphdb.ListQuery) ([]graphdb.Document, error) {
	limit, offset := pageBounds(q.Limit, q.Offset)
	result, err := p.run(ctx, `
		MATCH (d:Document)
		WHERE $scope = '' OR coalesce(d.scopeId, '') = $scope
		RETURN d ORDER BY d.id SKIP $offset LIMIT $limit`,
		map[string]any{"scope": q.ScopeID, "offset": offset, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]graphdb.Document, 0, len(result.Records))
	for _, rec := range result.Records {
		node, ok := nodeValue(rec, "d")
		if !ok {
			continue
		}
		out = append(out, nodeToDocument(node))
	}
	return out, nil
}

// --- links ---

func (p *Provider) LinkEntityToDocument(ctx context.Context, docID, entityID, scopeID string) (*graphdb.Relationship, error) {
	result, err := p.run(ctx, `
		MATCH (d:Document {id: $docId}), (e:AkashaEntity {id: $entityId})
		MERGE (d)-[r:CONTAINS_ENTITY]->(e)
		ON CREATE SET r.id = $id, r.scopeId = $scope, r._recordedAt = $now
		RETURN r`,
		map[string]any{
			"docId": docID, "entityId": entityID,
			"id": uuid.NewString(), "scope": scopeID, "now": graphdb.Now(),
		})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("%w: link endpoints not found", graphdb.ErrNotFound)
	}
	rv, _ := result.Records[0].Get("r")
	edge, _ := rv.(neo4j.Relationship)
	return &graphdb.Relationship{
		ID:         stringFrom(edge.Props, "id"),
		Type:       graphdb.ContainsEntityType,
		From:       docID,
		To:         entityID,
		Properties: readProps(edge.Props),
	}, nil
}

func (p *Provider) EntitiesFromDocuments(ctx context.Context, docIDs []string, scopeID string) ([]graphdb.Entity, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	result, err := p.run(ctx, `
		MATCH (d:Document)-[r:CONTAINS_ENTITY]->(e:AkashaEntity)
		WHERE d.id IN $ids AND ($scope = '' OR coalesce(r.scopeId, '') = $scope)
		RETURN DISTINCT e`,
		map[string]any{"ids": docIDs, "scope": scopeID})
	if err != nil {
		return nil, err
	}
	out := make([]graphdb.Entity, 0, len(result.Records))
	for _, rec := range result.Records {
		node, ok := nodeValue(rec, "e")
		if !ok {
			continue
		}
		out = append(out, nodeToEntity(node))
	}
	return out, nil
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
