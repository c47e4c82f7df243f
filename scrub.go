package akasha

import (
	"strings"

	"github.com/akasha-ai/akasha/graphdb"
)

// preservedInternal lists the underscore-prefixed fields that survive
// scrubbing: retrieval scores and temporal metadata stay visible.
var preservedInternal = map[string]bool{
	graphdb.PropSimilarity: true,
	graphdb.PropRecordedAt: true,
	graphdb.PropValidFrom:  true,
	graphdb.PropValidTo:    true,
}

// scrubProps copies a property map without the embedding and without
// internal-only fields.
func scrubProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if k == graphdb.PropEmbedding {
			continue
		}
		if strings.HasPrefix(k, "_") && !preservedInternal[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func scrubEntity(e graphdb.Entity) graphdb.Entity {
	e.Properties = scrubProps(e.Properties)
	return e
}

func scrubRelationship(r graphdb.Relationship) graphdb.Relationship {
	r.Properties = scrubProps(r.Properties)
	return r
}

func scrubDocument(d graphdb.Document) graphdb.Document {
	d.Properties = scrubProps(d.Properties)
	return d
}

func scrubEntities(in []graphdb.Entity, includeEmbeddings bool) []graphdb.Entity {
	if includeEmbeddings {
		return in
	}
	out := make([]graphdb.Entity, len(in))
	for i, e := range in {
		out[i] = scrubEntity(e)
	}
	return out
}

func scrubRelationships(in []graphdb.Relationship, includeEmbeddings bool) []graphdb.Relationship {
	if includeEmbeddings {
		return in
	}
	out := make([]graphdb.Relationship, len(in))
	for i, r := range in {
		out[i] = scrubRelationship(r)
	}
	return out
}

func scrubDocuments(in []graphdb.Document, includeEmbeddings bool) []graphdb.Document {
	if includeEmbeddings {
		return in
	}
	out := make([]graphdb.Document, len(in))
	for i, d := range in {
		out[i] = scrubDocument(d)
	}
	return out
}
