// Package events implements the engine's typed, asynchronous, fire-and-forget
// notification bus. Emit never blocks the caller; handlers run on a dispatch
// goroutine in registration order within a type, and handler panics are
// contained and logged.
package events

import (
	"github.com/akasha-ai/akasha/graphdb"
)

// Type identifies an event kind.
type Type string

const (
	EntityCreated       Type = "entity.created"
	EntityUpdated       Type = "entity.updated"
	EntityDeleted       Type = "entity.deleted"
	RelationshipCreated Type = "relationship.created"
	RelationshipUpdated Type = "relationship.updated"
	RelationshipDeleted Type = "relationship.deleted"
	DocumentCreated     Type = "document.created"
	DocumentUpdated     Type = "document.updated"
	DocumentDeleted     Type = "document.deleted"
	LearnStarted        Type = "learn.started"
	LearnCompleted      Type = "learn.completed"
	LearnFailed         Type = "learn.failed"
	ExtractionStarted   Type = "extraction.started"
	ExtractionCompleted Type = "extraction.completed"
	QueryStarted        Type = "query.started"
	QueryCompleted      Type = "query.completed"
	BatchProgress       Type = "batch.progress"
	BatchCompleted      Type = "batch.completed"
)

// Progress reports batch advancement.
type Progress struct {
	Current   int `json:"current"`
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Event is the envelope delivered to handlers. Only the fields appropriate to
// the type are populated.
type Event struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
	ScopeID   string `json:"scopeId,omitempty"`

	Entity       *graphdb.Entity       `json:"entity,omitempty"`
	Relationship *graphdb.Relationship `json:"relationship,omitempty"`
	Document     *graphdb.Document     `json:"document,omitempty"`

	Text     string         `json:"text,omitempty"`
	Summary  map[string]any `json:"summary,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
}

// Handler consumes a single event. Errors and panics inside handlers never
// propagate to the emitting operation.
type Handler func(Event)
