package graphdb

import "errors"

var (
	// ErrNotFound is returned when a required entity, relationship, or
	// document is absent.
	ErrNotFound = errors.New("graphdb: record not found")

	// ErrScopeViolation is returned when an operation targets a record
	// outside the configured scope.
	ErrScopeViolation = errors.New("graphdb: record outside scope")

	// ErrDatabase wraps backend failures (connection, constraint, timeout).
	ErrDatabase = errors.New("graphdb: database operation failed")

	// ErrSelfReference is returned for relationships whose endpoints are the
	// same entity.
	ErrSelfReference = errors.New("graphdb: relationship cannot reference itself")

	// ErrInvalidIdentifier is returned when a label, relationship type, or
	// property key fails the identifier whitelist.
	ErrInvalidIdentifier = errors.New("graphdb: invalid identifier")
)
