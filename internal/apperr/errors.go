// Package apperr defines the sentinel errors shared across the store, its
// backends and the outer surfaces. Callers match them with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid")
	ErrBuiltIn       = errors.New("built-in definition cannot be changed")

	// Identifier allocation.
	ErrDuplicateAlternateKey = errors.New("duplicate alternate key")
	ErrDigitOverflow         = errors.New("digit width cannot represent highest number in use")
	ErrFormatIncompatible    = errors.New("id format incompatible with numbering strategy")

	// Relationship graph.
	ErrTypeNotAllowed      = errors.New("record type not allowed for relationship")
	ErrCardinalityExceeded = errors.New("relationship cardinality exceeded")
	ErrCycleDetected       = errors.New("relationship would create a cycle")
	ErrSelfReference       = errors.New("relationship to self not allowed")

	// Deletion blocked by live references.
	ErrFieldInUse  = errors.New("field in use")
	ErrStatusInUse = errors.New("status in use")
	ErrTypeInUse   = errors.New("type in use")
	ErrKindInUse   = errors.New("relationship kind in use")

	// Backends.
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrSchemaMismatch     = errors.New("schema version newer than supported")
	ErrUnsupportedBackend = errors.New("unsupported storage suffix")
	ErrRoundTripMismatch  = errors.New("migration round trip mismatch")
)
