package memory

import "errors"

var (
	// ErrNotFound is returned when a record id does not exist
	ErrNotFound = errors.New("memory record not found")

	ErrInvalidKind    = errors.New("invalid memory kind")
	ErrInvalidPrivacy = errors.New("invalid privacy level")

	// ErrInvalidCandidate rejects a candidate fact at the ingest boundary
	ErrInvalidCandidate = errors.New("invalid candidate fact")

	// ErrCrossScopeMerge is returned when a merge would combine records that
	// differ in owner, privacy level or origin scope.
	ErrCrossScopeMerge = errors.New("merge across owner or privacy scope rejected")

	// ErrEmbeddingUnavailable signals that the embedding provider failed
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
)
