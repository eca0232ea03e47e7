package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors:
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a unique key is already taken and the winner could not be re-read
//   - ErrInvalidState: record is in the wrong state for the requested operation
//   - ErrUnavailable: backing service (redis, kafka, hook target) unreachable
//
// For malformed input use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
