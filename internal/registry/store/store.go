// Package store persists registry records. Natural-key writes are
// get-or-create: a concurrent insert of the same key resolves to the row that
// won instead of surfacing a uniqueness violation.
package store

import (
	"github.com/google/uuid"

	"vcr/pkg/platform/sentinel"
)

var (
	ErrNotFound = sentinel.ErrNotFound
	ErrConflict = sentinel.ErrConflict
)

// SchemaFilter narrows schema listings. Empty fields match everything.
type SchemaFilter struct {
	Name      string
	Version   string
	OriginDID string
}

// CredentialFilter narrows the credentials of a topic.
type CredentialFilter struct {
	Latest           *bool
	Revoked          *bool
	CredentialTypeID *uuid.UUID
}

// LatestKey identifies the credentials that compete for the latest flag.
type LatestKey struct {
	CredentialTypeID uuid.UUID
	TopicID          uuid.UUID
	CardinalityHash  string
}
