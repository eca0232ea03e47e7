// Package store persists hook users and their subscriptions.
package store

import (
	"vcr/pkg/platform/sentinel"
)

var (
	ErrNotFound = sentinel.ErrNotFound
	// ErrConflict is returned when a username is already taken.
	ErrConflict = sentinel.ErrConflict
)
