// Package store persists session records. The pool flushes sessions here on
// eviction and reloads them lazily on demand; records must round-trip
// losslessly through save/load.
package store

import (
	"context"
	"errors"

	"github.com/parlourhq/parlour/core"
)

// ErrSessionNotFound is returned when a locator has no backing record.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when Create targets an existing locator.
var ErrSessionExists = errors.New("session already exists")

// Store persists session records keyed by storage locator.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create writes a new record, failing if the locator already exists.
	Create(ctx context.Context, locator string, s *core.Session) error

	// Read loads the record at locator.
	Read(ctx context.Context, locator string) (*core.Session, error)

	// Write overwrites the record at locator.
	Write(ctx context.Context, locator string, s *core.Session) error

	// Delete removes the record at locator.
	Delete(ctx context.Context, locator string) error
}
