package storage

import (
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

// Common storage errors.
var (
	// ErrNotFound is returned when a project is not in the index or its document is missing.
	ErrNotFound = errors.New("project not found")

	// ErrForbidden is returned when a project exists but belongs to another user.
	ErrForbidden = errors.New("project belongs to another user")

	// ErrInvalidProjectID is returned for ids that are not safe as keys or file names.
	ErrInvalidProjectID = errors.New("invalid project id")

	// ErrInvalidOwnerID is returned for owner ids that are not safe as keys or file names.
	ErrInvalidOwnerID = errors.New("invalid owner id")
)

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}
