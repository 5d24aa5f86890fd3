// Package storage persists finished roadmaps.
//
// Every backend keeps one JSON document per project plus an owner index
// mapping projectId to ownerId. The index tells "not found" apart from
// "forbidden" on lookup. Index updates are serialized per process so a
// read-mutate-write of one save never interleaves with another; index reads
// are not locked.
package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/c360studio/braindump/roadmap"
)

// ProjectStore is keyed persistence of finished roadmaps.
type ProjectStore interface {
	// Save writes rm under rm.ProjectID and records ownerID in the index.
	Save(ctx context.Context, ownerID string, rm *roadmap.Roadmap) error

	// GetForUser loads a project for userID.
	// It returns ErrNotFound or ErrForbidden when the lookup fails.
	GetForUser(ctx context.Context, projectID, userID string) (*roadmap.Roadmap, error)

	// Backend names the storage backend for health reporting.
	Backend() string
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidProjectID reports whether id is usable as a key and a file name.
func ValidProjectID(id string) bool {
	return idPattern.MatchString(id)
}

// SanitizeProjectID trims id and checks it.
func SanitizeProjectID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if !ValidProjectID(trimmed) {
		return "", ErrInvalidProjectID
	}
	return trimmed, nil
}

// ValidOwnerID reports whether id is usable as an owner key and directory name.
func ValidOwnerID(id string) bool {
	return idPattern.MatchString(id)
}

func checkOwner(ownerID string) error {
	if !ValidOwnerID(ownerID) {
		return ErrInvalidOwnerID
	}
	return nil
}

// Index maps projectId to ownerId.
type Index map[string]string

// parseIndex decodes an index document. A corrupt document yields an empty
// index so saves can proceed; the problem is logged.
func parseIndex(raw []byte, source string, logger *slog.Logger) Index {
	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil || idx == nil {
		if err != nil {
			logger.Error("Failed to parse project index, using empty index",
				"source", source, "error", err)
		}
		return Index{}
	}
	return idx
}

// resolve applies the owner check shared by every backend.
func (idx Index) resolve(projectID, userID string) (string, error) {
	owner, ok := idx[projectID]
	if !ok {
		return "", ErrNotFound
	}
	if owner != userID {
		return "", ErrForbidden
	}
	return owner, nil
}

func decodeProject(raw []byte) (*roadmap.Roadmap, error) {
	var rm roadmap.Roadmap
	if err := json.Unmarshal(raw, &rm); err != nil {
		return nil, err
	}
	return &rm, nil
}
