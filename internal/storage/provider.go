// Package storage defines the artifact store abstraction used to archive raw
// worker output, keeping the service independent of a specific backend
// (Google Cloud Storage or the local filesystem).
package storage

import (
	"context"
	"io"
)

// ArtifactStore persists raw worker output for completed jobs.
type ArtifactStore interface {
	// Save uploads data under the given object path and returns a URI for
	// the stored artifact.
	Save(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// Delete removes the artifact at the given object path. Deleting a
	// missing artifact is not an error.
	Delete(ctx context.Context, path string) error
}

// NoOpStore discards artifacts. Used when archiving is disabled.
type NoOpStore struct{}

// Save discards the data and returns an empty URI.
func (NoOpStore) Save(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}

// Delete does nothing.
func (NoOpStore) Delete(_ context.Context, _ string) error {
	return nil
}
