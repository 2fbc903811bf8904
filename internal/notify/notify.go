// Package notify publishes job lifecycle notifications so downstream
// consumers can react to terminal jobs without polling the API.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobEvent is the payload published when a job reaches a terminal status.
type JobEvent struct {
	JobID        uuid.UUID  `json:"job_id"`
	UserID       string     `json:"user_id"`
	Site         string     `json:"site"`
	Status       string     `json:"status"`
	ScrapedItems int        `json:"scraped_items"`
	TotalItems   int        `json:"total_items"`
	Error        string     `json:"error,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Publisher delivers payloads to a named topic.
type Publisher interface {
	// Publish sends the payload and returns the broker-assigned message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// NoOpPublisher drops every message. Used when notifications are disabled.
type NoOpPublisher struct{}

// Publish does nothing.
func (NoOpPublisher) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}
