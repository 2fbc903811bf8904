// Package captcha manages the short-lived sessions that let a paused job
// resume once its challenge is solved.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound signals a lookup for a session that never existed,
// expired, or was already consumed.
var ErrSessionNotFound = errors.New("captcha session not found or expired")

// Session captures everything needed to resume a paused job.
type Session struct {
	// ID is "<site>_<unix-millis>", the token handed to the client.
	ID     string    `json:"id"`
	JobID  uuid.UUID `json:"jobId"`
	UserID string    `json:"userId"`
	Site   string    `json:"site"`
	// ChallengeType/ChallengeURL describe the challenge for rendering.
	ChallengeType string    `json:"challengeType"`
	ChallengeURL  string    `json:"challengeUrl"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewSessionID builds the session token for a site at a point in time.
func NewSessionID(site string, at time.Time) string {
	return fmt.Sprintf("%s_%d", site, at.UnixMilli())
}

// Store holds pending sessions. Sessions expire if unused and are removed
// once consumed.
type Store interface {
	// Put stores the session under its ID.
	Put(ctx context.Context, s Session) error
	// Get returns the session without removing it, so a failed solution
	// leaves it available for retry.
	Get(ctx context.Context, id string) (Session, error)
	// Consume returns the session and removes it atomically.
	Consume(ctx context.Context, id string) (Session, error)
}
