// Package queue is the durable client-local store for match submissions that
// are waiting for, or have failed, delivery to the leaderboard server.
package queue

import (
	"context"
	"time"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
)

// Status is the lifecycle state of a queued match. There is no persisted
// "synced" status: successful delivery removes the record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// SyncError is the structured failure from the most recent delivery attempt.
type SyncError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParticipantSnapshot captures display names at enqueue time, so the queue UI
// stays readable even if the canonical player or deck is later renamed or
// deleted. Never used for dedup or delivery.
type ParticipantSnapshot struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	DeckID     string `json:"deck_id"`
	DeckName   string `json:"deck_name"`
}

// QueuedMatch is one pending or failed match submission.
type QueuedMatch struct {
	ID            string                `json:"id"`
	Payload       match.Result          `json:"payload"`
	Fingerprint   string                `json:"fingerprint"`
	Snapshots     []ParticipantSnapshot `json:"snapshots"`
	Status        Status                `json:"status"`
	RetryCount    int                   `json:"retry_count"`
	QueuedAt      time.Time             `json:"queued_at"`
	LastAttemptAt *time.Time            `json:"last_attempt_at,omitempty"`
	LastError     *SyncError            `json:"last_error,omitempty"`
}

// Patch describes a partial update to a queued match. Nil fields are left
// untouched; ClearLastError removes the stored failure.
type Patch struct {
	Status         *Status
	RetryCount     *int
	LastAttemptAt  *time.Time
	LastError      *SyncError
	ClearLastError bool
	Payload        *match.Result
	Fingerprint    *string
}

// Store defines the interface contract for queue persistence.
// All operations are atomic with respect to a single record.
type Store interface {
	Insert(ctx context.Context, rec *QueuedMatch) error
	Get(ctx context.Context, id string) (*QueuedMatch, error)
	// List returns all records ordered by queuedAt ascending.
	List(ctx context.Context) ([]QueuedMatch, error)
	Update(ctx context.Context, id string, p Patch) error
	// Delete is idempotent; it reports whether a record was actually removed.
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)

	// HasRecentFingerprint reports whether a live record with the given
	// fingerprint was queued at or after since.
	HasRecentFingerprint(ctx context.Context, fp string, since time.Time) (bool, error)
	// MarkSynced remembers a delivered fingerprint for ttl, so a match synced
	// moments ago still blocks an accidental resubmission.
	MarkSynced(ctx context.Context, fp, serverID string, ttl time.Duration) error
	// RecentlySynced reports whether the fingerprint was delivered within its
	// remembered window.
	RecentlySynced(ctx context.Context, fp string) (bool, error)

	// ClientID returns the persisted identity of this device.
	ClientID() string

	Close() error
}
