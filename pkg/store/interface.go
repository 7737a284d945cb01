package store

import (
	"context"
	"time"

	"github.com/sharesync/sharesync/pkg/models"
)

// UserStore persists identity-provider principals.
type UserStore interface {
	// UpsertUser creates the user on first sign-in or refreshes the
	// display name and last-login timestamp on subsequent ones.
	UpsertUser(ctx context.Context, email, displayName string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// ShareStore persists shares and maintains the share state machine.
type ShareStore interface {
	CreateSharePending(ctx context.Context, share *models.Share) error
	GetShare(ctx context.Context, id string) (*models.Share, error)
	ListSharesByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*models.Share, error)

	// MarkShareAvailable transitions pending_upload -> available and
	// records the verified object size. Calling it on an already
	// available share is a no-op.
	MarkShareAvailable(ctx context.Context, id string, actualSize int64) (*models.Share, error)

	// RegisterDownload atomically verifies the share is servable at now
	// (available, unexpired, under its download limit), increments the
	// download counter and appends a download event. It returns the share
	// as of after the increment.
	RegisterDownload(ctx context.Context, id string, now time.Time, requesterHash string) (*models.Share, error)

	SetPasswordHash(ctx context.Context, id, hash string) error

	// TransitionState moves a share to next, failing with
	// models.ErrInvalidState when the state machine forbids it.
	TransitionState(ctx context.Context, id string, next models.ShareState) error

	// CountInFlightUploads counts pending_upload shares for quota capping.
	CountInFlightUploads(ctx context.Context, ownerID string) (int64, error)

	// SumActiveBytes totals the bytes of non-deleted shares for the owner.
	SumActiveBytes(ctx context.Context, ownerID string) (int64, error)
}

// SweepStore is the slice of the repository the cleanup engine uses.
type SweepStore interface {
	// ClaimExpiredBatch claims up to limit shares that are past cutoff
	// for cleanup, skipping shares whose delete backoff has not elapsed
	// at now. Selection and the pending/available -> expired transition
	// run in one transaction that commits before the method returns, so
	// the serving path stops handing out URLs before any object work
	// starts. On PostgreSQL the select locks rows with FOR UPDATE SKIP
	// LOCKED; because the transition commits under the same locks,
	// concurrent sweepers partition the backlog instead of re-claiming
	// it. Returned shares carry their pre-claim state.
	ClaimExpiredBatch(ctx context.Context, limit int, cutoff, now time.Time) ([]*models.Share, error)

	// MarkDeleted finalizes a share after its object is gone.
	MarkDeleted(ctx context.Context, id string, at time.Time) error

	// RecordDeleteFailure bumps the failure counter and schedules the
	// next attempt.
	RecordDeleteFailure(ctx context.Context, id string, nextAttempt time.Time) error

	// HardDeleteBefore removes deleted rows older than cutoff and returns
	// how many were removed.
	HardDeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// PruneDownloadEvents removes events older than cutoff.
	PruneDownloadEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Totals are aggregate counters for the public stats endpoint.
type Totals struct {
	Users     int64 `json:"total_users"`
	Shares    int64 `json:"total_shares"`
	Downloads int64 `json:"total_downloads"`
}

// Store is the full repository contract assembled from the per-component
// slices. GORMStore implements all of it; components depend only on the
// slice they need.
type Store interface {
	UserStore
	ShareStore
	SweepStore

	Stats(ctx context.Context) (*Totals, error)
	Ping(ctx context.Context) error
	Close() error
}
