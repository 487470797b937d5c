// Package registry is the single source of truth for file metadata and status
// history. All coordination between concurrent workers goes through
// AppendStatus, which records a (file, status) pair at most once.
package registry

import (
	"context"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

// Guard inspects the file's current status before a new status is recorded
// and vetoes the append by returning an error. It runs while the file is
// locked, so no other append can interleave.
type Guard func(current models.Status) error

// Registry stores files and their status history.
type Registry interface {
	// CreateFile stores f with status "uploaded" and the matching first
	// history entry, atomically.
	CreateFile(ctx context.Context, f *models.File) (*models.File, error)

	// AppendStatus records status for fileID. It reports inserted=false with
	// a nil error when the pair is already recorded; guard is not consulted
	// in that case. Otherwise guard decides, and on success the history row
	// is inserted and the file's current status updated in one step.
	AppendStatus(ctx context.Context, fileID string, status models.Status, guard Guard) (inserted bool, err error)

	LatestStatus(ctx context.Context, fileID string) (models.Status, error)
	GetFile(ctx context.Context, fileID string) (*models.File, error)
	History(ctx context.Context, fileID string) ([]*models.StatusHistory, error)

	// ListStale returns up to limit files whose status is status and whose
	// last change happened before cutoff, oldest first.
	ListStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.File, error)
	// ListByUser leaves out deleted files.
	ListByUser(ctx context.Context, userID string) ([]*models.File, error)

	// MarkFileDeleted stamps the file as deleted and drops its wrapped key.
	// It reports false when the file was already deleted.
	MarkFileDeleted(ctx context.Context, fileID string, at time.Time) (bool, error)
}

// Users stores account records.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error)
	// UpdateUser returns common.ErrorAlreadyExists when u.Email belongs to
	// another account.
	UpdateUser(ctx context.Context, u *models.User) error
	DisableUser(ctx context.Context, id string) error
}

// Store is implemented by both backends.
type Store interface {
	Registry
	Users
}
