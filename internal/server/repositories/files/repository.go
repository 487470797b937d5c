package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

// Repository persists file rows and their append-only status history.
type Repository interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	// LockStatus returns the file's current status and holds a row lock
	// until the surrounding transaction ends.
	LockStatus(ctx context.Context, id string) (models.Status, error)
	SetStatus(ctx context.Context, id string, status models.Status) error
	HasStatus(ctx context.Context, id string, status models.Status) (bool, error)
	// InsertHistory returns false when the (file, status) pair already exists.
	InsertHistory(ctx context.Context, id string, status models.Status) (bool, error)
	History(ctx context.Context, id string) ([]*models.StatusHistory, error)
	ListByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.File, error)
	// ListByUser skips deleted files.
	ListByUser(ctx context.Context, userID string) ([]*models.File, error)
	// MarkDeleted stamps deleted_at and drops the wrapped key. It returns
	// false when the file was already deleted.
	MarkDeleted(ctx context.Context, id string, at time.Time) (bool, error)
}
