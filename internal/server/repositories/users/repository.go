package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// MarkConfirmed returns false when the user was already confirmed.
	MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error)
	// Update returns common.ErrorAlreadyExists when the new email is taken.
	Update(ctx context.Context, user *models.User) error
	Disable(ctx context.Context, id string) error
}
