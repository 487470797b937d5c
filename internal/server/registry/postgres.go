package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/dbx"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Postgres implements Store on top of the Postgres repositories. Status
// appends lock the file row with SELECT ... FOR UPDATE for the length of the
// transaction; the (file_id, status_id) unique constraint backs it up.
type Postgres struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewPostgres(db *sql.DB, m repomanager.RepositoryManager) *Postgres {
	return &Postgres{db: db, repomanager: m}
}

// lookupID rejects ids that are not canonical UUIDs. No such row can exist,
// so the lookup is reported as not found without a round trip.
func lookupID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("%w: %q", common.ErrorNotFound, id)
	}
	return nil
}

func newID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("%w: id %q is not a UUID", common.ErrorValidation, id)
	}
	return nil
}

func (p *Postgres) CreateFile(ctx context.Context, f *models.File) (*models.File, error) {
	if err := newID(f.ID); err != nil {
		return nil, err
	}
	if err := newID(f.UserID); err != nil {
		return nil, err
	}
	f.Status = models.StatusUploaded

	err := dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := p.repomanager.Files(tx)
		if err := repo.Create(ctx, f); err != nil {
			return fmt.Errorf("error creating file: %w", err)
		}
		if _, err := repo.InsertHistory(ctx, f.ID, models.StatusUploaded); err != nil {
			return fmt.Errorf("error recording status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Postgres) AppendStatus(ctx context.Context, fileID string, status models.Status, guard Guard) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown status %d", common.ErrorValidation, int(status))
	}
	if err := lookupID(fileID); err != nil {
		return false, err
	}

	var inserted bool
	err := dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := p.repomanager.Files(tx)

		current, err := repo.LockStatus(ctx, fileID)
		if err != nil {
			return err
		}

		recorded, err := repo.HasStatus(ctx, fileID, status)
		if err != nil {
			return err
		}
		if recorded {
			return nil
		}

		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}

		ok, err := repo.InsertHistory(ctx, fileID, status)
		if err != nil || !ok {
			return err
		}
		if err := repo.SetStatus(ctx, fileID, status); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (p *Postgres) LatestStatus(ctx context.Context, fileID string) (models.Status, error) {
	f, err := p.GetFile(ctx, fileID)
	if err != nil {
		return models.StatusUnknown, err
	}
	return f.Status, nil
}

func (p *Postgres) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	if err := lookupID(fileID); err != nil {
		return nil, err
	}
	return p.repomanager.Files(p.db).GetByID(ctx, fileID)
}

func (p *Postgres) History(ctx context.Context, fileID string) ([]*models.StatusHistory, error) {
	if err := lookupID(fileID); err != nil {
		return nil, err
	}
	return p.repomanager.Files(p.db).History(ctx, fileID)
}

func (p *Postgres) ListStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.File, error) {
	return p.repomanager.Files(p.db).ListByStatus(ctx, status, cutoff, limit)
}

func (p *Postgres) ListByUser(ctx context.Context, userID string) ([]*models.File, error) {
	if err := lookupID(userID); err != nil {
		return nil, err
	}
	return p.repomanager.Files(p.db).ListByUser(ctx, userID)
}

func (p *Postgres) MarkFileDeleted(ctx context.Context, fileID string, at time.Time) (bool, error) {
	if err := lookupID(fileID); err != nil {
		return false, err
	}
	return p.repomanager.Files(p.db).MarkDeleted(ctx, fileID, at)
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	if err := newID(u.ID); err != nil {
		return nil, err
	}
	return p.repomanager.Users(p.db).Create(ctx, u)
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := lookupID(id); err != nil {
		return nil, err
	}
	return p.repomanager.Users(p.db).GetByID(ctx, id)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return p.repomanager.Users(p.db).GetByEmail(ctx, email)
}

func (p *Postgres) MarkConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := lookupID(id); err != nil {
		return false, err
	}
	return p.repomanager.Users(p.db).MarkConfirmed(ctx, id, at)
}

func (p *Postgres) UpdateUser(ctx context.Context, u *models.User) error {
	if err := lookupID(u.ID); err != nil {
		return err
	}
	return p.repomanager.Users(p.db).Update(ctx, u)
}

func (p *Postgres) DisableUser(ctx context.Context, id string) error {
	if err := lookupID(id); err != nil {
		return err
	}
	return p.repomanager.Users(p.db).Disable(ctx, id)
}
