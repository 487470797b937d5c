package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/dbx"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectFile = `SELECT id, user_id, location, filename, filetype, size_bytes, wrapped_key, status_id, created_at, updated_at, deleted_at FROM files`

func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query :=
		`INSERT INTO files (id, user_id, location, filename, filetype, size_bytes, wrapped_key, status_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.UserID, file.Location, file.Filename, file.FileType, file.SizeBytes, file.WrappedKey, int(file.Status),
	).Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, selectFile+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) LockStatus(ctx context.Context, id string) (models.Status, error) {
	var status int
	err := r.db.QueryRowContext(ctx, `SELECT status_id FROM files WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.StatusUnknown, common.ErrorNotFound
		}
		return models.StatusUnknown, fmt.Errorf("db error: %w", err)
	}
	return models.Status(status), nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status models.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET status_id = $2, updated_at = NOW() WHERE id = $1`, id, int(status))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) HasStatus(ctx context.Context, id string, status models.Status) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM file_status_history WHERE file_id = $1 AND status_id = $2)`,
		id, int(status)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) InsertHistory(ctx context.Context, id string, status models.Status) (bool, error) {
	query :=
		`INSERT INTO file_status_history (file_id, status_id)
		 VALUES ($1, $2)
		 ON CONFLICT (file_id, status_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, id, int(status))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}

	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) History(ctx context.Context, id string) ([]*models.StatusHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, file_id, status_id, created_at FROM file_status_history
		 WHERE file_id = $1
		 ORDER BY status_id`, id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.StatusHistory
	for rows.Next() {
		h := &models.StatusHistory{}
		var status int
		if err := rows.Scan(&h.ID, &h.FileID, &status, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = models.Status(status)
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]*models.File, error) {
	return r.list(ctx,
		selectFile+` WHERE status_id = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		int(status), updatedBefore, limit)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.File, error) {
	return r.list(ctx, selectFile+` WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at`, userID)
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id string, at time.Time) (bool, error) {
	query :=
		`UPDATE files SET deleted_at = $2, wrapped_key = ''::bytea, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	f := &models.File{}
	var status int
	var deletedAt sql.NullTime
	if err := s.Scan(&f.ID, &f.UserID, &f.Location, &f.Filename, &f.FileType, &f.SizeBytes,
		&f.WrappedKey, &status, &f.CreatedAt, &f.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	f.Status = models.Status(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return f, nil
}
