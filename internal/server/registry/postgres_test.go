package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qLock    = `SELECT\s+status_id\s+FROM\s+files\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE`
	qHas     = `SELECT\s+EXISTS`
	qInsHist = `INSERT\s+INTO\s+file_status_history`
	qSet     = `UPDATE\s+files\s+SET\s+status_id`
	qCreate  = `INSERT\s+INTO\s+files\s`
	qDelete  = `UPDATE\s+files\s+SET\s+deleted_at`
	qUpdUser = `UPDATE\s+users\s+SET\s+nickname`

	fileID    = "5f0c4a1e-8d53-4c1b-9a57-3f2e7f1d2b10"
	userID    = "9b2d7c44-1e6a-4f0e-8c3b-6a5d4e3f2a19"
	missingID = "00000000-0000-4000-8000-000000000000"
)

func newPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db, repomanager.NewPostgresRepositoryManager()), mock
}

func TestPostgres_CreateFile(t *testing.T) {
	p, mock := newPostgres(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(qCreate).
		WithArgs(fileID, userID, "users/u-1/files/f-1.bin", "a.pdf", "pdf", int64(3), []byte{7}, 1).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(qInsHist).WithArgs(fileID, 1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	f, err := p.CreateFile(context.Background(), &models.File{
		ID: fileID, UserID: userID, Location: "users/u-1/files/f-1.bin", Filename: "a.pdf", FileType: "pdf",
		SizeBytes: 3, WrappedKey: []byte{7}, Status: models.StatusProcessed,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, f.Status, "new files always start as uploaded")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateFile_RollsBackOnHistoryError(t *testing.T) {
	p, mock := newPostgres(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(qCreate).WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(qInsHist).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := p.CreateFile(context.Background(), &models.File{ID: fileID, UserID: userID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error recording status")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendStatus_Inserts(t *testing.T) {
	p, mock := newPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLock).WithArgs(fileID).WillReturnRows(sqlmock.NewRows([]string{"status_id"}).AddRow(2))
	mock.ExpectQuery(qHas).WithArgs(fileID, 3).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(qInsHist).WithArgs(fileID, 3).WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(qSet).WithArgs(fileID, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen models.Status
	inserted, err := p.AppendStatus(context.Background(), fileID, models.StatusProcessing, func(current models.Status) error {
		seen = current
		return nil
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, models.StatusQueued, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendStatus_DuplicateIsNoOp(t *testing.T) {
	p, mock := newPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLock).WithArgs(fileID).WillReturnRows(sqlmock.NewRows([]string{"status_id"}).AddRow(4))
	mock.ExpectQuery(qHas).WithArgs(fileID, 4).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	inserted, err := p.AppendStatus(context.Background(), fileID, models.StatusProcessed, func(models.Status) error {
		t.Fatal("guard must not run for an already recorded status")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendStatus_ConflictBackstop(t *testing.T) {
	p, mock := newPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLock).WillReturnRows(sqlmock.NewRows([]string{"status_id"}).AddRow(3))
	mock.ExpectQuery(qHas).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(qInsHist).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := p.AppendStatus(context.Background(), fileID, models.StatusProcessed, nil)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendStatus_GuardRejects(t *testing.T) {
	p, mock := newPostgres(t)
	rejected := errors.New("illegal")

	mock.ExpectBegin()
	mock.ExpectQuery(qLock).WillReturnRows(sqlmock.NewRows([]string{"status_id"}).AddRow(1))
	mock.ExpectQuery(qHas).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	inserted, err := p.AppendStatus(context.Background(), fileID, models.StatusProcessed, func(models.Status) error { return rejected })
	require.ErrorIs(t, err, rejected)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendStatus_NotFound(t *testing.T) {
	p, mock := newPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qLock).WithArgs(missingID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := p.AppendStatus(context.Background(), missingID, models.StatusQueued, nil)
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendStatus_InvalidStatus(t *testing.T) {
	p, mock := newPostgres(t)

	_, err := p.AppendStatus(context.Background(), fileID, models.Status(42), nil)
	require.ErrorIs(t, err, common.ErrorValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestStatus(t *testing.T) {
	p, mock := newPostgres(t)
	now := time.Now()

	mock.ExpectQuery(`FROM\s+files\s+WHERE\s+id`).WithArgs(fileID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "location", "filename", "filetype", "size_bytes", "wrapped_key", "status_id", "created_at", "updated_at", "deleted_at"}).
			AddRow(fileID, userID, "loc", "a.pdf", "pdf", int64(1), []byte{1}, 5, now, now, nil))

	s, err := p.LatestStatus(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, s)
}

func TestPostgres_MarkFileDeleted(t *testing.T) {
	p, mock := newPostgres(t)
	at := time.Now()

	mock.ExpectExec(qDelete).WithArgs(fileID, at).WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := p.MarkFileDeleted(context.Background(), fileID, at)
	require.NoError(t, err)
	assert.True(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateUser(t *testing.T) {
	p, mock := newPostgres(t)

	mock.ExpectExec(qUpdUser).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, p.UpdateUser(context.Background(), &models.User{ID: userID, Email: "a@example.com"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

// Ids that are not UUIDs can never match a row, and sending them to a UUID
// column fails with a syntax error that callers would treat as transient.
func TestPostgres_NonUUIDIDsNeverReachTheDatabase(t *testing.T) {
	p, mock := newPostgres(t)
	ctx := context.Background()

	_, err := p.AppendStatus(ctx, "not-a-uuid", models.StatusQueued, nil)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.GetFile(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.LatestStatus(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.History(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.ListByUser(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.MarkFileDeleted(ctx, "not-a-uuid", time.Now())
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.GetUser(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = p.MarkConfirmed(ctx, "not-a-uuid", time.Now())
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, p.UpdateUser(ctx, &models.User{ID: "not-a-uuid"}), common.ErrorNotFound)
	assert.ErrorIs(t, p.DisableUser(ctx, "not-a-uuid"), common.ErrorNotFound)

	_, err = p.CreateFile(ctx, &models.File{ID: "f-1", UserID: userID})
	assert.ErrorIs(t, err, common.ErrorValidation)
	_, err = p.CreateFile(ctx, &models.File{ID: fileID, UserID: "u-1"})
	assert.ErrorIs(t, err, common.ErrorValidation)
	_, err = p.CreateUser(ctx, &models.User{ID: "u-1"})
	assert.ErrorIs(t, err, common.ErrorValidation)

	require.NoError(t, mock.ExpectationsWereMet())
}
