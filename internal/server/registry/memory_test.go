package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFile(t *testing.T, m *Memory, id string) {
	t.Helper()
	_, err := m.CreateFile(context.Background(), &models.File{ID: id, UserID: "u-1", Location: "loc/" + id})
	require.NoError(t, err)
}

func TestMemory_CreateFile(t *testing.T) {
	m := NewMemory()
	seedFile(t, m, "f-1")

	f, err := m.GetFile(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, f.Status)

	h, err := m.History(context.Background(), "f-1")
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, models.StatusUploaded, h[0].Status)

	_, err = m.CreateFile(context.Background(), &models.File{ID: "f-1"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
	_, err = m.CreateFile(context.Background(), &models.File{ID: "f-2", Location: "loc/f-1"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestMemory_AppendStatus_ConcurrentDuplicates(t *testing.T) {
	m := NewMemory()
	seedFile(t, m, "f-1")

	var wg sync.WaitGroup
	var inserted atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.AppendStatus(context.Background(), "f-1", models.StatusQueued, nil)
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	h, _ := m.History(context.Background(), "f-1")
	assert.Len(t, h, 2)
}

func TestMemory_AppendStatus_GuardAndNotFound(t *testing.T) {
	m := NewMemory()
	seedFile(t, m, "f-1")

	_, err := m.AppendStatus(context.Background(), "ghost", models.StatusQueued, nil)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = m.AppendStatus(context.Background(), "f-1", models.StatusUnknown, nil)
	assert.ErrorIs(t, err, common.ErrorValidation)

	veto := assert.AnError
	ok, err := m.AppendStatus(context.Background(), "f-1", models.StatusProcessed, func(current models.Status) error {
		assert.Equal(t, models.StatusUploaded, current)
		return veto
	})
	assert.ErrorIs(t, err, veto)
	assert.False(t, ok)

	s, _ := m.LatestStatus(context.Background(), "f-1")
	assert.Equal(t, models.StatusUploaded, s)
}

func TestMemory_ListStale(t *testing.T) {
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	m.SetClock(func() time.Time { return base })
	seedFile(t, m, "old")
	m.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	seedFile(t, m, "new")
	seedFile(t, m, "queued")
	_, err := m.AppendStatus(context.Background(), "queued", models.StatusQueued, nil)
	require.NoError(t, err)

	stale, err := m.ListStale(context.Background(), models.StatusUploaded, base.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	all, err := m.ListStale(context.Background(), models.StatusUploaded, base.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "old", all[0].ID)
}

func TestMemory_Users(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.CreateUser(ctx, &models.User{ID: "u-1", Email: "a@example.com"})
	require.NoError(t, err)
	_, err = m.CreateUser(ctx, &models.User{ID: "u-2", Email: "a@example.com"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	u, err := m.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)

	changed, err := m.MarkConfirmed(ctx, "u-1", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	changed, _ = m.MarkConfirmed(ctx, "u-1", time.Now())
	assert.False(t, changed)

	require.NoError(t, m.DisableUser(ctx, "u-1"))
	u, _ = m.GetUser(ctx, "u-1")
	assert.True(t, u.Disabled)
	assert.ErrorIs(t, m.DisableUser(ctx, "ghost"), common.ErrorNotFound)
}

var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)

func TestMemory_MarkFileDeleted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedFile(t, m, "f-1")
	seedFile(t, m, "f-2")

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	deleted, err := m.MarkFileDeleted(ctx, "f-1", at)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.MarkFileDeleted(ctx, "f-1", at)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")

	_, err = m.MarkFileDeleted(ctx, "ghost", at)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	f, err := m.GetFile(ctx, "f-1")
	require.NoError(t, err)
	require.NotNil(t, f.DeletedAt)
	assert.True(t, f.DeletedAt.Equal(at))
	assert.Empty(t, f.WrappedKey)

	h, err := m.History(ctx, "f-1")
	require.NoError(t, err)
	assert.Len(t, h, 1, "history survives deletion")

	files, err := m.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f-2", files[0].ID)
}

func TestMemory_UpdateUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.CreateUser(ctx, &models.User{ID: "u-1", Nickname: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	_, err = m.CreateUser(ctx, &models.User{ID: "u-2", Nickname: "bob", Email: "bob@example.com"})
	require.NoError(t, err)

	err = m.UpdateUser(ctx, &models.User{ID: "u-1", Nickname: "al", Email: "bob@example.com"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	err = m.UpdateUser(ctx, &models.User{ID: "ghost", Email: "ghost@example.com"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, m.UpdateUser(ctx, &models.User{ID: "u-1", Nickname: "al", Email: "al@example.com", PasswordHash: "h2"}))

	u, err := m.GetUserByEmail(ctx, "al@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	assert.Equal(t, "al", u.Nickname)
	assert.Equal(t, "h2", u.PasswordHash)

	_, err = m.GetUserByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, common.ErrorNotFound, "old email is released")

	_, err = m.CreateUser(ctx, &models.User{ID: "u-3", Email: "alice@example.com"})
	require.NoError(t, err)
}
