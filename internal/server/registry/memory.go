package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
)

// Memory is an in-process Store used in memory mode and tests. A single
// mutex plays the role of the row lock.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	files   map[string]*models.File
	history map[string][]*models.StatusHistory
	users   map[string]*models.User
	emails  map[string]string
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{
		now:     time.Now,
		files:   make(map[string]*models.File),
		history: make(map[string][]*models.StatusHistory),
		users:   make(map[string]*models.User),
		emails:  make(map[string]string),
	}
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) CreateFile(_ context.Context, f *models.File) (*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[f.ID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	for _, existing := range m.files {
		if existing.Location == f.Location {
			return nil, common.ErrorAlreadyExists
		}
	}

	now := m.now()
	f.Status = models.StatusUploaded
	f.CreatedAt, f.UpdatedAt = now, now

	stored := *f
	m.files[f.ID] = &stored
	m.appendLocked(f.ID, models.StatusUploaded, now)
	return f, nil
}

func (m *Memory) AppendStatus(_ context.Context, fileID string, status models.Status, guard Guard) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown status %d", common.ErrorValidation, int(status))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return false, common.ErrorNotFound
	}

	for _, h := range m.history[fileID] {
		if h.Status == status {
			return false, nil
		}
	}

	if guard != nil {
		if err := guard(f.Status); err != nil {
			return false, err
		}
	}

	now := m.now()
	m.appendLocked(fileID, status, now)
	f.Status = status
	f.UpdatedAt = now
	return true, nil
}

func (m *Memory) appendLocked(fileID string, status models.Status, at time.Time) {
	m.nextID++
	m.history[fileID] = append(m.history[fileID], &models.StatusHistory{
		ID: m.nextID, FileID: fileID, Status: status, CreatedAt: at,
	})
}

func (m *Memory) LatestStatus(ctx context.Context, fileID string) (models.Status, error) {
	f, err := m.GetFile(ctx, fileID)
	if err != nil {
		return models.StatusUnknown, err
	}
	return f.Status, nil
}

func (m *Memory) GetFile(_ context.Context, fileID string) (*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) History(_ context.Context, fileID string) ([]*models.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.history[fileID]
	out := make([]*models.StatusHistory, 0, len(src))
	for _, h := range src {
		cp := *h
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (m *Memory) ListStale(_ context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.File
	for _, f := range m.files {
		if f.Status == status && f.UpdatedAt.Before(cutoff) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.File
	for _, f := range m.files {
		if f.UserID == userID && f.DeletedAt == nil {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkFileDeleted(_ context.Context, fileID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return false, common.ErrorNotFound
	}
	if f.DeletedAt != nil {
		return false, nil
	}
	f.DeletedAt = &at
	f.WrappedKey = nil
	f.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.emails[u.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	if _, ok := m.users[u.ID]; ok {
		return nil, common.ErrorAlreadyExists
	}

	u.CreatedAt = m.now()
	stored := *u
	m.users[u.ID] = &stored
	m.emails[u.Email] = u.ID
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	id, ok := m.emails[email]
	m.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return m.GetUser(ctx, id)
}

func (m *Memory) MarkConfirmed(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.Confirmed {
		return false, nil
	}
	u.Confirmed = true
	u.ConfirmedAt = &at
	return true, nil
}

func (m *Memory) UpdateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[u.ID]
	if !ok {
		return common.ErrorNotFound
	}
	if owner, taken := m.emails[u.Email]; taken && owner != u.ID {
		return common.ErrorAlreadyExists
	}

	delete(m.emails, stored.Email)
	m.emails[u.Email] = u.ID
	stored.Nickname = u.Nickname
	stored.Email = u.Email
	stored.PasswordHash = u.PasswordHash
	stored.Confirmed = u.Confirmed
	stored.ConfirmedAt = u.ConfirmedAt
	return nil
}

func (m *Memory) DisableUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Disabled = true
	return nil
}
