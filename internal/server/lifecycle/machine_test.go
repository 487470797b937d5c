package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T) (*Machine, *registry.Memory) {
	t.Helper()
	reg := registry.NewMemory()
	_, err := reg.CreateFile(context.Background(), &models.File{ID: "f-1", UserID: "u-1", Location: "loc"})
	require.NoError(t, err)
	return NewMachine(reg, logging.Nop{}), reg
}

func historyStatuses(t *testing.T, reg *registry.Memory, id string) []models.Status {
	t.Helper()
	h, err := reg.History(context.Background(), id)
	require.NoError(t, err)
	out := make([]models.Status, 0, len(h))
	for _, e := range h {
		out = append(out, e.Status)
	}
	return out
}

func TestApply_HappyPath(t *testing.T) {
	m, reg := newMachine(t)
	ctx := context.Background()

	prev := models.StatusUploaded
	for _, s := range []models.Status{models.StatusQueued, models.StatusProcessing, models.StatusProcessed} {
		res, err := m.Apply(ctx, "f-1", s)
		require.NoError(t, err)
		assert.True(t, res.Inserted)
		assert.Equal(t, prev, res.Previous)
		prev = s
	}

	assert.Equal(t, []models.Status{
		models.StatusUploaded, models.StatusQueued, models.StatusProcessing, models.StatusProcessed,
	}, historyStatuses(t, reg, "f-1"))
}

func TestApply_DuplicateIsNoOp(t *testing.T) {
	m, reg := newMachine(t)
	ctx := context.Background()

	_, err := m.Apply(ctx, "f-1", models.StatusQueued)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := m.Apply(ctx, "f-1", models.StatusQueued)
		require.NoError(t, err)
		assert.False(t, res.Inserted)
	}
	assert.Len(t, historyStatuses(t, reg, "f-1"), 2)
}

func TestApply_TerminalAcceptsOnlyItsDuplicate(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	for _, s := range []models.Status{models.StatusQueued, models.StatusProcessing, models.StatusProcessed} {
		_, err := m.Apply(ctx, "f-1", s)
		require.NoError(t, err)
	}

	res, err := m.Apply(ctx, "f-1", models.StatusProcessed)
	require.NoError(t, err)
	assert.False(t, res.Inserted)

	_, err = m.Apply(ctx, "f-1", models.StatusFailed)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.False(t, IsEarly(err))
}

func TestApply_EarlyArrival(t *testing.T) {
	m, _ := newMachine(t)

	_, err := m.Apply(context.Background(), "f-1", models.StatusProcessing)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.True(t, IsEarly(err))
}

func TestApply_UnknownFile(t *testing.T) {
	m, _ := newMachine(t)
	_, err := m.Apply(context.Background(), "ghost", models.StatusQueued)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestApply_ConcurrentProcessedAndFailed(t *testing.T) {
	m, reg := newMachine(t)
	ctx := context.Background()
	for _, s := range []models.Status{models.StatusQueued, models.StatusProcessing} {
		_, err := m.Apply(ctx, "f-1", s)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []models.Status{models.StatusProcessed, models.StatusFailed} {
		wg.Add(1)
		go func(i int, s models.Status) {
			defer wg.Done()
			_, errs[i] = m.Apply(ctx, "f-1", s)
		}(i, s)
	}
	wg.Wait()

	// exactly one terminal status wins
	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrIllegalTransition)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.Len(t, historyStatuses(t, reg, "f-1"), 4)
}
