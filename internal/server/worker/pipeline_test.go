package worker

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/cryptox"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/ingest"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/notify"
	"github.com/dmitrijs2005/outofsight/internal/server/processing"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
	"github.com/dmitrijs2005/outofsight/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePDF = []byte("%PDF-1.7\n1 0 obj << /Type /Catalog >> endobj\n%%EOF\n")

type mail struct {
	to, subject string
}

type recordingMailer struct {
	mu    sync.Mutex
	mails []mail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, mail{to, subject})
	return nil
}

func (m *recordingMailer) sent() []mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail(nil), m.mails...)
}

type harness struct {
	reg      *registry.Memory
	store    *storage.Memory
	q        *queue.Memory
	ingest   *ingest.Orchestrator
	handler  *Handler
	consumer *Consumer
	mailer   *recordingMailer
	now      time.Time
}

func newHarness(t *testing.T, processorKeys *cryptox.KeyManager) *harness {
	t.Helper()

	keys := cryptox.NewKeyManager([]byte("root"))
	if processorKeys == nil {
		processorKeys = keys
	}

	h := &harness{
		reg:    registry.NewMemory(),
		store:  storage.NewMemory(),
		q:      queue.NewMemory(time.Minute, 10*time.Millisecond),
		mailer: &recordingMailer{},
		now:    time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	h.q.SetClock(func() time.Time { return h.now })

	h.ingest = ingest.NewOrchestrator(keys, h.store, h.reg, h.q, ingest.Options{}, logging.Nop{})
	h.handler = NewHandler(h.reg,
		processing.NewProcessor(processorKeys, h.store, logging.Nop{}),
		h.q,
		notify.NewDispatcher(h.mailer, logging.Nop{}),
		logging.Nop{})
	h.consumer = NewConsumer(h.q, h.handler, Options{MaxAttempts: 3, VisibilityTimeout: time.Minute}, logging.Nop{})

	_, err := h.reg.CreateUser(context.Background(), &models.User{ID: "u1", Nickname: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	return h
}

// drain processes visible messages until none are left.
func (h *harness) drain(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		ds, err := h.q.Receive(ctx, 10)
		require.NoError(t, err)
		if len(ds) == 0 {
			return
		}
		for _, d := range ds {
			h.consumer.Process(ctx, d)
		}
	}
	t.Fatal("queue did not drain")
}

func (h *harness) history(t *testing.T, fileID string) []models.Status {
	t.Helper()

	hist, err := h.reg.History(context.Background(), fileID)
	require.NoError(t, err)
	var out []models.Status
	for _, e := range hist {
		out = append(out, e.Status)
	}
	return out
}

var fullPath = []models.Status{models.StatusUploaded, models.StatusQueued, models.StatusProcessing, models.StatusProcessed}

func TestPipeline_IngestQueuesEncryptedFile(t *testing.T) {
	h := newHarness(t, nil)

	file, err := h.ingest.Ingest(context.Background(), "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	assert.Equal(t, models.StatusQueued, file.Status)
	assert.Equal(t, []models.Status{models.StatusUploaded, models.StatusQueued}, h.history(t, file.ID))
	assert.Equal(t, 1, h.store.Len())

	blob, err := h.store.Get(context.Background(), file.Location)
	require.NoError(t, err)
	assert.NotEqual(t, samplePDF, blob)
}

func TestPipeline_FullRun(t *testing.T) {
	h := newHarness(t, nil)

	file, err := h.ingest.Ingest(context.Background(), "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	h.drain(t)

	assert.Equal(t, fullPath, h.history(t, file.ID))
	assert.Equal(t, 0, h.q.Len())
	assert.Empty(t, h.q.DeadLetters())
	assert.Equal(t, []mail{{"alice@example.com", "report.pdf is ready"}}, h.mailer.sent())
}

func TestPipeline_RejectedContentFails(t *testing.T) {
	h := newHarness(t, nil)

	file, err := h.ingest.Ingest(context.Background(), "u1", "fake.pdf", bytes.NewReader([]byte("just text")))
	require.NoError(t, err)

	h.drain(t)

	assert.Equal(t, []models.Status{models.StatusUploaded, models.StatusQueued, models.StatusProcessing, models.StatusFailed}, h.history(t, file.ID))
	assert.Equal(t, []mail{{"alice@example.com", "fake.pdf could not be processed"}}, h.mailer.sent())
}

func TestPipeline_DuplicateDeliveryRecordsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	file, err := h.ingest.Ingest(ctx, "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	// the transport hands out the same message twice
	dup := &queue.StatusUpdate{FileID: file.ID, UserID: "u1", Location: file.Location, FileType: "pdf", Target: models.StatusProcessing}
	require.NoError(t, h.q.Enqueue(ctx, dup))
	require.NoError(t, h.q.Enqueue(ctx, dup))

	h.drain(t)

	assert.Equal(t, fullPath, h.history(t, file.ID))
	assert.Len(t, h.mailer.sent(), 1)
}

func TestPipeline_CrashBeforeAckIsRedelivered(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	file, err := h.ingest.Ingest(ctx, "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	first, err := h.q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// the worker does the work and dies before acking
	require.NoError(t, h.handler.Handle(ctx, first[0]))

	h.now = h.now.Add(2 * time.Minute)

	again, err := h.q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, 2, again[0].Attempt)

	h.consumer.Process(ctx, again[0])
	h.drain(t)

	assert.Equal(t, fullPath, h.history(t, file.ID))
	assert.Len(t, h.mailer.sent(), 1)
	assert.Equal(t, 0, h.q.Len())
}

func TestPipeline_EarlyMessageWaitsForPredecessor(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	keys := cryptox.NewKeyManager([]byte("root"))
	wk, ct, err := keys.SealFile("u1", "f-early", samplePDF)
	require.NoError(t, err)
	loc, err := h.store.Put(ctx, storage.ObjectKey("u1", "f-early"), ct)
	require.NoError(t, err)
	_, err = h.reg.CreateFile(ctx, &models.File{ID: "f-early", UserID: "u1", Location: loc, Filename: "e.pdf", FileType: "pdf", SizeBytes: int64(len(samplePDF)), WrappedKey: wk})
	require.NoError(t, err)

	require.NoError(t, h.q.Enqueue(ctx, &queue.StatusUpdate{FileID: "f-early", UserID: "u1", Location: loc, FileType: "pdf", Target: models.StatusProcessing}))

	h.drain(t)
	assert.Equal(t, []models.Status{models.StatusUploaded}, h.history(t, "f-early"))
	assert.Equal(t, 1, h.q.Len())
	assert.Empty(t, h.q.DeadLetters())

	_, err = h.reg.AppendStatus(ctx, "f-early", models.StatusQueued, nil)
	require.NoError(t, err)
	h.now = h.now.Add(2 * time.Minute)

	h.drain(t)
	assert.Equal(t, fullPath, h.history(t, "f-early"))
}

func TestPipeline_IllegalTransitionIsDeadLettered(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	file, err := h.ingest.Ingest(ctx, "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	// an operator failed the file before the worker got to it
	_, err = h.reg.AppendStatus(ctx, file.ID, models.StatusFailed, nil)
	require.NoError(t, err)

	h.drain(t)

	dl := h.q.DeadLetters()
	require.Len(t, dl, 1)
	assert.Contains(t, dl[0].Reason, "permanent")
	assert.Equal(t, []models.Status{models.StatusUploaded, models.StatusQueued, models.StatusFailed}, h.history(t, file.ID))
	assert.Empty(t, h.mailer.sent())
}

func TestPipeline_PermanentProcessingErrorFailsFile(t *testing.T) {
	h := newHarness(t, cryptox.NewKeyManager([]byte("another root")))

	file, err := h.ingest.Ingest(context.Background(), "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	h.drain(t)

	// a wrong root secret cannot unwrap the key: the verdict is "failed"
	assert.Equal(t, []models.Status{models.StatusUploaded, models.StatusQueued, models.StatusProcessing, models.StatusFailed}, h.history(t, file.ID))
	assert.Equal(t, []mail{{"alice@example.com", "report.pdf could not be processed"}}, h.mailer.sent())
}

func TestPipeline_DeadLetterMovesFileToFailed(t *testing.T) {
	h := newHarness(t, cryptox.NewKeyManager(nil))

	file, err := h.ingest.Ingest(context.Background(), "u1", "report.pdf", bytes.NewReader(samplePDF))
	require.NoError(t, err)

	h.drain(t)

	require.Len(t, h.q.DeadLetters(), 1)
	assert.Equal(t, []models.Status{models.StatusUploaded, models.StatusQueued, models.StatusProcessing, models.StatusFailed}, h.history(t, file.ID))
	assert.Equal(t, []mail{{"alice@example.com", "report.pdf could not be processed"}}, h.mailer.sent())
}

func TestPipeline_MalformedMessageIsDeadLettered(t *testing.T) {
	h := newHarness(t, nil)

	h.q.EnqueueRaw("raw", []byte(`{"kind":"resize"}`))
	h.drain(t)

	dl := h.q.DeadLetters()
	require.Len(t, dl, 1)
	assert.Contains(t, dl[0].Reason, "unknown message kind")
}

func TestPipeline_SignupNotificationIsMailed(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.q.Enqueue(context.Background(), &queue.Notification{
		Event:      models.EventSignup,
		UserID:     "u1",
		Email:      "alice@example.com",
		Nickname:   "alice",
		ConfirmURL: "https://x/confirm?token=t",
		IssuedAt:   time.Now(),
		ExpiresAt:  time.Now().Add(30 * time.Minute),
	}))
	h.drain(t)

	assert.Equal(t, []mail{{"alice@example.com", "Confirm your OutOfSight account"}}, h.mailer.sent())
	assert.Equal(t, 0, h.q.Len())
}
