// Package ingest turns an uploaded plaintext into an encrypted blob, a
// registry record and a processing message, serves decrypted downloads
// back to the owner and deletes finished files on the owner's request.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/cryptox"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/lifecycle"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/queue"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
	"github.com/dmitrijs2005/outofsight/internal/server/storage"
	"github.com/google/uuid"
)

type Options struct {
	MaxFileSize  int64
	AllowedTypes []string
}

type Orchestrator struct {
	keys    *cryptox.KeyManager
	store   storage.Store
	reg     registry.Store
	queue   queue.Queue
	machine *lifecycle.Machine
	opts    Options
	logger  logging.Logger
}

func NewOrchestrator(keys *cryptox.KeyManager, store storage.Store, reg registry.Store, q queue.Queue, opts Options, l logging.Logger) *Orchestrator {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = common.DefaultMaxFileSize
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = []string{common.FileTypePDF}
	}
	l = l.With("module", "ingest")
	return &Orchestrator{
		keys:    keys,
		store:   store,
		reg:     reg,
		queue:   q,
		machine: lifecycle.NewMachine(reg, l),
		opts:    opts,
		logger:  l,
	}
}

// FileType derives the type tag from the filename extension.
func FileType(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Ingest stores r for userID. The returned file is "queued" when the
// processing message went out and "uploaded" when it did not; in the latter
// case the reconciler picks it up later.
func (o *Orchestrator) Ingest(ctx context.Context, userID, filename string, r io.Reader) (*models.File, error) {
	user, err := o.reg.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, common.ErrUserDisabled
	}

	fileType := FileType(filename)
	if !slices.Contains(o.opts.AllowedTypes, fileType) {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedType, fileType)
	}

	plaintext, err := io.ReadAll(io.LimitReader(r, o.opts.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	defer common.WipeByteArray(plaintext)

	if len(plaintext) == 0 {
		return nil, common.ErrEmptyFile
	}
	if int64(len(plaintext)) > o.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", common.ErrFileTooLarge, o.opts.MaxFileSize)
	}

	fileID := uuid.NewString()
	log := o.logger.With("file_id", fileID, "user_id", userID)

	wk, ciphertext, err := o.keys.SealFile(userID, fileID, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	location, err := o.store.Put(ctx, storage.ObjectKey(userID, fileID), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	file, err := o.reg.CreateFile(ctx, &models.File{
		ID:         fileID,
		UserID:     userID,
		Location:   location,
		Filename:   filepath.Base(filename),
		FileType:   fileType,
		SizeBytes:  int64(len(plaintext)),
		WrappedKey: wk,
	})
	if err != nil {
		if derr := o.store.Delete(ctx, location); derr != nil {
			log.Error(ctx, "orphaned blob after registry failure", "location", location, "error", derr)
		}
		return nil, fmt.Errorf("register file: %w", err)
	}
	log.Info(ctx, "file uploaded", "location", location, "size", file.SizeBytes)

	err = o.queue.Enqueue(ctx, &queue.StatusUpdate{
		FileID:   file.ID,
		UserID:   userID,
		Location: location,
		FileType: fileType,
		Target:   models.StatusProcessing,
	})
	if err != nil {
		log.Warn(ctx, "enqueue failed, file left for reconciliation", "error", err)
		return file, nil
	}

	if _, err := o.machine.Apply(ctx, file.ID, models.StatusQueued); err != nil {
		// A worker may already have moved the file on.
		log.Warn(ctx, "record queued", "error", err)
	}

	if latest, err := o.reg.LatestStatus(ctx, file.ID); err == nil {
		file.Status = latest
	}
	return file, nil
}

// Open returns the decrypted content of fileID. Files of other users look
// like missing files.
func (o *Orchestrator) Open(ctx context.Context, userID, fileID string) (*models.File, []byte, error) {
	file, err := o.reg.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.UserID != userID || file.DeletedAt != nil {
		return nil, nil, common.ErrorNotFound
	}

	ciphertext, err := o.store.Get(ctx, file.Location)
	if err != nil {
		return nil, nil, fmt.Errorf("download: %w", err)
	}

	plaintext, err := o.keys.OpenFile(file.UserID, file.ID, file.WrappedKey, ciphertext)
	if err != nil {
		if errors.Is(err, cryptox.ErrIntegrity) || errors.Is(err, cryptox.ErrUnwrap) {
			o.logger.Error(ctx, "stored ciphertext failed verification", "file_id", fileID, "error", err)
		}
		return nil, nil, err
	}
	return file, plaintext, nil
}

// Delete removes the ciphertext of a processed or failed file and marks the
// record deleted. The status history is kept. Files still in flight are
// refused, and files of other users look like missing files.
func (o *Orchestrator) Delete(ctx context.Context, userID, fileID string) error {
	file, err := o.reg.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.UserID != userID || file.DeletedAt != nil {
		return common.ErrorNotFound
	}
	if !file.Status.Terminal() {
		return fmt.Errorf("%w: file is %s", common.ErrorValidation, file.Status)
	}

	log := o.logger.With("file_id", fileID, "user_id", userID)

	if err := o.store.Delete(ctx, file.Location); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}

	deleted, err := o.reg.MarkFileDeleted(ctx, fileID, time.Now())
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	if !deleted {
		return common.ErrorNotFound
	}

	log.Info(ctx, "file deleted", "location", file.Location)
	return nil
}
