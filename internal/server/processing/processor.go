// Package processing runs the integrity check a file goes through between
// "processing" and its terminal status.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/cryptox"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/storage"
)

var pdfMagic = []byte("%PDF-")

// Outcome is the verdict on a file. A failed verdict is final; transient
// problems are returned as errors instead.
type Outcome struct {
	OK     bool
	Reason string
}

func failed(format string, args ...any) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

type Processor struct {
	keys   *cryptox.KeyManager
	store  storage.Store
	logger logging.Logger
}

func NewProcessor(keys *cryptox.KeyManager, store storage.Store, l logging.Logger) *Processor {
	return &Processor{keys: keys, store: store, logger: l.With("module", "processing")}
}

// Process decrypts f and checks it. The plaintext never leaves this call.
func (p *Processor) Process(ctx context.Context, f *models.File) (Outcome, error) {
	ciphertext, err := p.store.Get(ctx, f.Location)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return failed("ciphertext missing at %s", f.Location), nil
		}
		return Outcome{}, err
	}

	plaintext, err := p.keys.OpenFile(f.UserID, f.ID, f.WrappedKey, ciphertext)
	switch {
	case errors.Is(err, cryptox.ErrUnwrap):
		return failed("content key does not unwrap"), nil
	case errors.Is(err, cryptox.ErrIntegrity):
		return failed("ciphertext failed authentication"), nil
	case err != nil:
		return Outcome{}, err
	}
	defer common.WipeByteArray(plaintext)

	if int64(len(plaintext)) != f.SizeBytes {
		return failed("size mismatch: recorded %d, decrypted %d", f.SizeBytes, len(plaintext)), nil
	}
	if f.FileType == common.FileTypePDF && !bytes.HasPrefix(plaintext, pdfMagic) {
		return failed("not a pdf document"), nil
	}

	p.logger.Debug(ctx, "integrity check passed", "file_id", f.ID, "size", len(plaintext))
	return Outcome{OK: true}, nil
}
