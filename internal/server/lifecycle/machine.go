package lifecycle

import (
	"context"

	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server/models"
	"github.com/dmitrijs2005/outofsight/internal/server/registry"
)

// Result is the outcome of Apply. Previous is only set when Inserted is true.
type Result struct {
	FileID   string
	Target   models.Status
	Previous models.Status
	Inserted bool
}

// Machine applies transitions through the registry's atomic append.
type Machine struct {
	registry registry.Registry
	logger   logging.Logger
}

func NewMachine(r registry.Registry, l logging.Logger) *Machine {
	return &Machine{registry: r, logger: l.With("module", "lifecycle")}
}

// Apply moves fileID to target. Duplicates return Inserted=false and no
// error; illegal requests return a *TransitionError.
func (m *Machine) Apply(ctx context.Context, fileID string, target models.Status) (Result, error) {
	res := Result{FileID: fileID, Target: target}

	inserted, err := m.registry.AppendStatus(ctx, fileID, target, func(current models.Status) error {
		res.Previous = current
		return Check(fileID, current, target)
	})
	if err != nil {
		return Result{FileID: fileID, Target: target}, err
	}

	res.Inserted = inserted
	if inserted {
		m.logger.Info(ctx, "status changed", "file_id", fileID, "from", res.Previous.String(), "to", target.String())
	} else {
		res.Previous = models.StatusUnknown
		m.logger.Debug(ctx, "status already recorded", "file_id", fileID, "status", target.String())
	}
	return res, nil
}
