package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

// InstallState is the part of the catalog store the recorder writes to.
type InstallState interface {
	MarkInstalled(ctx context.Context, id, installPath, version string) (*catalog.PluginRecord, error)
	MarkUninstalled(ctx context.Context, id string) (*catalog.PluginRecord, error)
}

// Recorder applies lifecycle outcomes to the catalog.
type Recorder struct {
	state  InstallState
	logger *slog.Logger
}

// NewRecorder creates a recorder over state.
func NewRecorder(state InstallState, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{state: state, logger: logger}
}

// Apply records one outcome and returns the updated record.
func (r *Recorder) Apply(ctx context.Context, o Outcome) (*catalog.PluginRecord, error) {
	switch m := o.(type) {
	case InstallSucceeded:
		rec, err := r.state.MarkInstalled(ctx, m.ID, m.InstallPath, m.Version)
		if err != nil {
			return nil, err
		}
		r.logger.Info("plugin installed", "id", m.ID, "version", m.Version, "path", m.InstallPath)
		return rec, nil
	case InstallRemoved:
		rec, err := r.state.MarkUninstalled(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		r.logger.Info("plugin removed", "id", m.ID)
		return rec, nil
	default:
		return nil, fmt.Errorf("unsupported lifecycle outcome %T", o)
	}
}

// Run applies outcomes until the channel closes or ctx is done. Failures
// are logged and never stop the loop.
func (r *Recorder) Run(ctx context.Context, outcomes <-chan Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			if _, err := r.Apply(ctx, o); err != nil {
				r.logger.Error("failed to record lifecycle outcome", "id", o.PluginID(), "error", err)
			}
		}
	}
}
