package catalog

import (
	"context"
	"log/slog"
)

// LockToggle is the entry point for the user's auto-update opt-out. A lock
// change never affects notifications already emitted; the scheduler reads
// the flag again on its next tick.
type LockToggle struct {
	store  *Store
	logger *slog.Logger
}

// NewLockToggle creates a LockToggle over store.
func NewLockToggle(store *Store, logger *slog.Logger) *LockToggle {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockToggle{store: store, logger: logger}
}

// Toggle flips the lock of id and returns the updated record.
func (l *LockToggle) Toggle(ctx context.Context, id string) (*PluginRecord, error) {
	rec, err := l.store.ToggleLock(ctx, id)
	if err != nil {
		return nil, err
	}
	l.logger.Info("plugin lock toggled", "id", id, "locked", rec.Locked)
	return rec, nil
}
