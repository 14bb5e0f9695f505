package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sketchpacks/plugin-catalog/pkg/registry"
)

// DefaultSource is the status key used for the registry catalog.
const DefaultSource = "registry"

const syncKey = "sync"

// Fetcher reads the full registry snapshot. *registry.Client implements it.
type Fetcher interface {
	FetchCatalog(ctx context.Context) ([]*registry.Descriptor, error)
}

// Engine reconciles the registry snapshot into the Store.
//
// Concurrent Sync calls are coalesced: while one fetch is in flight every
// other caller waits for it and receives its result. The fetch runs
// detached from the caller's context, so a caller that gives up does not
// abort the merge.
type Engine struct {
	store   *Store
	fetcher Fetcher
	source  string
	logger  *slog.Logger
	group   singleflight.Group
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSource sets the key the sync status is stored under.
func WithSource(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.source = name
		}
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a sync engine.
func NewEngine(store *Store, fetcher Fetcher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		fetcher: fetcher,
		source:  DefaultSource,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync fetches the registry catalog and merges it into the store, returning
// the merged records. Fetch or decode failures return *SyncFailedError and
// leave the store untouched.
func (e *Engine) Sync(ctx context.Context) ([]PluginRecord, error) {
	ch := e.group.DoChan(syncKey, func() (any, error) {
		return e.run(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		records := res.Val.([]PluginRecord)
		return append([]PluginRecord(nil), records...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LastStatus returns the persisted outcome of the most recent sync.
func (e *Engine) LastStatus(ctx context.Context) (*SyncStatusRecord, error) {
	return e.store.LastSyncStatus(ctx, e.source)
}

func (e *Engine) run(ctx context.Context) ([]PluginRecord, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "source", e.source)

	descriptors, err := e.fetcher.FetchCatalog(ctx)
	if err != nil {
		err = &SyncFailedError{Cause: err}
		logger.Error("catalog sync failed", "error", err)
		e.saveStatus(ctx, runID, start, 0, 0, err)
		return nil, err
	}

	records := make([]PluginRecord, 0, len(descriptors))
	skipped := 0
	for _, d := range descriptors {
		if d.Empty() {
			skipped++
			continue
		}
		records = append(records, RecordFromDescriptor(d))
	}
	if skipped > 0 {
		logger.Warn("discarded empty catalog entries", "count", skipped)
	}

	merged, err := e.store.UpsertRemote(ctx, records)
	if err != nil {
		logger.Error("catalog merge failed", "error", err)
		e.saveStatus(ctx, runID, start, 0, skipped, err)
		return nil, err
	}

	logger.Info("catalog sync complete", "loaded", len(merged), "skipped", skipped, "duration", time.Since(start))
	e.saveStatus(ctx, runID, start, len(merged), skipped, nil)
	return merged, nil
}

func (e *Engine) saveStatus(ctx context.Context, runID string, start time.Time, loaded, skipped int, syncErr error) {
	now := time.Now()
	status := SyncStatusSuccess
	lastErr := ""
	if syncErr != nil {
		status = SyncStatusError
		lastErr = syncErr.Error()
	}

	record := SyncStatusRecord{
		Source:          e.source,
		RunID:           runID,
		LastSyncTime:    &now,
		LastSyncStatus:  status,
		LastSyncSummary: formatSyncSummary(loaded, skipped, syncErr),
		LastError:       lastErr,
		PluginsLoaded:   loaded,
		PluginsSkipped:  skipped,
		DurationMs:      now.Sub(start).Milliseconds(),
	}
	if err := e.store.SaveSyncStatus(ctx, &record); err != nil {
		e.logger.Error("failed to save sync status", "run_id", runID, "error", err)
	}
}
