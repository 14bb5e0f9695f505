package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNoSyncStatus is returned when no sync has been recorded for a source.
var ErrNoSyncStatus = errors.New("no sync has been recorded")

const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncStatusRecord persists the outcome of the last sync so it survives
// restarts. It lives in its own table so a failed sync never touches
// catalog_plugins.
type SyncStatusRecord struct {
	Source          string     `gorm:"primaryKey;column:source;type:varchar(191)" json:"source"`
	RunID           string     `gorm:"column:run_id" json:"run_id"`
	LastSyncTime    *time.Time `gorm:"column:last_sync_time" json:"last_sync_time"`
	LastSyncStatus  string     `gorm:"column:last_sync_status" json:"last_sync_status"`   // "success", "error"
	LastSyncSummary string     `gorm:"column:last_sync_summary" json:"last_sync_summary"` // e.g. "Loaded 6 plugins"
	LastError       string     `gorm:"column:last_error" json:"last_error,omitempty"`
	PluginsLoaded   int        `gorm:"column:plugins_loaded" json:"plugins_loaded"`
	PluginsSkipped  int        `gorm:"column:plugins_skipped" json:"plugins_skipped"`
	DurationMs      int64      `gorm:"column:duration_ms" json:"duration_ms"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default table name.
func (SyncStatusRecord) TableName() string {
	return "catalog_sync_status"
}

// SaveSyncStatus creates or replaces the status row of rec.Source.
func (s *Store) SaveSyncStatus(ctx context.Context, rec *SyncStatusRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return persistenceError("save sync status", err)
	}
	return nil
}

// LastSyncStatus loads the status row of source.
func (s *Store) LastSyncStatus(ctx context.Context, source string) (*SyncStatusRecord, error) {
	var rec SyncStatusRecord
	if err := s.db.WithContext(ctx).First(&rec, "source = ?", source).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSyncStatus
		}
		return nil, persistenceError("load sync status", err)
	}
	return &rec, nil
}

// formatSyncSummary creates a human-readable summary of one sync run.
func formatSyncSummary(loaded, skipped int, err error) string {
	if err != nil {
		return "Sync failed"
	}
	if skipped > 0 {
		return fmt.Sprintf("Loaded %d plugins, skipped %d", loaded, skipped)
	}
	return fmt.Sprintf("Loaded %d plugins", loaded)
}
