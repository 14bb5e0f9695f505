package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 100

// Store is the only read/write surface for persisted plugin records.
// Writes to the same id are serialised; writes to different ids are not.
type Store struct {
	db       *gorm.DB
	locks    *keyLock
	logger   *slog.Logger
	onChange func(ids []string)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for skipped records and hook panics.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChangeHook registers fn to run after every committed write with the
// ids it touched.
func WithChangeHook(fn func(ids []string)) StoreOption {
	return func(s *Store) {
		s.onChange = fn
	}
}

// NewStore creates a Store over db. Call AutoMigrate before first use.
func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		locks:  newKeyLock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates or extends the catalog tables.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&PluginRecord{}, &SyncStatusRecord{}); err != nil {
		return persistenceError("migrate", err)
	}
	return nil
}

// FindAll returns the records matching q.
func (s *Store) FindAll(ctx context.Context, q Query) ([]PluginRecord, error) {
	col, err := q.column()
	if err != nil {
		return nil, err
	}
	dir := " ASC"
	if q.Desc {
		dir = " DESC"
	}

	var records []PluginRecord
	err = s.db.WithContext(ctx).
		Order(col + " IS NULL").
		Order(col + dir).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, persistenceError("find", err)
	}

	if q.Filter == nil {
		return records, nil
	}
	out := records[:0]
	for i := range records {
		if q.Filter(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out, nil
}

// All returns every record sorted by name.
func (s *Store) All(ctx context.Context) ([]PluginRecord, error) {
	return s.FindAll(ctx, ViewAll.Query())
}

// Popular returns every record sorted by score, highest first.
func (s *Store) Popular(ctx context.Context) ([]PluginRecord, error) {
	return s.FindAll(ctx, ViewPopular.Query())
}

// Newest returns every record sorted by registry update time, newest first.
func (s *Store) Newest(ctx context.Context) ([]PluginRecord, error) {
	return s.FindAll(ctx, ViewNewest.Query())
}

// Installed returns the installed records sorted by name.
func (s *Store) Installed(ctx context.Context) ([]PluginRecord, error) {
	return s.FindAll(ctx, ViewInstalled.Query())
}

// FindByID returns the record with the given id.
func (s *Store) FindByID(ctx context.Context, id string) (*PluginRecord, error) {
	var rec PluginRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, persistenceError("find", err)
	}
	return &rec, nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&PluginRecord{}).Count(&n).Error; err != nil {
		return 0, persistenceError("count", err)
	}
	return n, nil
}

// UpsertRemote merges the remote-origin fields of records into the store.
// Existing rows keep their local-origin fields; new rows start uninstalled.
// Records without an id are skipped. When an id repeats, the last one wins.
// The batch commits as a whole or not at all.
func (s *Store) UpsertRemote(ctx context.Context, records []PluginRecord) ([]PluginRecord, error) {
	byID := make(map[string]PluginRecord, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			s.logger.Warn("skipping plugin record without id", "name", rec.Name)
			continue
		}
		if _, seen := byID[rec.ID]; !seen {
			ids = append(ids, rec.ID)
		}
		byID[rec.ID] = rec.remoteOnly()
	}
	if len(ids) == 0 {
		return []PluginRecord{}, nil
	}

	release := s.locks.LockAll(ids)
	defer release()

	rows := make([]PluginRecord, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, byID[id])
	}

	var merged []PluginRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(remoteColumns),
		}).CreateInBatches(&rows, upsertBatchSize).Error
		if err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Order("id ASC").Find(&merged).Error
	})
	if err != nil {
		return nil, persistenceError("upsert", err)
	}

	s.changed(ids)
	return merged, nil
}

// ErrInvalidInstall is returned by MarkInstalled when the path or version
// is empty.
var ErrInvalidInstall = errors.New("install path and version are required")

// MarkInstalled records a successful install of version at installPath.
func (s *Store) MarkInstalled(ctx context.Context, id, installPath, version string) (*PluginRecord, error) {
	if installPath == "" || version == "" {
		return nil, ErrInvalidInstall
	}
	return s.mutate(ctx, "mark installed", id, func(rec *PluginRecord) map[string]any {
		return map[string]any{
			"installed":         true,
			"install_path":      installPath,
			"installed_version": version,
		}
	})
}

// MarkUninstalled resets every local-origin field to its default.
func (s *Store) MarkUninstalled(ctx context.Context, id string) (*PluginRecord, error) {
	return s.mutate(ctx, "mark uninstalled", id, func(rec *PluginRecord) map[string]any {
		return map[string]any{
			"installed":         false,
			"install_path":      nil,
			"installed_version": nil,
			"locked":            false,
		}
	})
}

// ToggleLock flips the auto-update opt-out flag.
func (s *Store) ToggleLock(ctx context.Context, id string) (*PluginRecord, error) {
	return s.mutate(ctx, "toggle lock", id, func(rec *PluginRecord) map[string]any {
		return map[string]any{"locked": !rec.Locked}
	})
}

// mutate runs a read-modify-write of local-origin columns on one record
// while holding that record's lock.
func (s *Store) mutate(ctx context.Context, op, id string, updates func(rec *PluginRecord) map[string]any) (*PluginRecord, error) {
	release := s.locks.Lock(id)
	defer release()

	var rec PluginRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &NotFoundError{ID: id}
			}
			return err
		}
		if err := tx.Model(&PluginRecord{}).Where("id = ?", id).Updates(updates(&rec)).Error; err != nil {
			return err
		}
		return tx.First(&rec, "id = ?", id).Error
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}

	s.changed([]string{id})
	return &rec, nil
}

func (s *Store) changed(ids []string) {
	if s.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("catalog change hook panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.onChange(ids)
}
