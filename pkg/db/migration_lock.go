package db

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLockName names the lock catalogd holds while migrating.
const MigrationLockName = "plugin-catalog-migration"

// MigrationLocker serialises schema migrations between daemons that share a
// database.
type MigrationLocker interface {
	// WithLock runs fn while holding the lock. It blocks until the lock is
	// acquired or ctx is done.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a locker for the dialect of gormDB. Postgres and
// MySQL use session locks held on a dedicated connection; SQLite falls back
// to a lock row, whose table is created here.
func NewMigrationLocker(gormDB *gorm.DB, name string) (MigrationLocker, error) {
	if gormDB == nil {
		return noopLocker{}, nil
	}
	switch gormDB.Dialector.Name() {
	case "postgres":
		return &sessionLocker{
			db:      gormDB,
			acquire: "SELECT pg_advisory_lock($1)",
			release: "SELECT pg_advisory_unlock($1)",
			key:     int64(crc32.ChecksumIEEE([]byte(name))),
		}, nil
	case "mysql":
		// GET_LOCK reports failure in its result: 0 on timeout, NULL on error
		return &sessionLocker{
			db:          gormDB,
			acquire:     "SELECT GET_LOCK(?, -1)",
			release:     "SELECT RELEASE_LOCK(?)",
			key:         name,
			checkResult: true,
		}, nil
	default:
		// the table must exist before concurrent WithLock calls
		if err := gormDB.AutoMigrate(&migrationLockRecord{}); err != nil {
			return nil, fmt.Errorf("failed to create migration lock table: %w", err)
		}
		return &rowLocker{db: gormDB, name: name}, nil
	}
}

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// sessionLocker takes a lock scoped to one database session, so acquire and
// release must run on the same pooled connection.
type sessionLocker struct {
	db      *gorm.DB
	acquire string
	release string
	key     any
	// checkResult requires the acquire query to return 1
	checkResult bool
}

func (l *sessionLocker) WithLock(ctx context.Context, fn func() error) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve lock connection: %w", err)
	}
	defer conn.Close()

	if err := l.lock(ctx, conn); err != nil {
		return err
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), l.release, l.key)
	}()

	return fn()
}

func (l *sessionLocker) lock(ctx context.Context, conn *sql.Conn) error {
	if !l.checkResult {
		if _, err := conn.ExecContext(ctx, l.acquire, l.key); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		return nil
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, l.acquire, l.key).Scan(&got); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return fmt.Errorf("failed to acquire migration lock %v: server returned %v", l.key, nullString(got))
	}
	return nil
}

func nullString(v sql.NullInt64) string {
	if !v.Valid {
		return "NULL"
	}
	return fmt.Sprint(v.Int64)
}

type migrationLockRecord struct {
	Name     string    `gorm:"primaryKey;column:name;type:varchar(191)"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "catalog_migration_lock" }

const (
	rowLockRetries  = 30
	rowLockInterval = time.Second
	rowLockStaleAge = 5 * time.Minute
)

// rowLocker inserts a lock row and retries while another holder owns it.
// Rows older than rowLockStaleAge are treated as left over by a crash.
type rowLocker struct {
	db   *gorm.DB
	name string
}

func (l *rowLocker) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	row := migrationLockRecord{Name: l.name, LockedBy: fmt.Sprintf("%s/%d", hostname, os.Getpid())}

	for i := 0; ; i++ {
		l.db.WithContext(ctx).
			Where("name = ? AND locked_at < ?", l.name, time.Now().Add(-rowLockStaleAge)).
			Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		err := l.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			break
		}
		if i == rowLockRetries-1 {
			return fmt.Errorf("failed to acquire migration lock after %d retries: %w", rowLockRetries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rowLockInterval):
		}
	}

	defer l.db.WithContext(context.WithoutCancel(ctx)).
		Where("name = ?", l.name).
		Delete(&migrationLockRecord{})

	return fn()
}
