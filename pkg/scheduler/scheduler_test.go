package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
	"github.com/sketchpacks/plugin-catalog/pkg/registry"
)

type fakeSyncer struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeSyncer) Sync(ctx context.Context) ([]catalog.PluginRecord, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return []catalog.PluginRecord{{ID: "a"}, {ID: "b"}}, nil
}

type fakeFinder struct {
	calls   atomic.Int32
	records []catalog.PluginRecord
	err     error
}

func (f *fakeFinder) FindUpdatable(ctx context.Context) ([]catalog.PluginRecord, error) {
	f.calls.Add(1)
	return f.records, f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	ids      []string
	failFor  map[string]bool
	onNotify func(rec catalog.PluginRecord)
}

func (n *recordingNotifier) RequestInstall(ctx context.Context, rec catalog.PluginRecord) error {
	if n.onNotify != nil {
		n.onNotify(rec)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[rec.ID] {
		return errors.New("lifecycle manager unavailable")
	}
	n.ids = append(n.ids, rec.ID)
	return nil
}

func (n *recordingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

func records(ids ...string) []catalog.PluginRecord {
	out := make([]catalog.PluginRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.PluginRecord{ID: id, Version: "2.0.0"})
	}
	return out
}

func TestRunOnce_NotifiesEligibleInOrder(t *testing.T) {
	n := &recordingNotifier{}
	s := New(&fakeSyncer{}, &fakeFinder{records: records("c", "a", "b")}, n, DefaultConfig(), nil)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, []string{"c", "a", "b"}, res.Eligible)
	assert.Equal(t, 3, res.Notified)
	assert.Equal(t, []string{"c", "a", "b"}, n.notified())
}

func TestRunOnce_SyncFailureEmitsNothing(t *testing.T) {
	syncer := &fakeSyncer{err: &catalog.SyncFailedError{Cause: errors.New("connection refused")}}
	finder := &fakeFinder{records: records("a")}
	n := &recordingNotifier{}
	s := New(syncer, finder, n, DefaultConfig(), nil)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrSyncFailed)
	assert.Equal(t, int32(0), finder.calls.Load())
	assert.Empty(t, n.notified())

	// the next tick is unaffected
	syncer.err = nil
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, []string{"a"}, n.notified())
}

func TestRunOnce_NotificationFailureContinues(t *testing.T) {
	n := &recordingNotifier{failFor: map[string]bool{"b": true}}
	s := New(&fakeSyncer{}, &fakeFinder{records: records("a", "b", "c")}, n, DefaultConfig(), nil)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Notified)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"a", "c"}, n.notified())
}

func TestRunOnce_MalformedVersionsDoNotBlockOthers(t *testing.T) {
	finder := &fakeFinder{records: records("a"), err: errors.New("plugin x: malformed version")}
	n := &recordingNotifier{}
	s := New(&fakeSyncer{}, finder, n, DefaultConfig(), nil)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
}

func TestRunOnce_PersistenceFailureEndsTick(t *testing.T) {
	finder := &fakeFinder{err: &catalog.PersistenceError{Op: "find", Cause: errors.New("database is locked")}}
	n := &recordingNotifier{}
	s := New(&fakeSyncer{}, finder, n, DefaultConfig(), nil)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, catalog.ErrPersistence)
	assert.Empty(t, n.notified())
}

func TestStartStop(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, &fakeFinder{}, &recordingNotifier{}, Config{Interval: 10 * time.Millisecond}, nil)

	s.Start()
	s.Start()
	assert.True(t, s.Running())

	require.Eventually(t, func() bool { return syncer.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())

	stopped := syncer.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, syncer.calls.Load())

	// a stopped scheduler can be started again
	s.Start()
	require.Eventually(t, func() bool { return syncer.calls.Load() > stopped }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestStop_BeforeFirstTick(t *testing.T) {
	syncer := &fakeSyncer{}
	s := New(syncer, &fakeFinder{}, &recordingNotifier{}, Config{Interval: time.Hour, StartupDelay: time.Hour}, nil)

	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the pending startup timer")
	}
	assert.Equal(t, int32(0), syncer.calls.Load())
}

func TestStop_WaitsForInFlightTick(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan struct{}, 1), release: make(chan struct{})}
	n := &recordingNotifier{}
	s := New(syncer, &fakeFinder{records: records("a")}, n, Config{Interval: time.Hour}, nil)

	s.Start()
	<-syncer.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(syncer.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned")
	}

	// the in-flight tick ran to completion
	assert.Equal(t, []string{"a"}, n.notified())
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func newCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := catalog.NewStore(db)
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store
}

type staticFetcher []*registry.Descriptor

func (f staticFetcher) FetchCatalog(context.Context) ([]*registry.Descriptor, error) {
	return f, nil
}

func TestRunOnce_EligibilityExactness(t *testing.T) {
	ctx := context.Background()
	store := newCatalog(t)
	feed := staticFetcher{
		{ID: "A", Name: "a", Version: "1.1.0"},
		{ID: "B", Name: "b", Version: "1.1.0"},
		{ID: "C", Name: "c", Version: "1.1.0"},
	}
	engine := catalog.NewEngine(store, feed)

	_, err := engine.Sync(ctx)
	require.NoError(t, err)
	_, err = store.MarkInstalled(ctx, "A", "/plugins/a", "1.0.0")
	require.NoError(t, err)
	_, err = store.MarkInstalled(ctx, "B", "/plugins/b", "1.0.0")
	require.NoError(t, err)
	_, err = store.ToggleLock(ctx, "B")
	require.NoError(t, err)

	n := &recordingNotifier{}
	res, err := New(engine, store, n, DefaultConfig(), nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Eligible)
	assert.Equal(t, []string{"A"}, n.notified())
}

func TestRunOnce_LockDuringTickAppliesNextTick(t *testing.T) {
	ctx := context.Background()
	store := newCatalog(t)
	now := time.Now()
	older := now.Add(-time.Hour)
	feed := staticFetcher{
		{ID: "A", Name: "a", Version: "2.0.0", UpdatedAt: &now},
		{ID: "B", Name: "b", Version: "2.0.0", UpdatedAt: &older},
	}
	engine := catalog.NewEngine(store, feed)
	_, err := engine.Sync(ctx)
	require.NoError(t, err)
	for _, id := range []string{"A", "B"} {
		_, err := store.MarkInstalled(ctx, id, "/plugins/"+id, "1.0.0")
		require.NoError(t, err)
	}

	lock := catalog.NewLockToggle(store, nil)
	var once sync.Once
	n := &recordingNotifier{onNotify: func(rec catalog.PluginRecord) {
		once.Do(func() {
			_, err := lock.Toggle(ctx, "B")
			assert.NoError(t, err)
		})
	}}
	s := New(engine, store, n, DefaultConfig(), nil)

	_, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, n.notified())

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Eligible)
	assert.Equal(t, []string{"A", "B", "A"}, n.notified())
}
