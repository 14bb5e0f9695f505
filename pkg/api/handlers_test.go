package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sketchpacks/plugin-catalog/pkg/cache"
	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
	"github.com/sketchpacks/plugin-catalog/pkg/lifecycle"
	"github.com/sketchpacks/plugin-catalog/pkg/registry"
)

type fetchFunc func(ctx context.Context) ([]*registry.Descriptor, error)

func (f fetchFunc) FetchCatalog(ctx context.Context) ([]*registry.Descriptor, error) {
	return f(ctx)
}

type testEnv struct {
	store   *catalog.Store
	handler http.Handler
	feed    []*registry.Descriptor
	feedErr error
}

func setupTestServer(t *testing.T, withCache bool, opts ...Option) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	var mgr *cache.Manager
	if withCache {
		mgr = cache.NewManager(cache.Config{Enabled: true, TTL: time.Minute, MaxSize: 16})
	}

	env := &testEnv{}
	env.store = catalog.NewStore(db, catalog.WithChangeHook(mgr.InvalidatePlugins))
	require.NoError(t, env.store.AutoMigrate(context.Background()))

	now := time.Date(2017, 5, 1, 0, 0, 0, 0, time.UTC)
	earlier := now.Add(-24 * time.Hour)
	env.feed = []*registry.Descriptor{
		{ID: "1", Name: "measure", Version: "2.0.0", Score: 9, UpdatedAt: &earlier},
		{ID: "2", Name: "runner", Version: "1.5.0", Score: 7, UpdatedAt: &now},
	}
	engine := catalog.NewEngine(env.store, fetchFunc(func(context.Context) ([]*registry.Descriptor, error) {
		if env.feedErr != nil {
			return nil, env.feedErr
		}
		return env.feed, nil
	}))

	env.handler = NewServer(env.store, engine, append([]Option{WithCache(mgr)}, opts...)...).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func pluginIDs(list PluginList) []string {
	ids := make([]string, 0, len(list.Plugins))
	for _, p := range list.Plugins {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestHealthz(t *testing.T) {
	env := setupTestServer(t, false)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "cache")
}

func TestHealthzReportsCacheStats(t *testing.T) {
	env := setupTestServer(t, true)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)
	env.do(t, http.MethodGet, "/api/v1/plugins?view=all", "")
	env.do(t, http.MethodGet, "/api/v1/plugins?view=all", "")

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string                 `json:"status"`
		Cache  map[string]cache.Stats `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, uint64(1), body.Cache["views"].Hits)
	assert.Equal(t, uint64(1), body.Cache["views"].Misses)
	assert.Equal(t, 1, body.Cache["views"].Size)
	assert.Equal(t, 0, body.Cache["records"].Size)
}

func TestSyncAndStatus(t *testing.T) {
	env := setupTestServer(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SyncResponse](t, rec)
	assert.Equal(t, 2, resp.Loaded)
	require.NotNil(t, resp.Status)
	assert.Equal(t, catalog.SyncStatusSuccess, resp.Status.LastSyncStatus)

	rec = env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[catalog.SyncStatusRecord](t, rec).PluginsLoaded)
}

func TestSyncFailure(t *testing.T) {
	env := setupTestServer(t, false)
	env.feedErr = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "connection refused")

	rec = env.do(t, http.MethodGet, "/api/v1/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, catalog.SyncStatusError, decode[catalog.SyncStatusRecord](t, rec).LastSyncStatus)
}

func TestListPlugins(t *testing.T) {
	env := setupTestServer(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"1", "2"}},
		{"?view=popular", []string{"1", "2"}},
		{"?view=newest", []string{"2", "1"}},
		{"?view=installed", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/plugins"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			list := decode[PluginList](t, rec)
			assert.Equal(t, tt.want, pluginIDs(list))
			assert.Equal(t, len(tt.want), list.Count)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/plugins?view=trending", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPlugin(t *testing.T) {
	env := setupTestServer(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	rec := env.do(t, http.MethodGet, "/api/v1/plugins/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "measure", decode[catalog.PluginRecord](t, rec).Name)

	rec = env.do(t, http.MethodGet, "/api/v1/plugins/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstallationLifecycle(t *testing.T) {
	env := setupTestServer(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	rec := env.do(t, http.MethodPut, "/api/v1/plugins/1/installation", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/plugins/1/installation", `{"version":"1.0.0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/plugins/missing/installation", `{"install_path":"/p","version":"1.0.0"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v1/plugins/1/installation", `{"install_path":"/plugins/measure","version":"1.0.0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[catalog.PluginRecord](t, rec).Installed)

	rec = env.do(t, http.MethodGet, "/api/v1/updates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"1"}, pluginIDs(decode[PluginList](t, rec)))

	rec = env.do(t, http.MethodPost, "/api/v1/plugins/1/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[catalog.PluginRecord](t, rec).Locked)

	rec = env.do(t, http.MethodGet, "/api/v1/updates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[PluginList](t, rec).Plugins)

	rec = env.do(t, http.MethodDelete, "/api/v1/plugins/1/installation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[catalog.PluginRecord](t, rec)
	assert.False(t, removed.Installed)
	assert.False(t, removed.Locked)

	rec = env.do(t, http.MethodPost, "/api/v1/plugins/missing/lock", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdatesReportsMalformedVersions(t *testing.T) {
	env := setupTestServer(t, false)
	env.feed = append(env.feed, &registry.Descriptor{ID: "3", Name: "broken", Version: "latest"})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	for _, id := range []string{"1", "3"} {
		rec := env.do(t, http.MethodPut, "/api/v1/plugins/"+id+"/installation", `{"install_path":"/p","version":"1.0.0"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/updates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[PluginList](t, rec)
	assert.Equal(t, []string{"1"}, pluginIDs(list))
	require.Len(t, list.Warnings, 1)
	assert.True(t, strings.Contains(list.Warnings[0], "latest"))
}

func TestCacheInvalidatedByWrites(t *testing.T) {
	env := setupTestServer(t, true)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	first := env.do(t, http.MethodGet, "/api/v1/plugins?view=installed", "")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := env.do(t, http.MethodGet, "/api/v1/plugins?view=installed", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Empty(t, decode[PluginList](t, second).Plugins)

	record := env.do(t, http.MethodGet, "/api/v1/plugins/2", "")
	assert.Equal(t, "MISS", record.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", env.do(t, http.MethodGet, "/api/v1/plugins/2", "").Header().Get("X-Cache"))

	rec := env.do(t, http.MethodPut, "/api/v1/plugins/2/installation", `{"install_path":"/plugins/runner","version":"1.5.0"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	third := env.do(t, http.MethodGet, "/api/v1/plugins?view=installed", "")
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.Equal(t, []string{"2"}, pluginIDs(decode[PluginList](t, third)))

	record = env.do(t, http.MethodGet, "/api/v1/plugins/2", "")
	assert.Equal(t, "MISS", record.Header().Get("X-Cache"))
	assert.True(t, decode[catalog.PluginRecord](t, record).Installed)
}

func TestLifecycleEvents(t *testing.T) {
	env := setupTestServer(t, false)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{not json`, http.StatusBadRequest},
		{"unknown type", `{"type":"install-started","id":"1"}`, http.StatusBadRequest},
		{"missing id", `{"type":"install-removed"}`, http.StatusBadRequest},
		{"unknown plugin", `{"type":"install-succeeded","id":"missing","install_path":"/p","version":"1.0.0"}`, http.StatusNotFound},
		{"missing path", `{"type":"install-succeeded","id":"1","version":"1.0.0"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/lifecycle/events", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/lifecycle/events",
		`{"type":"install-succeeded","id":"1","install_path":"/plugins/measure","version":"1.0.0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	installed := decode[catalog.PluginRecord](t, rec)
	assert.True(t, installed.Installed)
	require.NotNil(t, installed.InstallPath)
	assert.Equal(t, "/plugins/measure", *installed.InstallPath)

	rec = env.do(t, http.MethodPost, "/api/v1/lifecycle/events", `{"type":"install-removed","id":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[catalog.PluginRecord](t, rec).Installed)
}

func TestLifecycleEventsQueued(t *testing.T) {
	outcomes := make(chan lifecycle.Outcome, 4)
	env := setupTestServer(t, false, WithOutcomes(outcomes))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/sync", "").Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lifecycle.NewRecorder(env.store, nil).Run(ctx, outcomes)

	rec := env.do(t, http.MethodPost, "/api/v1/lifecycle/events",
		`{"type":"install-succeeded","id":"2","install_path":"/plugins/runner","version":"1.5.0"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "2", decode[map[string]string](t, rec)["accepted"])

	assert.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/plugins/2", "")
		var got catalog.PluginRecord
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &got) == nil && got.Installed
	}, 2*time.Second, 10*time.Millisecond)

	// malformed events are rejected before they reach the queue
	rec = env.do(t, http.MethodPost, "/api/v1/lifecycle/events", `{"type":"install-removed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
