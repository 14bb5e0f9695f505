package cache

import (
	"net/http"
	"net/url"
)

// RecordPathPrefix is the URL prefix of single-plugin responses.
const RecordPathPrefix = "/api/v1/plugins/"

// Manager holds one cache for view listings and one for single records, so
// a change to one plugin drops only that plugin's record entry.
type Manager struct {
	views   *LRUCache
	records *LRUCache
}

// NewManager creates a Manager from cfg. It returns nil when caching is
// disabled; every method of a nil Manager is a no-op.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return nil
	}
	return &Manager{
		views:   NewLRUCache(cfg.MaxSize, cfg.TTL),
		records: NewLRUCache(cfg.MaxSize, cfg.TTL),
	}
}

// InvalidatePlugins drops the record entries of ids and every view, since
// any change can reorder a listing. It has the signature of the catalog
// store's change hook.
func (m *Manager) InvalidatePlugins(ids []string) {
	if m == nil {
		return
	}
	for _, id := range ids {
		m.records.Invalidate(RecordPathPrefix + url.PathEscape(id))
	}
	m.views.InvalidateAll()
}

// Stats returns the counters of both caches, keyed "views" and "records".
func (m *Manager) Stats() map[string]Stats {
	if m == nil {
		return nil
	}
	return map[string]Stats{
		"views":   m.views.Stats(),
		"records": m.records.Stats(),
	}
}

// ViewsMiddleware caches view listings.
func (m *Manager) ViewsMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return passThrough
	}
	return Middleware(m.views)
}

// RecordsMiddleware caches single-plugin responses.
func (m *Manager) RecordsMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return passThrough
	}
	return Middleware(m.records)
}

func passThrough(next http.Handler) http.Handler {
	return next
}
