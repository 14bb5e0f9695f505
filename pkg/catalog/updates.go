package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sketchpacks/plugin-catalog/pkg/version"
)

// UpdateAvailable reports whether r should be offered an automatic update:
// it is installed, not locked, and its installed version is strictly older
// than the registry version. A malformed version on either side is an error.
func UpdateAvailable(r *PluginRecord) (bool, error) {
	if !r.Installed || r.Locked || r.InstalledVersion == nil {
		return false, nil
	}
	older, err := version.Older(*r.InstalledVersion, r.Version)
	if err != nil {
		return false, fmt.Errorf("plugin %s: %w", r.ID, err)
	}
	return older, nil
}

// FindUpdatable returns the update-eligible records, most recently updated
// first. Records with malformed versions are left out and reported in the
// returned error, which is non-nil alongside the valid results.
func (s *Store) FindUpdatable(ctx context.Context) ([]PluginRecord, error) {
	var errs []error
	records, err := s.FindAll(ctx, Query{
		Filter: func(r *PluginRecord) bool {
			ok, err := UpdateAvailable(r)
			if err != nil {
				errs = append(errs, err)
				return false
			}
			return ok
		},
		SortBy: SortByUpdatedAt,
		Desc:   true,
	})
	if err != nil {
		return nil, err
	}
	return records, errors.Join(errs...)
}
