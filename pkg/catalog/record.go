// Package catalog owns the local plugin catalog: the persisted PluginRecord
// table, the engine that merges the registry snapshot into it, and the
// queries the rest of the application reads from it.
package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sketchpacks/plugin-catalog/pkg/registry"
)

// Owner is the publishing account of a plugin, stored as JSON text.
type Owner struct {
	Handle    string `json:"handle,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Scan implements the sql.Scanner interface for Owner.
func (o *Owner) Scan(value any) error {
	if value == nil {
		*o = Owner{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Owner: %T", value)
	}
	if len(bytes) == 0 {
		*o = Owner{}
		return nil
	}
	return json.Unmarshal(bytes, o)
}

// Value implements the driver.Valuer interface for Owner.
func (o Owner) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// PluginRecord is one row of the catalog, keyed by the registry id.
//
// Fields from Name through UpdatedAt are remote-origin and written only by
// UpsertRemote. Installed, InstallPath, InstalledVersion and Locked are
// local-origin and written only by the Store's mutators.
type PluginRecord struct {
	ID string `gorm:"primaryKey;column:id;type:varchar(191)" json:"id"`

	Name              string     `gorm:"column:name;index" json:"name"`
	Title             *string    `gorm:"column:title" json:"title,omitempty"`
	Description       string     `gorm:"column:description;type:text" json:"description"`
	Author            string     `gorm:"column:author" json:"author"`
	Owner             Owner      `gorm:"column:owner;type:text" json:"owner"`
	SourceURL         string     `gorm:"column:source_url" json:"source_url"`
	DownloadURL       string     `gorm:"column:download_url" json:"download_url"`
	ThumbnailURL      string     `gorm:"column:thumbnail_url" json:"thumbnail_url"`
	UpdateURL         string     `gorm:"column:update_url" json:"update_url,omitempty"`
	Score             float64    `gorm:"column:score;index" json:"score"`
	CompatibleVersion string     `gorm:"column:compatible_version" json:"compatible_version"`
	Version           string     `gorm:"column:version" json:"version"`
	AutoUpdates       bool       `gorm:"column:auto_updates" json:"auto_updates"`
	PublishedAt       *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`
	UpdatedAt         *time.Time `gorm:"column:updated_at;autoUpdateTime:false;index" json:"updated_at,omitempty"`

	Installed        bool    `gorm:"column:installed;index" json:"installed"`
	InstallPath      *string `gorm:"column:install_path" json:"install_path"`
	InstalledVersion *string `gorm:"column:installed_version" json:"installed_version"`
	Locked           bool    `gorm:"column:locked" json:"locked"`
}

// TableName overrides the default table name.
func (PluginRecord) TableName() string {
	return "catalog_plugins"
}

// remoteColumns are the columns a registry merge may overwrite.
var remoteColumns = []string{
	"name",
	"title",
	"description",
	"author",
	"owner",
	"source_url",
	"download_url",
	"thumbnail_url",
	"update_url",
	"score",
	"compatible_version",
	"version",
	"auto_updates",
	"published_at",
	"updated_at",
}

// DisplayName returns the title when the registry set one, else the name.
func (r *PluginRecord) DisplayName() string {
	if r.Title != nil && *r.Title != "" {
		return *r.Title
	}
	return r.Name
}

// remoteOnly returns a copy of r with every local-origin field at its
// not-installed default.
func (r PluginRecord) remoteOnly() PluginRecord {
	r.Installed = false
	r.InstallPath = nil
	r.InstalledVersion = nil
	r.Locked = false
	return r
}

// RecordFromDescriptor maps a registry descriptor onto the remote-origin
// fields of a new record.
func RecordFromDescriptor(d *registry.Descriptor) PluginRecord {
	rec := PluginRecord{
		ID:                string(d.ID),
		Name:              d.Name,
		Title:             d.Title,
		Description:       d.Description,
		Author:            d.Author,
		SourceURL:         d.SourceURL,
		DownloadURL:       d.DownloadURL,
		ThumbnailURL:      d.ThumbnailURL,
		UpdateURL:         d.UpdateURL,
		Score:             d.Score,
		CompatibleVersion: d.CompatibleVersion,
		Version:           d.Version,
		AutoUpdates:       d.AutoUpdates,
		PublishedAt:       d.Published(),
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Owner != nil {
		rec.Owner = Owner{
			Handle:    d.Owner.Handle,
			Name:      d.Owner.Name,
			AvatarURL: d.Owner.AvatarURL,
		}
	}
	return rec
}
