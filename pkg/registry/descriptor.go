// Package registry fetches the plugin catalog published by the remote registry.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a plugin identifier. The registry has served ids both as JSON
// strings and as numbers; both decode to the same string form.
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("plugin id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// Owner is the publishing account of a plugin.
type Owner struct {
	Handle    string `json:"handle"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Descriptor is one entry of the registry catalog document.
type Descriptor struct {
	ID                ID         `json:"id"`
	Name              string     `json:"name"`
	Title             *string    `json:"title,omitempty"`
	Description       string     `json:"description"`
	Author            string     `json:"author"`
	Owner             *Owner     `json:"owner,omitempty"`
	SourceURL         string     `json:"source_url"`
	DownloadURL       string     `json:"download_url"`
	ThumbnailURL      string     `json:"thumbnail_url"`
	UpdateURL         string     `json:"update_url"`
	Score             float64    `json:"score"`
	CompatibleVersion string     `json:"compatible_version"`
	Version           string     `json:"version"`
	AutoUpdates       bool       `json:"auto_updates"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// Published returns the first-publication timestamp. The registry names it
// created_at; published_at is accepted as a fallback.
func (d *Descriptor) Published() *time.Time {
	if d.CreatedAt != nil {
		return d.CreatedAt
	}
	return d.PublishedAt
}

// Empty reports whether the descriptor carries no usable identity.
func (d *Descriptor) Empty() bool {
	return d == nil || d.ID == ""
}
