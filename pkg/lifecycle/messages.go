// Package lifecycle connects the catalog to the plugin lifecycle manager,
// the component that downloads and installs plugin files. The catalog only
// sends install requests and records the outcomes reported back.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

// ErrInvalidOutcome is returned by DecodeOutcome for a message it cannot
// turn into an Outcome.
var ErrInvalidOutcome = errors.New("invalid lifecycle outcome")

// Message types on the wire.
const (
	TypeInstallRequest   = "install-request"
	TypeInstallSucceeded = "install-succeeded"
	TypeInstallRemoved   = "install-removed"
)

// InstallRequest asks the lifecycle manager to reconcile a plugin to
// Plugin.Version. It covers both first installs and updates.
type InstallRequest struct {
	Type   string               `json:"type"`
	Plugin catalog.PluginRecord `json:"plugin"`
}

// NewInstallRequest wraps rec in an InstallRequest.
func NewInstallRequest(rec catalog.PluginRecord) InstallRequest {
	return InstallRequest{Type: TypeInstallRequest, Plugin: rec}
}

// Outcome is a result reported by the lifecycle manager.
type Outcome interface {
	PluginID() string
	outcome()
}

// InstallSucceeded reports that a plugin now lives at InstallPath.
type InstallSucceeded struct {
	ID          string `json:"id"`
	InstallPath string `json:"install_path"`
	Version     string `json:"version"`
}

func (m InstallSucceeded) PluginID() string { return m.ID }
func (InstallSucceeded) outcome() {}

// InstallRemoved reports that a plugin was uninstalled.
type InstallRemoved struct {
	ID string `json:"id"`
}

func (m InstallRemoved) PluginID() string { return m.ID }
func (InstallRemoved) outcome() {}

// outcomeEnvelope is the wire form of every Outcome.
type outcomeEnvelope struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	InstallPath string `json:"install_path,omitempty"`
	Version     string `json:"version,omitempty"`
}

// DecodeOutcome parses one outcome message sent by the lifecycle manager,
// for example {"type":"install-removed","id":"measure"}.
func DecodeOutcome(data []byte) (Outcome, error) {
	var env outcomeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing plugin id", ErrInvalidOutcome)
	}

	switch env.Type {
	case TypeInstallSucceeded:
		return InstallSucceeded{ID: env.ID, InstallPath: env.InstallPath, Version: env.Version}, nil
	case TypeInstallRemoved:
		return InstallRemoved{ID: env.ID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOutcome, env.Type)
	}
}
