// Package version compares plugin version strings published by the registry.
//
// The registry uses "0" to mean "no version on file". Sanitize maps that
// sentinel to "0.0.0" so it sorts lowest and drops one leading "v" or "=";
// what remains must be strict semantic versioning or Compare reports a
// MalformedVersionError.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Sentinel is the registry's marker for an unversioned plugin.
const Sentinel = "0"

// Zero is what Sentinel normalises to.
const Zero = "0.0.0"

// ErrMalformedVersion matches every MalformedVersionError.
var ErrMalformedVersion = errors.New("malformed version")

// MalformedVersionError reports a version string that is neither the
// sentinel nor valid semver.
type MalformedVersionError struct {
	Version string
	Cause   error
}

func (e *MalformedVersionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed version %q: %v", e.Version, e.Cause)
	}
	return fmt.Sprintf("malformed version %q", e.Version)
}

func (e *MalformedVersionError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrMalformedVersion) match.
func (e *MalformedVersionError) Is(target error) bool {
	return target == ErrMalformedVersion
}

// Ordering is the result of Compare.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// Sanitize trims surrounding whitespace, drops one leading "v" or "=" and
// maps the "0" sentinel to "0.0.0".
func Sanitize(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > 1 && (v[0] == 'v' || v[0] == '=') {
		v = v[1:]
	}
	if v == Sentinel {
		return Zero
	}
	return v
}

// Parse sanitizes v and parses it as a strict semantic version.
func Parse(v string) (*semver.Version, error) {
	clean := Sanitize(v)
	if clean == "" {
		return nil, &MalformedVersionError{Version: v, Cause: errors.New("empty version")}
	}
	parsed, err := semver.StrictNewVersion(clean)
	if err != nil {
		return nil, &MalformedVersionError{Version: v, Cause: err}
	}
	return parsed, nil
}

// Compare orders a against b under semver precedence. Both sides are
// sanitized independently.
func Compare(a, b string) (Ordering, error) {
	va, err := Parse(a)
	if err != nil {
		return Equal, err
	}
	vb, err := Parse(b)
	if err != nil {
		return Equal, err
	}
	return Ordering(va.Compare(vb)), nil
}

// Older reports whether a strictly precedes b.
func Older(a, b string) (bool, error) {
	o, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return o == Less, nil
}
