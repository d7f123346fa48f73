// Package helper describes the versioned helper executable that jaterm
// installs on every target host before relying on it.
//
// A Descriptor is built once and never mutated: the version placeholder in
// the payload template is substituted at construction time, so every caller
// sees the same final bytes.
package helper

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// VersionPlaceholder is replaced by the descriptor version in payload templates.
const VersionPlaceholder = "{{HELPER_VERSION}}"

// Defaults for the embedded helper.
const (
	DefaultName       = "jaterm-agent"
	DefaultInstallDir = ".jaterm-helper"
)

// Version of the embedded helper. Set via ldflags at build time.
var Version = "0.2.1"

//go:embed payload/jaterm-agent.sh
var defaultTemplate []byte

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Descriptor is the immutable metadata of a helper artifact.
type Descriptor struct {
	name    string
	version string
	relDir  string
	payload []byte
	digest  string
}

// New builds a Descriptor. The template may contain VersionPlaceholder, which
// is substituted exactly once.
func New(name, version, relDir string, template []byte) (Descriptor, error) {
	if !nameRegexp.MatchString(name) {
		return Descriptor{}, fmt.Errorf("invalid helper name %q", name)
	}
	if strings.TrimSpace(version) == "" {
		return Descriptor{}, errors.New("helper version is required")
	}
	if strings.ContainsAny(version, " \t\r\n\"\\") {
		return Descriptor{}, fmt.Errorf("invalid helper version %q", version)
	}
	dir, err := cleanRelDir(relDir)
	if err != nil {
		return Descriptor{}, err
	}
	if len(template) == 0 {
		return Descriptor{}, errors.New("helper payload is empty")
	}

	payload := []byte(strings.ReplaceAll(string(template), VersionPlaceholder, version))
	sum := blake3.Sum256(payload)

	return Descriptor{
		name:    name,
		version: version,
		relDir:  dir,
		payload: payload,
		digest:  hex.EncodeToString(sum[:]),
	}, nil
}

// MustNew is like New but panics on error. For package-level descriptors.
func MustNew(name, version, relDir string, template []byte) Descriptor {
	d, err := New(name, version, relDir, template)
	if err != nil {
		panic("helper: " + err.Error())
	}
	return d
}

var defaultDescriptor = sync.OnceValue(func() Descriptor {
	return MustNew(DefaultName, Version, DefaultInstallDir, defaultTemplate)
})

// Default returns the process-wide descriptor of the embedded helper.
func Default() Descriptor {
	return defaultDescriptor()
}

func (d Descriptor) Name() string               { return d.name }
func (d Descriptor) Version() string            { return d.version }
func (d Descriptor) RelativeInstallDir() string { return d.relDir }
func (d Descriptor) Digest() string             { return d.digest }
func (d Descriptor) Size() int                  { return len(d.payload) }

// Payload returns a copy of the final payload.
func (d Descriptor) Payload() []byte {
	out := make([]byte, len(d.payload))
	copy(out, d.payload)
	return out
}

// IsZero reports whether d was never constructed.
func (d Descriptor) IsZero() bool { return d.name == "" }

// InstallPath returns the POSIX install path under home, as used on remote
// targets: home/relDir/name.
func (d Descriptor) InstallPath(home string) string {
	home = strings.TrimRight(home, "/")
	if home == "" {
		home = "/"
	}
	return path.Join(home, d.relDir, d.name)
}

// InstallDir returns the POSIX install directory under home.
func (d Descriptor) InstallDir(home string) string {
	return path.Dir(d.InstallPath(home))
}

// LocalInstallPath is InstallPath using the host path separator.
func (d Descriptor) LocalInstallPath(home string) string {
	return filepath.Join(home, filepath.FromSlash(d.relDir), d.name)
}

// cleanRelDir normalizes an install dir relative to home. It must not be
// absolute or escape home.
func cleanRelDir(dir string) (string, error) {
	dir = strings.TrimSpace(filepath.ToSlash(dir))
	if dir == "" {
		return "", errors.New("helper install dir is required")
	}
	if strings.HasPrefix(dir, "/") {
		return "", fmt.Errorf("helper install dir %q must be relative to home", dir)
	}
	cleaned := path.Clean(dir)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("helper install dir %q escapes home", dir)
	}
	return cleaned, nil
}
