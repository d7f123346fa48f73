package helper

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML file describing a custom helper build:
//
//	name: jaterm-agent
//	version: 0.3.0
//	installDir: .jaterm-helper
//	payload: ./jaterm-agent.sh
//
// The payload path is resolved relative to the manifest.
type Manifest struct {
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	InstallDir string `yaml:"installDir,omitempty"`
	Payload    string `yaml:"payload,omitempty"`
}

// LoadManifest reads a manifest and builds its Descriptor. Missing name,
// installDir or payload fall back to the embedded helper's.
func LoadManifest(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading helper manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Descriptor{}, fmt.Errorf("parsing helper manifest: %w", err)
	}

	if m.Name == "" {
		m.Name = DefaultName
	}
	if m.InstallDir == "" {
		m.InstallDir = DefaultInstallDir
	}

	template := defaultTemplate
	if m.Payload != "" {
		payloadPath := m.Payload
		if !filepath.IsAbs(payloadPath) {
			payloadPath = filepath.Join(filepath.Dir(path), payloadPath)
		}
		template, err = os.ReadFile(payloadPath)
		if err != nil {
			return Descriptor{}, fmt.Errorf("reading helper payload: %w", err)
		}
	}

	d, err := New(m.Name, m.Version, m.InstallDir, template)
	if err != nil {
		return Descriptor{}, fmt.Errorf("helper manifest %s: %w", path, err)
	}
	return d, nil
}
