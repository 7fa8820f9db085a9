package tool

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest declares which tools are exposed to the model and carries
// per-tool settings. Tools absent from the manifest stay enabled.
type Manifest struct {
	Tools map[string]ToolConfig `yaml:"tools"`
}

// ToolConfig is the configuration block for a single tool.
type ToolConfig struct {
	Enabled  *bool          `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// LoadManifest reads a YAML file into a Manifest.
func LoadManifest(path string) (Manifest, error) {
	var manifest Manifest
	if path == "" {
		return manifest, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest, fmt.Errorf("read tool manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return manifest, fmt.Errorf("unmarshal tool manifest: %w", err)
	}
	if manifest.Tools == nil {
		manifest.Tools = map[string]ToolConfig{}
	}
	return manifest, nil
}

// Allows reports whether the named tool should be registered.
func (m Manifest) Allows(name string) bool {
	cfg, ok := m.Tools[name]
	if !ok || cfg.Enabled == nil {
		return true
	}
	return *cfg.Enabled
}

// SettingsOf returns the settings block for the named tool.
func (m Manifest) SettingsOf(name string) map[string]any {
	return m.Tools[name].Settings
}
