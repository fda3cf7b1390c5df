package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/weftworks/weft/runtime/module"
)

// manifestNames are probed in order inside a plugin directory. JSON is a
// YAML subset so one decoder covers all three.
var manifestNames = []string{"weft-plugin.yaml", "weft-plugin.yml", "weft-plugin.json"}

// Manifest declares a plugin: identity, the node types it contributes, the
// provider binary to launch, and its install-time needs.
type Manifest struct {
	ID           string   `yaml:"id" json:"id" validate:"required"`
	Name         string   `yaml:"name" json:"name"`
	Version      string   `yaml:"version" json:"version" validate:"required"`
	Description  string   `yaml:"description" json:"description"`
	Binary       string   `yaml:"binary" json:"binary"`
	NodeTypes    []string `yaml:"node_types" json:"node_types"`
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
	Packages     []string `yaml:"packages" json:"packages"`

	// RequiresRestart marks plugins whose install only takes full effect
	// after an engine restart.
	RequiresRestart bool `yaml:"requires_restart" json:"requires_restart"`

	// Extension marks repositories that extend the engine itself; they are
	// installed under the custom-nodes directory instead of the plugin
	// directory.
	Extension bool `yaml:"extension" json:"extension"`
}

var manifestValidator = validator.New()

// Validate checks the structural constraints on a manifest. Asset-only
// extensions ship no provider process; every other plugin must name the
// binary to launch, and declaring node types always implies one.
func (m Manifest) Validate() error {
	if err := manifestValidator.Struct(m); err != nil {
		return err
	}
	if m.Binary == "" && (!m.Extension || len(m.NodeTypes) > 0) {
		return fmt.Errorf("manifest %q: binary is required unless the plugin is an asset-only extension", m.ID)
	}
	return nil
}

// Metadata converts the manifest into module metadata for the lifecycle
// manager.
func (m Manifest) Metadata() module.Metadata {
	return module.Metadata{
		ID:           m.ID,
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Dependencies: m.Dependencies,
		Packages:     m.Packages,
		EntryPoint:   m.Binary,
	}
}

// FindManifest returns the manifest path inside dir, probing the supported
// file names in order.
func FindManifest(dir string) (string, bool) {
	for _, name := range manifestNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// LoadManifest reads and validates the manifest found in dir.
func LoadManifest(dir string) (*Manifest, error) {
	path, ok := FindManifest(dir)
	if !ok {
		return nil, fmt.Errorf("no plugin manifest in %s", dir)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}
