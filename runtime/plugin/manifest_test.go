package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weft-plugin.yaml", `
id: image-tools
name: Image Tools
version: 1.2.0
binary: bin/image-tools
node_types: [image.resize, image.crop]
packages: [pillow]
requires_restart: true
`)

	man, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "image-tools", man.ID)
	assert.Equal(t, "1.2.0", man.Version)
	assert.Equal(t, "bin/image-tools", man.Binary)
	assert.Equal(t, []string{"image.resize", "image.crop"}, man.NodeTypes)
	assert.True(t, man.RequiresRestart)
	assert.False(t, man.Extension)
}

func TestLoadManifestJSON(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weft-plugin.json",
		`{"id": "audio", "version": "0.1.0", "binary": "audio-provider", "extension": true}`)

	man, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "audio", man.ID)
	assert.True(t, man.Extension)
}

func TestLoadManifestRejectsMissingFields(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weft-plugin.yaml", "name: anonymous\nversion: 1.0.0\n")

	_, err := LoadManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid manifest")
}

func TestLoadManifestExtensionWithoutBinary(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weft-plugin.yaml", "id: themes\nversion: 1.0.0\nextension: true\n")

	man, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.True(t, man.Extension)
	assert.Empty(t, man.Binary)
}

func TestLoadManifestRequiresBinaryForProviders(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weft-plugin.yaml", "id: tools\nversion: 1.0.0\n")

	_, err := LoadManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary is required")

	// Declaring node types implies a provider even for extensions.
	writeManifest(t, dir, "weft-plugin.yaml",
		"id: tools\nversion: 1.0.0\nextension: true\nnode_types: [x.y]\n")
	_, err = LoadManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary is required")
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	require.Error(t, err)
}

func TestFindManifestPrefersYAML(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weft-plugin.json", `{"id": "j", "version": "1", "binary": "b"}`)
	writeManifest(t, dir, "weft-plugin.yaml", "id: y\nversion: '1'\nbinary: b\n")

	path, ok := FindManifest(dir)
	require.True(t, ok)
	assert.Equal(t, "weft-plugin.yaml", filepath.Base(path))
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "WAS-Suite", repoName("https://github.com/Example/WAS-Suite.git"))
	assert.Equal(t, "tools", repoName("https://example.com/org/tools"))
	assert.Equal(t, "repo", repoName("git@github.com:org/repo.git"))
	assert.Equal(t, "trailing", repoName("https://example.com/trailing/"))
}
