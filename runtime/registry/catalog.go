package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type (
	// Catalog is the persisted JSON mirror of the registry used for restart
	// continuity. Executors are elided; restored entries are stubs until
	// their module re-registers.
	Catalog struct {
		Version int             `json:"version"`
		Nodes   []*CatalogEntry `json:"nodes"`
	}

	// CatalogEntry mirrors one descriptor.
	CatalogEntry struct {
		Name        string         `json:"name"`
		Category    string         `json:"category"`
		Description string         `json:"description,omitempty"`
		Inputs      []*InputPort   `json:"inputs,omitempty"`
		Outputs     []*OutputPort  `json:"outputs,omitempty"`
		Provenance  string         `json:"provenance"`
		Available   bool           `json:"available"`
		InputSchema map[string]any `json:"input_schema,omitempty"`
	}
)

// CatalogFileName is the node metadata catalog file kept in the config
// directory.
const CatalogFileName = "node_catalog.json"

const catalogVersion = 1

// SaveCatalog writes the catalog mirror of all registered descriptors.
func (r *Registry) SaveCatalog(w io.Writer) error {
	cat := Catalog{Version: catalogVersion}
	for _, d := range r.Descriptors() {
		cat.Nodes = append(cat.Nodes, &CatalogEntry{
			Name:        d.Name,
			Category:    d.Category,
			Description: d.Description,
			Inputs:      d.Inputs,
			Outputs:     d.Outputs,
			Provenance:  d.Provenance,
			Available:   d.Available(),
			InputSchema: d.schemaDoc,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cat); err != nil {
		return fmt.Errorf("encode node catalog: %w", err)
	}
	return nil
}

// WriteCatalogFile persists the catalog under dir.
func (r *Registry) WriteCatalogFile(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, CatalogFileName))
	if err != nil {
		return fmt.Errorf("create node catalog: %w", err)
	}
	defer f.Close()
	return r.SaveCatalog(f)
}

// LoadCatalog restores descriptor metadata from a persisted catalog. Names
// already registered are left untouched; restored entries carry no executor
// and report unavailable until a module re-registers them. It returns the
// number of stubs restored.
func (r *Registry) LoadCatalog(rd io.Reader) (int, error) {
	var cat Catalog
	if err := json.NewDecoder(rd).Decode(&cat); err != nil {
		return 0, fmt.Errorf("decode node catalog: %w", err)
	}
	restored := 0
	for _, e := range cat.Nodes {
		if _, ok := r.Lookup(e.Name); ok {
			continue
		}
		stub := &Descriptor{
			Name:        e.Name,
			Category:    e.Category,
			Description: e.Description,
			Inputs:      e.Inputs,
			Outputs:     e.Outputs,
			Provenance:  e.Provenance,
		}
		if err := r.Register(stub); err != nil {
			return restored, fmt.Errorf("restore node type %q: %w", e.Name, err)
		}
		restored++
	}
	return restored, nil
}

// LoadCatalogFile restores the catalog persisted under dir. A missing file
// is not an error; it restores nothing.
func (r *Registry) LoadCatalogFile(dir string) (int, error) {
	f, err := os.Open(filepath.Join(dir, CatalogFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open node catalog: %w", err)
	}
	defer f.Close()
	return r.LoadCatalog(f)
}
