package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/weftworks/weft/runtime/graph"
)

const workflowsDir = "workflows"

// ErrNoStore is returned from the workflow file store when the engine was
// built without a config store.
var ErrNoStore = errors.New("no config store configured")

func (e *Engine) workflowPath(name string) (string, error) {
	if e.store == nil {
		return "", ErrNoStore
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid workflow name %q", name)
	}
	return e.store.Path(workflowsDir, name+".json"), nil
}

// SaveWorkflow persists a workflow document under the config dir. The
// document must parse; saving never validates node types so workflows can
// be authored before their plugins are installed.
func (e *Engine) SaveWorkflow(name string, doc []byte) error {
	path, err := e.workflowPath(name)
	if err != nil {
		return err
	}
	if _, err := graph.Parse(doc); err != nil {
		return fmt.Errorf("workflow %q does not parse: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadWorkflow reads a stored workflow document.
func (e *Engine) LoadWorkflow(name string) ([]byte, error) {
	path, err := e.workflowPath(name)
	if err != nil {
		return nil, err
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow %q not found", name)
		}
		return nil, err
	}
	return doc, nil
}

// ListWorkflows returns the stored workflow names, sorted.
func (e *Engine) ListWorkflows() ([]string, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	entries, err := os.ReadDir(e.store.Path(workflowsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// DeleteWorkflow removes a stored workflow. Deleting an absent workflow is
// an error.
func (e *Engine) DeleteWorkflow(name string) error {
	path, err := e.workflowPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("workflow %q not found", name)
		}
		return err
	}
	return nil
}
