package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/hooks"
)

// Cloner fetches a git repository into a local directory. The production
// implementation shallow-clones with go-git.
type Cloner interface {
	Clone(ctx context.Context, url, dir string) error
}

type gitCloner struct {
	proxy ProxySettings
}

func (c *gitCloner) Clone(ctx context.Context, url, dir string) error {
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		ProxyOptions: c.proxy.gitProxy(),
	})
	return err
}

// repoName derives the plugin directory name from a git URL.
func repoName(gitURL string) string {
	name := strings.TrimSuffix(strings.TrimRight(gitURL, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Install clones a plugin repository and registers it. Installing a
// repository that is already present is a no-op success. Engine-extension
// repositories land in the custom-nodes directory; everything else goes to
// the first plugin directory.
func (m *Manager) Install(ctx context.Context, gitURL string) error {
	_, _, err := m.install(ctx, gitURL)
	return err
}

func (m *Manager) install(ctx context.Context, gitURL string) (string, *Manifest, error) {
	name := repoName(gitURL)
	if name == "" {
		return "", nil, fmt.Errorf("cannot derive plugin name from %q", gitURL)
	}
	if dir, ok := m.installedDir(name); ok {
		m.logger.Info(ctx, "plugin already installed", "plugin", name, "dir", dir)
		man, _ := LoadManifest(dir)
		return dir, man, nil
	}

	target := filepath.Join(m.installDir(), name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", nil, fmt.Errorf("create plugin dir: %w", err)
	}
	if err := m.cloner.Clone(ctx, gitURL, target); err != nil {
		os.RemoveAll(target)
		return "", nil, fmt.Errorf("clone %s: %w", gitURL, err)
	}

	man, err := LoadManifest(target)
	if err != nil {
		m.logger.Warn(ctx, "installed repository has no usable manifest", "url", gitURL, "err", err)
		man = nil
	} else {
		if man.Extension && m.customNodesDir != "" {
			moved := filepath.Join(m.customNodesDir, name)
			if err := os.MkdirAll(m.customNodesDir, 0o755); err != nil {
				return "", nil, fmt.Errorf("create custom nodes dir: %w", err)
			}
			if err := os.Rename(target, moved); err != nil {
				return "", nil, fmt.Errorf("move extension to custom nodes dir: %w", err)
			}
			target = moved
		}
		if len(man.Packages) > 0 && m.installer != nil {
			// Package failures do not fail the install; activation
			// retries them.
			if err := m.installer.InstallPackages(ctx, man.Packages); err != nil {
				m.logger.Warn(ctx, "installing plugin packages", "plugin", man.ID, "err", err)
			}
		}
	}

	m.Discover(ctx)
	m.publish(ctx, hooks.NewPluginInstalledEvent(gitURL, target))
	m.logger.Info(ctx, "installed plugin", "url", gitURL, "dir", target)
	return target, man, nil
}

func (m *Manager) installDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pluginDirs) == 0 {
		m.pluginDirs = append(m.pluginDirs, "plugins")
	}
	return m.pluginDirs[0]
}

// installedDir reports where a plugin of the given directory name already
// lives, if anywhere.
func (m *Manager) installedDir(name string) (string, bool) {
	m.mu.Lock()
	dirs := append([]string(nil), m.pluginDirs...)
	if m.customNodesDir != "" {
		dirs = append(dirs, m.customNodesDir)
	}
	m.mu.Unlock()
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, true
		}
	}
	return "", false
}

func (m *Manager) publish(ctx context.Context, ev hooks.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.logger.Warn(ctx, "publishing plugin event", "event", ev.Type(), "err", err)
	}
}

// RepoResult is the outcome of one repository install during remediation.
type RepoResult struct {
	URL       string   `json:"url"`
	NodeTypes []string `json:"node_types"`
	Err       error    `json:"-"`
}

// Remediation summarizes an InstallMissingNodes run.
type Remediation struct {
	// Results holds one entry per repository the index resolved, in URL
	// order, whether or not its install succeeded.
	Results []RepoResult `json:"results"`
	// Unresolved lists node types the index knows no provider for.
	Unresolved []string `json:"unresolved,omitempty"`
	// RestartRequired is set when an installed plugin only takes effect
	// after an engine restart.
	RestartRequired bool `json:"restart_required"`
}

// InstallMissingNodes resolves a workflow's unknown node types through the
// index and installs the providing repositories. A single failed install
// never aborts the rest.
func (m *Manager) InstallMissingNodes(ctx context.Context, g *graph.Graph) (*Remediation, error) {
	missing := m.reg.ValidateWorkflow(g)
	rem := &Remediation{}
	if len(missing) == 0 {
		return rem, nil
	}

	byURL := make(map[string][]string)
	for _, nodeType := range missing {
		url, ok := m.index.FindByNode(ctx, nodeType)
		if !ok {
			rem.Unresolved = append(rem.Unresolved, nodeType)
			continue
		}
		byURL[url] = append(byURL[url], nodeType)
	}
	sort.Strings(rem.Unresolved)

	urls := make([]string, 0, len(byURL))
	for url := range byURL {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	before := m.activeIDs()
	for _, url := range urls {
		res := RepoResult{URL: url, NodeTypes: byURL[url]}
		sort.Strings(res.NodeTypes)
		_, man, err := m.install(ctx, url)
		res.Err = err
		rem.Results = append(rem.Results, res)
		if err != nil || man == nil {
			continue
		}
		if man.RequiresRestart || before[man.ID] {
			rem.RestartRequired = true
		}
	}
	return rem, nil
}

func (m *Manager) activeIDs() map[string]bool {
	out := make(map[string]bool)
	for _, id := range m.modules.Activated() {
		out[id] = true
	}
	return out
}
