package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/weftworks/weft/runtime/config"
	"github.com/weftworks/weft/runtime/telemetry"
)

const (
	// DefaultIndexURL is the community node map consulted when no primary
	// index is configured.
	DefaultIndexURL = "https://raw.githubusercontent.com/ltdrdata/ComfyUI-Manager/main/extension-node-map.json"

	// DefaultIndexTTL bounds how long a fetched index is served without a
	// refresh.
	DefaultIndexTTL = time.Hour

	defaultFetchTimeout = 60 * time.Second
)

// Index maps node types to the git repositories that provide them. It
// merges the primary index with the user's custom repository URLs, caches
// the result for a TTL, and degrades to the cached view when the network
// is unhealthy.
type Index struct {
	primary string
	store   *config.Store
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	flight  singleflight.Group
	ttl     time.Duration
	logger  telemetry.Logger
	now     func() time.Time

	mu      sync.RWMutex
	sources map[string]map[string][]string // index URL -> git URL -> node types
	reverse map[string]string              // node type -> git URL
	fetched time.Time
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithIndexURL overrides the primary index URL.
func WithIndexURL(url string) IndexOption {
	return func(ix *Index) { ix.primary = url }
}

// WithIndexTTL overrides the cache lifetime.
func WithIndexTTL(ttl time.Duration) IndexOption {
	return func(ix *Index) { ix.ttl = ttl }
}

// WithIndexHTTPClient substitutes the HTTP client, bypassing the proxy
// settings derived from the config store.
func WithIndexHTTPClient(c *http.Client) IndexOption {
	return func(ix *Index) { ix.client = c }
}

// WithIndexLimiter overrides the fetch rate limiter.
func WithIndexLimiter(l *rate.Limiter) IndexOption {
	return func(ix *Index) { ix.limiter = l }
}

// WithIndexLogger sets the logger.
func WithIndexLogger(logger telemetry.Logger) IndexOption {
	return func(ix *Index) { ix.logger = logger }
}

// withIndexClock substitutes the clock; tests use it to expire the cache.
func withIndexClock(now func() time.Time) IndexOption {
	return func(ix *Index) { ix.now = now }
}

// NewIndex builds an index over the given config store. The store supplies
// the custom and disabled repository lists and the proxy settings; it may
// be nil, in which case only the primary URL is consulted.
func NewIndex(store *config.Store, opts ...IndexOption) *Index {
	ix := &Index{
		primary: DefaultIndexURL,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(time.Second), 4),
		ttl:     DefaultIndexTTL,
		logger:  telemetry.NewNoopLogger(),
		now:     time.Now,
		sources: make(map[string]map[string][]string),
		reverse: make(map[string]string),
	}
	ix.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "plugin-index"})
	for _, opt := range opts {
		opt(ix)
	}
	if ix.client == nil {
		ix.client = loadProxySettings(store).httpClient(defaultFetchTimeout)
	}
	return ix
}

// Refresh fetches all index URLs and rebuilds the cache. When force is
// false and the cache is within its TTL the call is a no-op. Each URL that
// cannot be fetched keeps its previously cached entries and contributes a
// NetworkError to the joined return value.
func (ix *Index) Refresh(ctx context.Context, force bool) error {
	_, err, _ := ix.flight.Do("refresh", func() (any, error) {
		return nil, ix.refresh(ctx, force)
	})
	return err
}

func (ix *Index) refresh(ctx context.Context, force bool) error {
	ix.mu.RLock()
	fresh := !force && !ix.fetched.IsZero() && ix.now().Sub(ix.fetched) < ix.ttl
	ix.mu.RUnlock()
	if fresh {
		return nil
	}

	repos := ix.repositories()
	urls := make([]string, 0, 1+len(repos.Custom))
	if ix.primary != "" && !repos.IsDisabled(ix.primary) {
		urls = append(urls, ix.primary)
	}
	for _, u := range repos.Custom {
		if !repos.IsDisabled(u) {
			urls = append(urls, u)
		}
	}

	var errs []error
	fetched := make(map[string]map[string][]string, len(urls))
	for _, u := range urls {
		entries, err := ix.fetchOne(ctx, u, repos)
		if err != nil {
			ix.logger.Warn(ctx, "plugin index fetch failed", "url", u, "err", err)
			errs = append(errs, &NetworkError{URL: u, Err: err})
			continue
		}
		fetched[u] = entries
	}

	ix.mu.Lock()
	for u, entries := range fetched {
		ix.sources[u] = entries
	}
	// Sources that were removed from the configuration no longer
	// contribute entries.
	for u := range ix.sources {
		if !containsURL(urls, u) {
			delete(ix.sources, u)
		}
	}
	ix.rebuildReverseLocked()
	if len(fetched) > 0 {
		ix.fetched = ix.now()
	}
	ix.mu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (ix *Index) fetchOne(ctx context.Context, url string, repos config.Repositories) (map[string][]string, error) {
	if err := ix.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := ix.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := ix.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	entries := parseIndex(body.([]byte))
	for gitURL := range entries {
		if repos.IsDisabled(gitURL) {
			delete(entries, gitURL)
		}
	}
	return entries, nil
}

// parseIndex decodes an index document leniently. Two shapes are accepted:
// a map of git URL to node type list (the value may also be wrapped as
// [[types...], {meta}]), and a {"custom_nodes": [{reference, node_types}]}
// listing. Entries that fit neither shape are skipped.
func parseIndex(body []byte) map[string][]string {
	out := make(map[string][]string)
	root := gjson.ParseBytes(body)

	if nodes := root.Get("custom_nodes"); nodes.IsArray() {
		nodes.ForEach(func(_, entry gjson.Result) bool {
			ref := entry.Get("reference").String()
			if ref == "" {
				return true
			}
			var types []string
			entry.Get("node_types").ForEach(func(_, t gjson.Result) bool {
				if t.Type == gjson.String && t.String() != "" {
					types = append(types, t.String())
				}
				return true
			})
			if len(types) > 0 {
				out[ref] = mergeTypes(out[ref], types)
			}
			return true
		})
		return out
	}

	root.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			return true
		}
		arr := value.Array()
		if len(arr) > 0 && arr[0].IsArray() {
			arr = arr[0].Array()
		}
		var types []string
		for _, t := range arr {
			if t.Type == gjson.String && t.String() != "" {
				types = append(types, t.String())
			}
		}
		if len(types) > 0 {
			out[key.String()] = mergeTypes(out[key.String()], types)
		}
		return true
	})
	return out
}

func mergeTypes(into, add []string) []string {
	seen := make(map[string]bool, len(into))
	for _, t := range into {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			into = append(into, t)
			seen[t] = true
		}
	}
	return into
}

// FindByNode resolves the git repository providing the given node type. A
// stale cache is refreshed first; refresh failures fall back to the cached
// view.
func (ix *Index) FindByNode(ctx context.Context, nodeType string) (string, bool) {
	if err := ix.Refresh(ctx, false); err != nil {
		ix.logger.Warn(ctx, "serving plugin index from cache", "err", err)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	url, ok := ix.reverse[nodeType]
	return url, ok
}

// List returns the merged view of all cached sources: git URL to the
// sorted node types it provides.
func (ix *Index) List(ctx context.Context) map[string][]string {
	if err := ix.Refresh(ctx, false); err != nil {
		ix.logger.Warn(ctx, "serving plugin index from cache", "err", err)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string][]string)
	for _, entries := range ix.sources {
		for gitURL, types := range entries {
			out[gitURL] = mergeTypes(out[gitURL], types)
		}
	}
	for _, types := range out {
		sort.Strings(types)
	}
	return out
}

// Invalidate drops every cached entry tied to the given URL, both as an
// index source and as a git repository, and forces the next lookup to
// refetch.
func (ix *Index) Invalidate(url string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.sources, url)
	for _, entries := range ix.sources {
		delete(entries, url)
	}
	ix.rebuildReverseLocked()
	ix.fetched = time.Time{}
}

func (ix *Index) rebuildReverseLocked() {
	ix.reverse = make(map[string]string)
	for _, entries := range ix.sources {
		for gitURL, types := range entries {
			for _, t := range types {
				ix.reverse[t] = gitURL
			}
		}
	}
}

func (ix *Index) repositories() config.Repositories {
	if ix.store == nil {
		return config.Repositories{}
	}
	repos, err := ix.store.LoadRepositories()
	if err != nil {
		ix.logger.Warn(context.Background(), "loading repositories file failed", "err", err)
		return config.Repositories{}
	}
	return repos
}

func containsURL(urls []string, u string) bool {
	for _, v := range urls {
		if v == u {
			return true
		}
	}
	return false
}
