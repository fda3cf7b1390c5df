// Package config persists engine settings as per-section files (JSON or
// YAML) under a single config directory. Each section is an independent
// viper instance with WEFT_-prefixed environment overrides, so components
// own their section without seeing each other's keys.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/weftworks/weft/runtime/telemetry"
)

// EnvPrefix is prepended to environment overrides: section "plugins" key
// "index_url" is overridden by WEFT_PLUGINS_INDEX_URL.
const EnvPrefix = "WEFT"

type (
	// Option configures a Store.
	Option func(*Store)

	// Store is the config directory facade. Sections are created lazily
	// and cached; concurrent access is serialized.
	Store struct {
		dir    string
		logger telemetry.Logger

		mu       sync.Mutex
		sections map[string]*viper.Viper
	}
)

// WithLogger sets the store logger (default noop).
func WithLogger(logger telemetry.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore opens (creating if needed) the config directory.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("config directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory %q: %w", dir, err)
	}
	s := &Store{
		dir:      dir,
		logger:   telemetry.NewNoopLogger(),
		sections: make(map[string]*viper.Viper),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s, nil
}

// Dir returns the config directory path.
func (s *Store) Dir() string { return s.dir }

// Path joins parts below the config directory.
func (s *Store) Path(parts ...string) string {
	return filepath.Join(append([]string{s.dir}, parts...)...)
}

// Section returns the viper instance backing the named section, reading
// <dir>/<section>.{json,yaml,yml} when present. A missing file is not an
// error: the section starts from defaults and environment overrides.
func (s *Store) Section(name string) *viper.Viper {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.sections[name]; ok {
		return v
	}
	v := viper.New()
	v.SetConfigName(name)
	v.AddConfigPath(s.dir)
	v.SetEnvPrefix(EnvPrefix + "_" + strings.ToUpper(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			s.logger.Warn(context.Background(), "config section unreadable, using defaults",
				"section", name, "err", err)
		}
	}
	s.sections[name] = v
	return v
}

// Reload drops the cached section so the next access re-reads its file.
func (s *Store) Reload(name string) {
	s.mu.Lock()
	delete(s.sections, name)
	s.mu.Unlock()
}

// SetDefault registers a default for a section key. Components call this at
// construction so their section documents itself when saved.
func (s *Store) SetDefault(section, key string, value any) {
	s.Section(section).SetDefault(key, value)
}

// Set records a value on a section. The change is in-memory until Save.
func (s *Store) Set(section, key string, value any) {
	s.Section(section).Set(key, value)
}

// Get returns a section key as-is.
func (s *Store) Get(section, key string) any { return s.Section(section).Get(key) }

// GetString returns a section key as a string.
func (s *Store) GetString(section, key string) string { return s.Section(section).GetString(key) }

// GetInt returns a section key as an int.
func (s *Store) GetInt(section, key string) int { return s.Section(section).GetInt(key) }

// GetBool returns a section key as a bool.
func (s *Store) GetBool(section, key string) bool { return s.Section(section).GetBool(key) }

// GetDuration returns a section key as a duration.
func (s *Store) GetDuration(section, key string) time.Duration {
	return s.Section(section).GetDuration(key)
}

// GetStringSlice returns a section key as a string slice.
func (s *Store) GetStringSlice(section, key string) []string {
	return s.Section(section).GetStringSlice(key)
}

// Save writes the section back to its file. Sections never read from disk
// are created as <section>.json.
func (s *Store) Save(section string) error {
	v := s.Section(section)
	if file := v.ConfigFileUsed(); file != "" {
		if err := v.WriteConfig(); err != nil {
			return fmt.Errorf("save config section %q: %w", section, err)
		}
		return nil
	}
	file := filepath.Join(s.dir, section+".json")
	if err := v.WriteConfigAs(file); err != nil {
		return fmt.Errorf("save config section %q: %w", section, err)
	}
	return nil
}
