package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// repositoriesFile is the plugin repository list persisted alongside the
// config sections.
const repositoriesFile = "repositories.json"

// Repositories is the user-maintained plugin repository state: custom index
// URLs merged into the remote index, and repository URLs excluded from it.
type Repositories struct {
	Custom   []string `json:"custom"`
	Disabled []string `json:"disabled"`
}

// HasCustom reports whether url is in the custom list.
func (r Repositories) HasCustom(url string) bool { return contains(r.Custom, url) }

// IsDisabled reports whether url is on the disable list.
func (r Repositories) IsDisabled(url string) bool { return contains(r.Disabled, url) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// LoadRepositories reads repositories.json. A missing file yields the empty
// state.
func (s *Store) LoadRepositories() (Repositories, error) {
	data, err := os.ReadFile(s.Path(repositoriesFile))
	if os.IsNotExist(err) {
		return Repositories{}, nil
	}
	if err != nil {
		return Repositories{}, fmt.Errorf("read %s: %w", repositoriesFile, err)
	}
	var out Repositories
	if err := json.Unmarshal(data, &out); err != nil {
		return Repositories{}, fmt.Errorf("decode %s: %w", repositoriesFile, err)
	}
	return out, nil
}

// SaveRepositories writes repositories.json atomically.
func (s *Store) SaveRepositories(r Repositories) error {
	if r.Custom == nil {
		r.Custom = []string{}
	}
	if r.Disabled == nil {
		r.Disabled = []string{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", repositoriesFile, err)
	}
	tmp := s.Path(repositoriesFile + ".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", repositoriesFile, err)
	}
	if err := os.Rename(tmp, s.Path(repositoriesFile)); err != nil {
		return fmt.Errorf("replace %s: %w", repositoriesFile, err)
	}
	return nil
}
