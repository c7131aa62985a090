package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// BoostProfile maps a page type (api, faq, guide, release_notes) to a score
// multiplier applied after rank fusion.
type BoostProfile map[string]float64

// boostFile is the on-disk YAML shape: one profile per query form.
type boostFile struct {
	Profiles map[string]BoostProfile `yaml:"profiles"`
}

// BoostTable serves boost profiles loaded from a YAML file. The file is
// re-read when its mtime changes, so multipliers are swappable at runtime.
type BoostTable struct {
	path string

	mu       sync.RWMutex
	profiles map[string]BoostProfile
	loadedAt time.Time
}

// DefaultBoostProfiles is used when no boost file exists. The interrogative
// profile favors FAQ chunks, mirroring how support questions are phrased.
func DefaultBoostProfiles() map[string]BoostProfile {
	return map[string]BoostProfile{
		"default": {
			"guide": 1.1,
		},
		"interrogative": {
			"faq":   1.3,
			"guide": 1.1,
		},
	}
}

// NewBoostTable creates a table backed by the given YAML file. A missing
// file is not an error; built-in defaults are served instead.
func NewBoostTable(path string) *BoostTable {
	t := &BoostTable{
		path:     path,
		profiles: DefaultBoostProfiles(),
	}
	_ = t.reload()
	return t
}

// Profile returns the boost profile for a query form, falling back to the
// default profile and then to an empty profile. The returned map must not be
// mutated by callers.
func (t *BoostTable) Profile(form string) BoostProfile {
	t.maybeReload()

	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.profiles[form]; ok {
		return p
	}
	if p, ok := t.profiles["default"]; ok {
		return p
	}
	return BoostProfile{}
}

func (t *BoostTable) maybeReload() {
	if t.path == "" {
		return
	}
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}

	t.mu.RLock()
	stale := info.ModTime().After(t.loadedAt)
	t.mu.RUnlock()

	if stale {
		_ = t.reload()
	}
}

func (t *BoostTable) reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}

	var f boostFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse boost file %s: %w", t.path, err)
	}
	if len(f.Profiles) == 0 {
		return fmt.Errorf("boost file %s has no profiles", t.path)
	}

	t.mu.Lock()
	t.profiles = f.Profiles
	t.loadedAt = time.Now()
	t.mu.Unlock()
	return nil
}
