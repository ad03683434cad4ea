package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderSpec describes one upstream provider in the catalog.
type ProviderSpec struct {
	ID      string `yaml:"id"`
	Enabled *bool  `yaml:"enabled"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// Optional per-provider quota overrides; zero values keep the global defaults.
	FreeLimit  int           `yaml:"free_limit"`
	FreeWindow time.Duration `yaml:"free_window"`
	PaidLimit  int           `yaml:"paid_limit"`
	PaidWindow time.Duration `yaml:"paid_window"`
}

// IsEnabled treats a missing flag as enabled.
func (p ProviderSpec) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// Catalog is the ordered provider capability list.
type Catalog struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// Order returns enabled provider ids in catalog order.
func (c Catalog) Order() []string {
	out := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.IsEnabled() {
			out = append(out, p.ID)
		}
	}
	return out
}

// Lookup finds a provider by id.
func (c Catalog) Lookup(id string) (ProviderSpec, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderSpec{}, false
}

// DefaultCatalog derives a catalog from environment configuration alone.
func (c Config) DefaultCatalog() Catalog {
	cat := Catalog{}
	for _, id := range c.ProviderOrder {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		cat.Providers = append(cat.Providers, ProviderSpec{ID: id})
	}
	return cat
}

// LoadCatalog reads the provider catalog from c.ProviderCatalogPath. A missing
// file is not an error: the catalog is derived from PROVIDER_ORDER instead.
func (c Config) LoadCatalog() (Catalog, error) {
	if c.ProviderCatalogPath == "" {
		return c.DefaultCatalog(), nil
	}
	absPath, err := filepath.Abs(c.ProviderCatalogPath)
	if err != nil {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: failed to get absolute path: %w", err)
	}
	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return c.DefaultCatalog(), nil
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: failed to read %s: %w", absPath, err)
	}
	return ParseCatalog(content)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(content []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, fmt.Errorf("op=config.ParseCatalog: failed to parse YAML: %w", err)
	}
	seen := make(map[string]struct{}, len(cat.Providers))
	for i := range cat.Providers {
		p := &cat.Providers[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.ID == "" {
			return Catalog{}, fmt.Errorf("op=config.ParseCatalog: provider %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return Catalog{}, fmt.Errorf("op=config.ParseCatalog: duplicate provider %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.FreeLimit < 0 || p.PaidLimit < 0 {
			return Catalog{}, fmt.Errorf("op=config.ParseCatalog: provider %q has a negative limit", p.ID)
		}
	}
	return cat, nil
}
