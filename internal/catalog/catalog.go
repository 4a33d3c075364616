// Package catalog loads the model/provider catalog from a YAML file. The
// catalog is read-only reference data: display names and gateway grouping
// used to enrich metrics responses and answer the catalog endpoints.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Provider is one upstream provider entry.
type Provider struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Gateway string `yaml:"gateway,omitempty" json:"gateway,omitempty"`
}

// Model is one model entry, attached to a provider.
type Model struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider"`
}

type catalogFile struct {
	Providers []Provider `yaml:"providers"`
	Models    []Model    `yaml:"models"`
}

// Catalog indexes the loaded entries by ID.
type Catalog struct {
	providers map[string]Provider
	models    map[string]Model
}

// Load reads the catalog file. A missing file yields an empty catalog, not
// an error; the service runs fine without one.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	c := &Catalog{
		providers: make(map[string]Provider),
		models:    make(map[string]Model),
	}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("catalog file does not exist, starting empty", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	for _, p := range f.Providers {
		if p.ID == "" {
			logger.Warn("skipping catalog provider without id")
			continue
		}
		c.providers[p.ID] = p
	}
	for _, m := range f.Models {
		if m.ID == "" {
			logger.Warn("skipping catalog model without id")
			continue
		}
		c.models[m.ID] = m
	}

	logger.Info("catalog loaded", "path", path,
		"providers", len(c.providers), "models", len(c.models))
	return c, nil
}

// ProviderName returns the display name for a provider ID, or the ID itself
// when the catalog has no entry.
func (c *Catalog) ProviderName(id string) string {
	if p, ok := c.providers[id]; ok && p.Name != "" {
		return p.Name
	}
	return id
}

// Provider looks up one provider entry.
func (c *Catalog) Provider(id string) (Provider, bool) {
	p, ok := c.providers[id]
	return p, ok
}

// Model looks up one model entry.
func (c *Catalog) Model(id string) (Model, bool) {
	m, ok := c.models[id]
	return m, ok
}

// Providers returns all provider entries sorted by ID.
func (c *Catalog) Providers() []Provider {
	out := make([]Provider, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Models returns all model entries sorted by ID.
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
