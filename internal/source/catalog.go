package source

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/civicgraph/repsync/internal/model"
)

// CatalogEntry declares one source's operational parameters.
type CatalogEntry struct {
	System     model.SourceSystem `yaml:"system"`
	Endpoint   string             `yaml:"endpoint"`
	RatePerSec float64            `yaml:"rate_per_sec"`
	PageSize   int                `yaml:"page_size"`
	Enabled    bool               `yaml:"enabled"`
	// States limits jurisdiction-keyed sources (civic-address-api) to the
	// listed states; empty means all.
	States []string `yaml:"states,omitempty"`
}

// Catalog is the declarative source inventory loaded from sources.yaml.
type Catalog struct {
	Sources []CatalogEntry `yaml:"sources"`
}

// LoadCatalog reads and validates the source catalog file. A missing file
// yields an empty catalog so config-only deployments still work.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{}, nil
		}
		return nil, eris.Wrapf(err, "source: read catalog %s", path)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, eris.Wrapf(err, "source: parse catalog %s", path)
	}

	for i := range cat.Sources {
		e := &cat.Sources[i]
		if !e.System.Valid() {
			return nil, eris.Errorf("source: catalog entry %d: unknown system %q", i, e.System)
		}
		if e.PageSize <= 0 {
			e.PageSize = 100
		}
		if e.RatePerSec <= 0 {
			e.RatePerSec = 5
		}
	}

	return &cat, nil
}

// Get returns the catalog entry for a system, or nil.
func (c *Catalog) Get(system model.SourceSystem) *CatalogEntry {
	for i := range c.Sources {
		if c.Sources[i].System == system {
			return &c.Sources[i]
		}
	}
	return nil
}
