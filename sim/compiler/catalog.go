package compiler

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/jitsim/sim"
	"github.com/inference-sim/jitsim/sim/engine"
)

var _ sim.Catalog = (*Catalog)(nil)

// SourceSpec is one catalog entry as written in a catalog file.
type SourceSpec struct {
	Name       string             `yaml:"name" toml:"name"`
	Kind       string             `yaml:"kind" toml:"kind"`
	Path       string             `yaml:"path" toml:"path"`
	Library    string             `yaml:"library" toml:"library"` // prebuilt module holding the model
	Parameters map[string]float64 `yaml:"parameters" toml:"parameters"`
	State      map[string]float64 `yaml:"state" toml:"state"`
}

// CatalogFile is the top-level layout of a catalog file.
type CatalogFile struct {
	Models []SourceSpec `yaml:"models" toml:"models"`
}

// Catalog resolves model names to sources.
type Catalog struct {
	sources map[string]sim.ModelSource
}

// NewCatalog creates a catalog holding srcs. Later entries replace earlier ones
// of the same name.
func NewCatalog(srcs ...sim.ModelSource) *Catalog {
	c := &Catalog{sources: make(map[string]sim.ModelSource, len(srcs))}
	for _, s := range srcs {
		c.sources[s.Name] = s
	}
	return c
}

// LoadCatalog reads a YAML catalog file. Unknown fields are rejected.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f CatalogFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return f.Catalog()
}

// Catalog validates the entries and builds a Catalog from them.
func (f *CatalogFile) Catalog() (*Catalog, error) {
	c := NewCatalog()
	for i, s := range f.Models {
		if s.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: missing name", i)
		}
		if _, dup := c.sources[s.Name]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate model %q", i, s.Name)
		}
		c.sources[s.Name] = sim.ModelSource{
			Name:       s.Name,
			Kind:       s.Kind,
			Path:       s.Path,
			Library:    s.Library,
			Parameters: s.Parameters,
			State:      s.State,
		}
	}
	return c, nil
}

// Lookup returns the source named name.
func (c *Catalog) Lookup(name string) (sim.ModelSource, bool) {
	s, ok := c.sources[name]
	return s, ok
}

// Names lists the catalog entries, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.sources))
	for n := range c.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PublishLibraries publishes every library entry as a prebuilt module, grouping
// entries that share a library into one module.
func (c *Catalog) PublishLibraries(pub Publisher) {
	libs := make(map[string][]engine.Model)
	for _, n := range c.Names() {
		s := c.sources[n]
		if s.Library == "" {
			continue
		}
		libs[s.Library] = append(libs[s.Library], engine.Model{Name: s.Name, Kind: s.Kind, Defaults: s.Defaults()})
	}
	for lib, models := range libs {
		pub.Publish(lib, models...)
	}
}
