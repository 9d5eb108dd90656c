// Package engine provides an in-memory implementation of the sim.Engine collaborator.
// It keeps every created instance with its resolved attributes, which makes it the
// engine behind the CLI and the reference for end-to-end tests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/jitsim/sim"
)

var (
	// ErrUnknownModel is returned for a model the engine cannot create.
	ErrUnknownModel = errors.New("unknown model")
	// ErrModuleNotFound is returned by Install for a module nobody published.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModelExists is returned by CopyModel when the target name is taken.
	ErrModelExists = errors.New("model already exists")
)

var _ sim.Engine = (*Memory)(nil)

// Model is one creatable model and its default attributes.
type Model struct {
	Name     string
	Kind     string // "neuron" or "synapse"
	Defaults map[string]float64
}

// Instance is one created object.
type Instance struct {
	ID         int64
	Model      string
	Position   []int64 // grid coordinates, nil for non-spatial instances
	Attributes map[string]float64
}

// Memory is an in-memory engine. Engine ids are global across models, start at 0 and
// are never reused. Modules are published by a builder and become creatable on Install.
//
// Install may be called from build goroutines, so all state is guarded by mu.
type Memory struct {
	mu        sync.RWMutex
	models    map[string]Model
	modules   map[string][]Model // published, not necessarily installed
	installed map[string]bool
	instances []Instance
}

// NewMemory creates an engine that knows builtins from the start.
func NewMemory(builtins ...Model) *Memory {
	m := &Memory{
		models:    make(map[string]Model),
		modules:   make(map[string][]Model),
		installed: make(map[string]bool),
	}
	for _, b := range builtins {
		m.models[b.Name] = cloneModel(b)
	}
	return m
}

// Publish makes module available to Install. Publishing the same module twice
// replaces its model list.
func (m *Memory) Publish(module string, models ...Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := make([]Model, len(models))
	for i, md := range models {
		cloned[i] = cloneModel(md)
	}
	m.modules[module] = cloned
}

// Install loads a published module. Installing a module twice is a no-op.
func (m *Memory) Install(_ context.Context, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed[module] {
		return nil
	}
	models, ok := m.modules[module]
	if !ok {
		return fmt.Errorf("install %q: %w", module, ErrModuleNotFound)
	}
	for _, md := range models {
		m.models[md.Name] = cloneModel(md)
	}
	m.installed[module] = true
	logrus.Debugf("engine: installed module %q (%d models)", module, len(models))
	return nil
}

// Installed reports whether module has been installed.
func (m *Memory) Installed(module string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.installed[module]
}

// Models lists the creatable models, sorted.
func (m *Memory) Models(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.models))
	for n := range m.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// GetDefaults returns a copy of model's defaults.
func (m *Memory) GetDefaults(_ context.Context, model string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.models[model]
	if !ok {
		return nil, fmt.Errorf("%q: %w", model, ErrUnknownModel)
	}
	return maps.Clone(md.Defaults), nil
}

// CopyModel registers to as a copy of from with defaults applied on top.
func (m *Memory) CopyModel(_ context.Context, from, to string, defaults map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.models[from]
	if !ok {
		return fmt.Errorf("copy from %q: %w", from, ErrUnknownModel)
	}
	if _, taken := m.models[to]; taken {
		return fmt.Errorf("copy to %q: %w", to, ErrModelExists)
	}
	cp := cloneModel(src)
	cp.Name = to
	for k, v := range defaults {
		if _, ok := cp.Defaults[k]; !ok {
			return fmt.Errorf("copy %q to %q: model has no attribute %q", from, to, k)
		}
		cp.Defaults[k] = v
	}
	m.models[to] = cp
	return nil
}

// Create instantiates spec.Count instances and returns their contiguous id range.
func (m *Memory) Create(_ context.Context, spec sim.CreateSpec) (sim.EngineHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.models[spec.Model]
	if !ok {
		return sim.EngineHandle{}, fmt.Errorf("create %q: %w", spec.Model, ErrUnknownModel)
	}
	if spec.Count < 0 {
		return sim.EngineHandle{}, fmt.Errorf("create %q: %w", spec.Model, sim.ErrNegativeCount)
	}
	for k, vs := range spec.Overrides {
		if _, ok := md.Defaults[k]; !ok {
			return sim.EngineHandle{}, fmt.Errorf("create %q: model has no attribute %q", spec.Model, k)
		}
		if int64(len(vs)) != spec.Count {
			return sim.EngineHandle{}, fmt.Errorf("create %q: %w", spec.Model,
				&sim.LengthMismatchError{Attribute: k, Want: int(spec.Count), Got: len(vs)})
		}
	}
	var shape []int64
	if spec.Positions != nil && spec.Positions.Layout == "grid" {
		if spec.Positions.Count() != spec.Count {
			return sim.EngineHandle{}, fmt.Errorf("create %q: grid holds %d positions, asked for %d instances",
				spec.Model, spec.Positions.Count(), spec.Count)
		}
		shape = spec.Positions.Shape
	}

	first := int64(len(m.instances))
	for i := int64(0); i < spec.Count; i++ {
		attrs := maps.Clone(md.Defaults)
		for k, vs := range spec.Overrides {
			attrs[k] = vs[i]
		}
		m.instances = append(m.instances, Instance{
			ID:         first + i,
			Model:      spec.Model,
			Position:   unravel(i, shape),
			Attributes: attrs,
		})
	}
	return sim.EngineHandle{Model: spec.Model, IDs: sim.Range{First: first, Last: first + spec.Count}}, nil
}

// Instance returns a copy of the instance with engine id id.
func (m *Memory) Instance(id int64) (Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 0 || id >= int64(len(m.instances)) {
		return Instance{}, false
	}
	in := m.instances[id]
	in.Attributes = maps.Clone(in.Attributes)
	return in, true
}

// Len returns the number of instances created so far.
func (m *Memory) Len() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.instances))
}

// unravel converts a flat index into row-major grid coordinates.
func unravel(i int64, shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}
	pos := make([]int64, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		pos[d] = i % shape[d]
		i /= shape[d]
	}
	return pos
}

func cloneModel(md Model) Model {
	md.Defaults = maps.Clone(md.Defaults)
	if md.Defaults == nil {
		md.Defaults = make(map[string]float64)
	}
	return md
}
