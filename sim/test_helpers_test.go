package sim

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEngine records every call and hands out engine ids from a single counter,
// starting at 1000 so they never coincide with virtual ids in assertions.
type fakeEngine struct {
	mu        sync.Mutex
	models    map[string]map[string]float64
	published map[string]map[string]map[string]float64 // module -> model -> defaults
	next      int64
	creates   []CreateSpec
	installs  []string
	copies    [][2]string
	createErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		models: map[string]map[string]float64{
			"iaf": {"tau": 10, "V_th": -55, "V_m": -70},
			"gen": {"rate": 0},
		},
		published: make(map[string]map[string]map[string]float64),
		next:      1000,
	}
}

func (e *fakeEngine) publish(module, model string, defaults map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.published[module] == nil {
		e.published[module] = make(map[string]map[string]float64)
	}
	e.published[module][model] = maps.Clone(defaults)
}

func (e *fakeEngine) Create(_ context.Context, spec CreateSpec) (EngineHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return EngineHandle{}, e.createErr
	}
	if _, ok := e.models[spec.Model]; !ok {
		return EngineHandle{}, fmt.Errorf("fake engine: unknown model %q", spec.Model)
	}
	e.creates = append(e.creates, spec)
	first := e.next
	e.next += spec.Count
	return EngineHandle{Model: spec.Model, IDs: Range{First: first, Last: e.next}}, nil
}

func (e *fakeEngine) Install(_ context.Context, module string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	models, ok := e.published[module]
	if !ok {
		return fmt.Errorf("fake engine: module %q not found", module)
	}
	for name, d := range models {
		e.models[name] = maps.Clone(d)
	}
	e.installs = append(e.installs, module)
	return nil
}

func (e *fakeEngine) Models(_ context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.models))
	for n := range e.models {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (e *fakeEngine) GetDefaults(_ context.Context, model string) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.models[model]
	if !ok {
		return nil, fmt.Errorf("fake engine: unknown model %q", model)
	}
	return maps.Clone(d), nil
}

func (e *fakeEngine) CopyModel(_ context.Context, from, to string, defaults map[string]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.models[from]
	if !ok {
		return fmt.Errorf("fake engine: unknown model %q", from)
	}
	cp := maps.Clone(d)
	for k, v := range defaults {
		cp[k] = v
	}
	e.models[to] = cp
	e.copies = append(e.copies, [2]string{from, to})
	return nil
}

func (e *fakeEngine) lastCreate() CreateSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creates[len(e.creates)-1]
}

func (e *fakeEngine) createCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.creates)
}

// fakeCompiler publishes "<model>module" to its engine. Builds block on gate when
// it is non-nil, and sources named in fail never compile.
type fakeCompiler struct {
	eng  *fakeEngine
	gate chan struct{}
	fail map[string]error

	mu   sync.Mutex
	srcs map[string]ModelSource
}

func newFakeCompiler(eng *fakeEngine) *fakeCompiler {
	return &fakeCompiler{eng: eng, fail: make(map[string]error), srcs: make(map[string]ModelSource)}
}

func (c *fakeCompiler) Compile(_ context.Context, src ModelSource) (Artifact, error) {
	if err := c.fail[src.Name]; err != nil {
		return Artifact{}, err
	}
	c.mu.Lock()
	c.srcs[src.Name] = src
	c.mu.Unlock()
	return Artifact{Model: src.Name, Module: src.Name + "module"}, nil
}

func (c *fakeCompiler) DeclaredAttributes(src ModelSource) []string {
	return sortedKeys(src.Defaults())
}

func (c *fakeCompiler) Build(ctx context.Context, art Artifact) (string, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.mu.Lock()
	src := c.srcs[art.Model]
	c.mu.Unlock()
	c.eng.publish(art.Module, art.Model, src.Defaults())
	return art.Module, nil
}

type fakeCatalog map[string]ModelSource

func (c fakeCatalog) Lookup(name string) (ModelSource, bool) {
	s, ok := c[name]
	return s, ok
}

// testCatalog holds one compiled source "lif" and one library model "ext".
func testCatalog() fakeCatalog {
	return fakeCatalog{
		"lif": {
			Name:       "lif",
			Kind:       "neuron",
			Parameters: map[string]float64{"tau": 20, "C_m": 250},
			State:      map[string]float64{"V_m": -65},
		},
		"ext": {
			Name:       "ext",
			Kind:       "neuron",
			Library:    "extlib",
			Parameters: map[string]float64{"gain": 1},
		},
	}
}

type testEnv struct {
	s    *Session
	eng  *fakeEngine
	comp *fakeCompiler
}

func newTestEnv(t *testing.T, cfg SessionConfig) *testEnv {
	t.Helper()
	eng := newFakeEngine()
	eng.publish("extlib", "ext", map[string]float64{"gain": 1})
	comp := newFakeCompiler(eng)
	s, err := NewSession(cfg, eng, comp, testCatalog())
	require.NoError(t, err)
	return &testEnv{s: s, eng: eng, comp: comp}
}

// newRecord returns a compiled-origin record with creation params set.
func newRecord(name string, defaults map[string]float64) *ModelRecord {
	rec := NewModelRecord(name, Origin{Kind: OriginCompiled}, defaults)
	rec.SetCreationParams(CreationParams{})
	return rec
}
