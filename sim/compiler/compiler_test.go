package compiler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/jitsim/sim"
	"github.com/inference-sim/jitsim/sim/compiler"
	"github.com/inference-sim/jitsim/sim/engine"
)

func lifSource() sim.ModelSource {
	return sim.ModelSource{
		Name:       "lif",
		Kind:       "neuron",
		Parameters: map[string]float64{"tau": 20, "C_m": 250},
		State:      map[string]float64{"V_m": -65},
	}
}

func TestInProcess_CompileBuildInstall(t *testing.T) {
	// GIVEN a compiler publishing to an in-memory engine
	ctx := context.Background()
	eng := engine.NewMemory()
	c := compiler.New(eng)

	// WHEN a source is compiled and built
	art, err := c.Compile(ctx, lifSource())
	require.NoError(t, err)
	module, err := c.Build(ctx, art)
	require.NoError(t, err)

	// THEN the module is on the search path and installs the model
	assert.Equal(t, "lifmodule", module)
	require.NoError(t, eng.Install(ctx, module))
	d, err := eng.GetDefaults(ctx, "lif")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"tau": 20, "C_m": 250, "V_m": -65}, d)
}

func TestInProcess_Compile_Rejects(t *testing.T) {
	c := compiler.New(engine.NewMemory())
	ctx := context.Background()

	tests := []struct {
		name string
		src  sim.ModelSource
	}{
		{"bad name", sim.ModelSource{Name: "9lives"}},
		{"bad kind", sim.ModelSource{Name: "x", Kind: "glia"}},
		{"bad parameter", sim.ModelSource{Name: "x", Parameters: map[string]float64{"a-b": 1}}},
		{"parameter and state", sim.ModelSource{Name: "x",
			Parameters: map[string]float64{"v": 1}, State: map[string]float64{"v": 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(ctx, tt.src)
			assert.Error(t, err)
		})
	}
}

func TestInProcess_Build_RejectsTamperedArtifact(t *testing.T) {
	ctx := context.Background()
	c := compiler.New(engine.NewMemory())
	art, err := c.Compile(ctx, lifSource())
	require.NoError(t, err)

	art.Module = "othermodule"
	_, err = c.Build(ctx, art)
	assert.Error(t, err)

	_, err = c.Build(ctx, sim.Artifact{Model: "lif", Module: "lifmodule", Code: []byte("bogus: [")})
	assert.Error(t, err)
}

func TestInProcess_DeclaredAttributes(t *testing.T) {
	got := compiler.New(engine.NewMemory()).DeclaredAttributes(lifSource())
	sort.Strings(got)
	assert.Equal(t, []string{"C_m", "V_m", "tau"}, got)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
models:
  - name: lif
    kind: neuron
    parameters: {tau: 20}
    state: {V_m: -65}
  - name: ext
    library: extlib
    parameters: {gain: 2}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cat, err := compiler.LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ext", "lif"}, cat.Names())
	src, ok := cat.Lookup("lif")
	require.True(t, ok)
	assert.Equal(t, []string{"V_m"}, src.StateKeys())
	_, ok = cat.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadCatalog_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	_, err := compiler.LoadCatalog(write("unknown.yaml", "models:\n  - name: a\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = compiler.LoadCatalog(write("dup.yaml", "models:\n  - name: a\n  - name: a\n"))
	assert.Error(t, err)

	_, err = compiler.LoadCatalog(write("noname.yaml", "models:\n  - kind: neuron\n"))
	assert.Error(t, err)

	_, err = compiler.LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// End to end: a session over the in-memory engine with real compiled and library models.
func TestSession_EndToEnd(t *testing.T) {
	ctx := context.Background()
	eng := engine.NewMemory(engine.Builtins()...)
	cat := compiler.NewCatalog(
		lifSource(),
		sim.ModelSource{Name: "ext", Library: "extlib", Parameters: map[string]float64{"gain": 1}},
	)
	cat.PublishLibraries(eng)
	s, err := sim.NewSession(sim.SessionConfig{BuildWorkers: 2}, eng, compiler.New(eng), cat)
	require.NoError(t, err)

	// GIVEN a lazy compiled collection with overrides on a sliced view
	lif, err := s.RequestRange(ctx, "lif", sim.CreateRequest{Count: 6})
	require.NoError(t, err)
	odd, err := lif.Select(sim.Slice(1, 6, 2))
	require.NoError(t, err)
	require.NoError(t, odd.Set(map[string]sim.Value{"tau": sim.Scalar(5)}))

	// AND an eager library collection
	ext, err := s.RequestRange(ctx, "ext", sim.CreateRequest{Count: 2, Params: map[string]sim.Value{"gain": sim.Scalar(3)}})
	require.NoError(t, err)
	require.True(t, ext.Materialized())

	// WHEN the compiled collection is materialized
	require.NoError(t, s.JoinBuilds(ctx))
	h, err := lif.Materialize(ctx)
	require.NoError(t, err)

	// THEN the engine instances carry the overrides
	ids, err := lif.EngineIDs()
	require.NoError(t, err)
	require.Len(t, ids, 6)
	assert.Equal(t, h.IDs.IDs(), ids)
	for i, id := range ids {
		in, ok := eng.Instance(id)
		require.True(t, ok)
		want := 20.0
		if i%2 == 1 {
			want = 5
		}
		assert.Equal(t, want, in.Attributes["tau"], "instance %d", i)
	}
	extIDs, err := ext.EngineIDs()
	require.NoError(t, err)
	in, _ := eng.Instance(extIDs[1])
	assert.Equal(t, 3.0, in.Attributes["gain"])

	var cerr *sim.CompilationError
	assert.False(t, errors.As(s.JoinBuilds(ctx), &cerr))
}
