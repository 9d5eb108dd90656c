package sim

import "context"

// The interfaces below are the collaborators the core drives. Implementations live in
// sub-packages: sim/engine/ (an in-memory engine) and sim/compiler/ (an in-process
// compiler and source catalog).

// EngineHandle identifies instances the engine created in one Create call.
type EngineHandle struct {
	Model string
	IDs   Range // engine-assigned, contiguous
}

// CreateSpec is everything the engine needs to create a block of instances.
type CreateSpec struct {
	Model     string
	Count     int64
	Positions *Positions           // nil for non-spatial instances
	Overrides map[string][]float64 // each sequence has Count elements
}

// Engine is the external simulation engine.
type Engine interface {
	// Create instantiates spec.Count instances and returns their contiguous id range.
	Create(ctx context.Context, spec CreateSpec) (EngineHandle, error)
	// Install loads a compiled module, making its models available.
	Install(ctx context.Context, module string) error
	// Models lists every model the engine can create right now.
	Models(ctx context.Context) ([]string, error)
	// GetDefaults returns the default attribute values of an engine model.
	GetDefaults(ctx context.Context, model string) (map[string]float64, error)
	// CopyModel registers to as a copy of from, with defaults applied on top.
	CopyModel(ctx context.Context, from, to string, defaults map[string]float64) error
}

// ModelSource describes a model that is not built into the engine.
// When Library is set the model ships precompiled in that module; otherwise it
// must be compiled before its instances can be created.
type ModelSource struct {
	Name       string
	Kind       string // "neuron" or "synapse"
	Path       string
	Library    string
	Parameters map[string]float64
	State      map[string]float64
}

// Defaults merges parameters and state into one attribute table.
func (s ModelSource) Defaults() map[string]float64 {
	out := make(map[string]float64, len(s.Parameters)+len(s.State))
	for k, v := range s.Parameters {
		out[k] = v
	}
	for k, v := range s.State {
		out[k] = v
	}
	return out
}

// StateKeys returns the names of the state attributes.
func (s ModelSource) StateKeys() []string {
	return sortedKeys(s.State)
}

// Artifact is the output of compiling a ModelSource.
type Artifact struct {
	Model  string
	Module string
	Code   []byte
}

// Compiler turns model sources into installable modules.
type Compiler interface {
	Compile(ctx context.Context, src ModelSource) (Artifact, error)
	DeclaredAttributes(src ModelSource) []string
	// Build produces the installable module for a compiled artifact and returns its name.
	Build(ctx context.Context, art Artifact) (string, error)
}

// Catalog resolves model names that are neither registered nor built into the engine.
type Catalog interface {
	Lookup(name string) (ModelSource, bool)
}
