// Package compiler provides an in-process implementation of the sim.Compiler
// collaborator and a Catalog of model sources.
//
// Compile checks a source and renders it into a YAML module manifest; Build decodes
// the manifest and publishes the module on the engine's search path, after which
// the engine can Install it.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/jitsim/sim"
	"github.com/inference-sim/jitsim/sim/engine"
)

var _ sim.Compiler = (*InProcess)(nil)

// Publisher receives built modules. *engine.Memory implements it.
type Publisher interface {
	Publish(module string, models ...engine.Model)
}

// ModuleSuffix is appended to a model name to form its module name.
const ModuleSuffix = "module"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// manifest is the artifact format passed from Compile to Build.
type manifest struct {
	Module string             `yaml:"module"`
	Model  string             `yaml:"model"`
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"parameters"`
	State  map[string]float64 `yaml:"state"`
}

// InProcess compiles sources without leaving the process.
type InProcess struct {
	pub Publisher
	// Latency is slept inside Build, standing in for a native toolchain.
	Latency time.Duration
}

// New creates a compiler publishing to pub.
func New(pub Publisher) *InProcess {
	return &InProcess{pub: pub}
}

// Compile validates src and renders its module manifest.
func (c *InProcess) Compile(_ context.Context, src sim.ModelSource) (sim.Artifact, error) {
	if !identifier.MatchString(src.Name) {
		return sim.Artifact{}, fmt.Errorf("invalid model name %q", src.Name)
	}
	kind := src.Kind
	if kind == "" {
		kind = "neuron"
	}
	if kind != "neuron" && kind != "synapse" {
		return sim.Artifact{}, fmt.Errorf("model %q: unknown kind %q", src.Name, src.Kind)
	}
	for k := range src.Parameters {
		if !identifier.MatchString(k) {
			return sim.Artifact{}, fmt.Errorf("model %q: invalid parameter name %q", src.Name, k)
		}
	}
	for k := range src.State {
		if !identifier.MatchString(k) {
			return sim.Artifact{}, fmt.Errorf("model %q: invalid state name %q", src.Name, k)
		}
		if _, dup := src.Parameters[k]; dup {
			return sim.Artifact{}, fmt.Errorf("model %q: %q declared as both parameter and state", src.Name, k)
		}
	}

	m := manifest{
		Module: src.Name + ModuleSuffix,
		Model:  src.Name,
		Kind:   kind,
		Params: src.Parameters,
		State:  src.State,
	}
	code, err := yaml.Marshal(&m)
	if err != nil {
		return sim.Artifact{}, fmt.Errorf("model %q: rendering manifest: %w", src.Name, err)
	}
	return sim.Artifact{Model: src.Name, Module: m.Module, Code: code}, nil
}

// DeclaredAttributes returns every parameter and state name of src.
func (c *InProcess) DeclaredAttributes(src sim.ModelSource) []string {
	names := make([]string, 0, len(src.Parameters)+len(src.State))
	for k := range src.Defaults() {
		names = append(names, k)
	}
	return names
}

// Build decodes the artifact and publishes its module. It returns the module name.
func (c *InProcess) Build(ctx context.Context, art sim.Artifact) (string, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	dec := yaml.NewDecoder(bytes.NewReader(art.Code))
	dec.KnownFields(true)
	var m manifest
	if err := dec.Decode(&m); err != nil {
		return "", fmt.Errorf("module %q: decoding manifest: %w", art.Module, err)
	}
	if m.Module != art.Module || m.Model != art.Model {
		return "", fmt.Errorf("module %q: manifest names %q/%q", art.Module, m.Module, m.Model)
	}
	defaults := make(map[string]float64, len(m.Params)+len(m.State))
	for k, v := range m.Params {
		defaults[k] = v
	}
	for k, v := range m.State {
		defaults[k] = v
	}
	c.pub.Publish(m.Module, engine.Model{Name: m.Model, Kind: m.Kind, Defaults: defaults})
	return m.Module, nil
}
