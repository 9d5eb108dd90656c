package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/jitsim/sim"
	"github.com/inference-sim/jitsim/sim/compiler"
	"github.com/inference-sim/jitsim/sim/engine"
	"github.com/inference-sim/jitsim/sim/trace"
)

// Scenario is a scripted session: the catalog of non-builtin models and the steps
// to run against an in-memory engine.
// All top-level sections must be listed to satisfy strict parsing.
type Scenario struct {
	Session sim.SessionConfig     `yaml:"session" toml:"session"`
	Models  []compiler.SourceSpec `yaml:"models" toml:"models"`
	Steps   []Step                `yaml:"steps" toml:"steps"`
}

// Step is one scenario operation. Which fields apply depends on Op.
type Step struct {
	Op         string             `yaml:"op" toml:"op"`
	Model      string             `yaml:"model" toml:"model"`           // create, copy (source), set_defaults
	As         string             `yaml:"as" toml:"as"`                 // name bound to the resulting collection or copied model
	Target     string             `yaml:"target" toml:"target"`         // collection operated on
	With       string             `yaml:"with" toml:"with"`             // merge: second collection
	Count      int64              `yaml:"count" toml:"count"`           // create
	Layout     string             `yaml:"layout" toml:"layout"`         // create: "grid" or "free"
	Shape      []int64            `yaml:"shape" toml:"shape"`           // create: overrides count
	Params     map[string]any     `yaml:"params" toml:"params"`         // create, set
	Defaults   map[string]float64 `yaml:"defaults" toml:"defaults"`     // copy, set_defaults
	Slice      []int64            `yaml:"slice" toml:"slice"`           // select: start, stop[, step]
	Indices    []any              `yaml:"indices" toml:"indices"`       // select: positions or mask
	Attributes []string           `yaml:"attributes" toml:"attributes"` // get
}

// validOps maps accepted step operations.
var validOps = map[string]bool{
	"create": true, "set": true, "set_defaults": true, "copy": true, "select": true,
	"merge": true, "get": true, "materialize": true, "engine_ids": true, "join": true,
}

// LoadScenario reads a scenario file. Files ending in .toml are parsed as TOML,
// anything else as YAML. Unknown fields are rejected in both formats.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("parsing scenario TOML: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&sc); err != nil {
			return nil, fmt.Errorf("parsing scenario YAML: %w", err)
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the session config and that every step names a known operation
// with the fields it needs.
func (sc *Scenario) Validate() error {
	if err := sc.Session.Validate(); err != nil {
		return err
	}
	for i, st := range sc.Steps {
		if !validOps[st.Op] {
			return fmt.Errorf("step %d: unknown op %q", i, st.Op)
		}
		switch st.Op {
		case "create", "copy", "set_defaults":
			if st.Model == "" {
				return fmt.Errorf("step %d (%s): model is required", i, st.Op)
			}
		case "set", "get", "materialize", "engine_ids":
			if st.Target == "" {
				return fmt.Errorf("step %d (%s): target is required", i, st.Op)
			}
		case "select":
			if st.Target == "" || st.As == "" {
				return fmt.Errorf("step %d (select): target and as are required", i)
			}
			if (len(st.Slice) > 0) == (st.Indices != nil) {
				return fmt.Errorf("step %d (select): exactly one of slice or indices is required", i)
			}
			if len(st.Slice) > 0 && len(st.Slice) != 2 && len(st.Slice) != 3 {
				return fmt.Errorf("step %d (select): slice takes start, stop and an optional step", i)
			}
		case "merge":
			if st.Target == "" || st.With == "" || st.As == "" {
				return fmt.Errorf("step %d (merge): target, with and as are required", i)
			}
		}
		if st.Op == "copy" && st.As == "" {
			return fmt.Errorf("step %d (copy): as names the new model", i)
		}
	}
	return nil
}

// Runner executes a scenario against an in-memory engine.
type Runner struct {
	sc   *Scenario
	s    *sim.Session
	eng  *engine.Memory
	out  io.Writer
	vars map[string]*sim.VirtualCollection

	head *color.Color
	ok   *color.Color
	val  *color.Color
}

// NewRunner builds the engine, compiler and catalog for sc and opens a session.
func NewRunner(sc *Scenario, out io.Writer) (*Runner, error) {
	cf := compiler.CatalogFile{Models: sc.Models}
	cat, err := cf.Catalog()
	if err != nil {
		return nil, err
	}
	eng := engine.NewMemory(engine.Builtins()...)
	cat.PublishLibraries(eng)
	s, err := sim.NewSession(sc.Session, eng, compiler.New(eng), cat)
	if err != nil {
		return nil, err
	}
	return &Runner{
		sc:   sc,
		s:    s,
		eng:  eng,
		out:  out,
		vars: make(map[string]*sim.VirtualCollection),
		head: color.New(color.FgCyan, color.Bold),
		ok:   color.New(color.FgGreen),
		val:  color.New(color.FgYellow),
	}, nil
}

// Session returns the runner's session.
func (r *Runner) Session() *sim.Session { return r.s }

// Collection returns a named collection created by an earlier step.
func (r *Runner) Collection(name string) (*sim.VirtualCollection, bool) {
	c, ok := r.vars[name]
	return c, ok
}

// Run executes every step in order, stopping at the first failure, then prints
// the session layout.
func (r *Runner) Run(ctx context.Context) error {
	for i, st := range r.sc.Steps {
		logrus.Debugf("step %d: %s", i, st.Op)
		if err := r.step(ctx, st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		}
	}
	if err := r.s.JoinBuilds(ctx); err != nil {
		logrus.Warnf("background build failed: %v", err)
	}
	r.head.Fprintln(r.out, "=== Session ===")
	fmt.Fprintln(r.out, r.s.String())
	if st := r.s.Trace(); st != nil {
		sum := trace.Summarize(st)
		r.head.Fprintln(r.out, "=== Trace ===")
		fmt.Fprintf(r.out, "allocations: %d (%d lazy, %d instances)\n", sum.TotalAllocations, sum.LazyAllocations, sum.InstancesAllocated)
		fmt.Fprintf(r.out, "materializations: %d (%d instances)\n", sum.Materializations, sum.InstancesMaterialized)
	}
	return nil
}

func (r *Runner) step(ctx context.Context, st Step) error {
	switch st.Op {
	case "create":
		params, err := parseValues(st.Params)
		if err != nil {
			return err
		}
		req := sim.CreateRequest{Count: st.Count, Params: params}
		if len(st.Shape) > 0 {
			layout := st.Layout
			if layout == "" {
				layout = "grid"
			}
			req.Positions = &sim.Positions{Layout: layout, Shape: st.Shape}
		}
		c, err := r.s.RequestRange(ctx, st.Model, req)
		if err != nil {
			return err
		}
		r.bind(st.As, c)
		r.ok.Fprintf(r.out, "created %s: ", nameOr(st.As, st.Model))
		fmt.Fprintln(r.out, c)

	case "set":
		c, err := r.lookup(st.Target)
		if err != nil {
			return err
		}
		values, err := parseValues(st.Params)
		if err != nil {
			return err
		}
		return c.Set(values)

	case "set_defaults":
		return r.s.SetDefaults(st.Model, st.Defaults)

	case "copy":
		if err := r.s.CopyModel(ctx, st.Model, st.As, st.Defaults); err != nil {
			return err
		}
		r.ok.Fprintf(r.out, "copied %s -> %s\n", st.Model, st.As)

	case "select":
		c, err := r.lookup(st.Target)
		if err != nil {
			return err
		}
		sel, err := selectorFor(st)
		if err != nil {
			return err
		}
		sub, err := c.Select(sel)
		if err != nil {
			return err
		}
		r.bind(st.As, sub)

	case "merge":
		a, err := r.lookup(st.Target)
		if err != nil {
			return err
		}
		b, err := r.lookup(st.With)
		if err != nil {
			return err
		}
		r.bind(st.As, a.Merge(b))

	case "get":
		c, err := r.lookup(st.Target)
		if err != nil {
			return err
		}
		attrs := st.Attributes
		if len(attrs) == 0 {
			attrs = c.Keys()
		}
		got := c.Get(attrs)
		for _, k := range attrs {
			v, ok := got[k]
			if !ok {
				continue
			}
			fmt.Fprintf(r.out, "%s.%s = ", st.Target, k)
			r.val.Fprintln(r.out, v.String())
		}

	case "materialize":
		c, err := r.lookup(st.Target)
		if err != nil {
			return err
		}
		h, err := c.Materialize(ctx)
		if err != nil {
			return err
		}
		r.ok.Fprintf(r.out, "materialized %s: engine %s\n", st.Target, h.IDs)

	case "engine_ids":
		c, err := r.lookup(st.Target)
		if err != nil {
			return err
		}
		ids, err := c.EngineIDs()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s engine ids = ", st.Target)
		r.val.Fprintln(r.out, fmt.Sprint(ids))

	case "join":
		return r.s.JoinBuilds(ctx)
	}
	return nil
}

func (r *Runner) bind(name string, c *sim.VirtualCollection) {
	if name != "" {
		r.vars[name] = c
	}
}

func (r *Runner) lookup(name string) (*sim.VirtualCollection, error) {
	c, ok := r.vars[name]
	if !ok {
		return nil, fmt.Errorf("no collection named %q", name)
	}
	return c, nil
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func selectorFor(st Step) (sim.Selector, error) {
	if len(st.Slice) > 0 {
		step := int64(1)
		if len(st.Slice) == 3 {
			step = st.Slice[2]
		}
		return sim.Slice(st.Slice[0], st.Slice[1], step), nil
	}
	return sim.ParseSelector(st.Indices)
}

// parseValues converts decoded scenario values. A number is a scalar, a list of
// numbers a sequence, and a single-key map {uniform: [lo, hi]} or
// {normal: [mean, std]} a deferred value.
func parseValues(in map[string]any) (map[string]sim.Value, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]sim.Value, len(in))
	for k, raw := range in {
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func parseValue(raw any) (sim.Value, error) {
	if f, ok := asFloat(raw); ok {
		return sim.Scalar(f), nil
	}
	switch x := raw.(type) {
	case []any:
		fs, err := asFloats(x)
		if err != nil {
			return sim.Value{}, err
		}
		return sim.Sequence(fs...), nil
	case map[string]any:
		if len(x) != 1 {
			return sim.Value{}, fmt.Errorf("expected one of uniform or normal, got %d keys", len(x))
		}
		for name, argsRaw := range x {
			args, ok := argsRaw.([]any)
			if !ok {
				return sim.Value{}, fmt.Errorf("%s: expected a two-element list", name)
			}
			fs, err := asFloats(args)
			if err != nil {
				return sim.Value{}, err
			}
			if len(fs) != 2 {
				return sim.Value{}, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(fs))
			}
			switch name {
			case "uniform":
				return sim.Deferred(sim.Uniform{Low: fs[0], High: fs[1]}), nil
			case "normal":
				return sim.Deferred(sim.Normal{Mean: fs[0], Std: fs[1]}), nil
			default:
				return sim.Value{}, fmt.Errorf("unknown distribution %q", name)
			}
		}
	}
	return sim.Value{}, fmt.Errorf("unsupported value %v (%T)", raw, raw)
}

func asFloats(xs []any) ([]float64, error) {
	out := make([]float64, len(xs))
	for i, x := range xs {
		f, ok := asFloat(x)
		if !ok {
			return nil, fmt.Errorf("element %d: %v is not a number", i, x)
		}
		out[i] = f
	}
	return out, nil
}

func asFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
