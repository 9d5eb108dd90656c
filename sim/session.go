package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/jitsim/sim/trace"
)

// CreateRequest describes one batch of instances asked of a Session.
// When Positions is set the count is the product of its shape and Count is ignored.
type CreateRequest struct {
	Count     int64
	Positions *Positions
	Params    map[string]Value // applied to every new instance right after allocation
}

// Session is the process-scoped context owning the model registry, the id allocator
// and the background builds. Everything except the builds runs on the caller's
// goroutine; a Session must not be shared between goroutines.
type Session struct {
	cfg      SessionConfig
	engine   Engine
	compiler Compiler
	catalog  Catalog

	models      map[string]*ModelRecord
	alloc       *IDAllocator
	builder     *Builder
	rng         *PartitionedRNG
	metrics     *Metrics
	trace       *trace.SessionTrace
	collections []*VirtualCollection // initial collections, in creation order
}

// NewSession creates a Session driving engine. compiler and catalog may be nil when
// only engine built-in models are used.
func NewSession(cfg SessionConfig, engine Engine, compiler Compiler, catalog Catalog) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if engine == nil {
		return nil, errors.New("session requires an engine")
	}
	metrics := NewMetrics(cfg.Registerer)
	s := &Session{
		cfg:      cfg,
		engine:   engine,
		compiler: compiler,
		catalog:  catalog,
		models:   make(map[string]*ModelRecord),
		alloc:    NewIDAllocator(),
		builder:  NewBuilder(compiler, engine, cfg.BuildWorkers, metrics),
		rng:      NewPartitionedRNG(NewSessionKey(cfg.Seed)),
		metrics:  metrics,
	}
	if tc := cfg.traceConfig(); tc.Enabled() {
		s.trace = trace.NewSessionTrace(tc)
	}
	return s, nil
}

// Metrics returns the session collectors.
func (s *Session) Metrics() *Metrics { return s.metrics }

// Trace returns the recorded trace, nil when tracing is off.
func (s *Session) Trace() *trace.SessionTrace { return s.trace }

// Allocator exposes the id allocator for inspection.
func (s *Session) Allocator() *IDAllocator { return s.alloc }

// Model returns the registered record for name.
func (s *Session) Model(name string) (*ModelRecord, bool) {
	rec, ok := s.models[name]
	return rec, ok
}

// RequestRange allocates a new range of instances of model name and returns it as an
// initial collection. Lazy models stay virtual until Materialize; built-in and
// library models are created in the engine before RequestRange returns.
func (s *Session) RequestRange(ctx context.Context, name string, req CreateRequest) (*VirtualCollection, error) {
	count := req.Count
	if req.Positions != nil {
		if err := req.Positions.Validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
		count = req.Positions.Count()
	}
	if count < 0 {
		return nil, fmt.Errorf("model %q: %w (got %d)", name, ErrNegativeCount, count)
	}

	rec, err := s.resolve(ctx, name, req.Params)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, k := range sortedKeys(req.Params) {
		if !rec.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownAttributeError{Model: name, Attributes: unknown}
	}
	for _, k := range sortedKeys(req.Params) {
		if v := req.Params[k]; v.Kind() == KindSequence && int64(v.Len()) != count {
			return nil, &LengthMismatchError{Attribute: k, Want: int(count), Got: v.Len()}
		}
	}

	params := CreationParams{Count: count, Positions: req.Positions}
	rec.SetCreationParams(params)
	bounds, err := s.alloc.Allocate(name, count)
	if err != nil {
		return nil, err
	}
	s.metrics.observeAllocation(name, count)
	if s.trace != nil {
		s.trace.RecordAllocation(trace.AllocationRecord{
			Model:  name,
			First:  bounds.First,
			Last:   bounds.Last,
			Origin: rec.Origin().Kind.String(),
			Lazy:   rec.Origin().Lazy(),
		})
	}
	logrus.Debugf("allocated %s for model %q (%s)", bounds, name, rec.Origin().Kind)

	c := newCollection(s, []*VirtualRange{newVirtualRange(rec, s.alloc, bounds)}, true, false)
	c.params = params
	if len(req.Params) > 0 {
		if err := c.Set(req.Params); err != nil {
			return nil, err
		}
	}
	s.collections = append(s.collections, c)

	if !rec.Origin().Lazy() {
		if _, err := c.Materialize(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// resolve returns the record for name, registering it on first sight. Exactly one
// origin applies: registered, engine built-in, catalog library or catalog source.
func (s *Session) resolve(ctx context.Context, name string, params map[string]Value) (*ModelRecord, error) {
	if rec, ok := s.models[name]; ok {
		return rec, nil
	}
	builtin, err := s.engineHas(ctx, name)
	if err != nil {
		return nil, err
	}
	if builtin {
		return s.registerEngineModel(ctx, name, Origin{Kind: OriginBuiltin})
	}

	src, ok := s.lookup(name)
	if !ok {
		return nil, &UnknownModelError{Model: name}
	}
	if src.Library != "" {
		if err := s.engine.Install(ctx, src.Library); err != nil {
			return nil, fmt.Errorf("installing library %q for model %q: %w", src.Library, name, err)
		}
		rec, err := s.registerEngineModel(ctx, name, Origin{Kind: OriginExternalLibrary})
		if err != nil {
			return nil, err
		}
		rec.SetStates(src.StateKeys()...)
		rec.markInstalled()
		return rec, nil
	}

	if s.compiler == nil {
		return nil, fmt.Errorf("model %q needs compiling but the session has no compiler", name)
	}
	declared := make(map[string]struct{})
	for _, a := range s.compiler.DeclaredAttributes(src) {
		declared[a] = struct{}{}
	}
	var unknown []string
	for _, k := range sortedKeys(params) {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownAttributeError{Model: name, Attributes: unknown}
	}
	rec := NewModelRecord(name, Origin{Kind: OriginCompiled}, src.Defaults())
	rec.SetStates(src.StateKeys()...)
	s.models[name] = rec
	rec.build = s.builder.Start(rec, src)
	logrus.Infof("model %q registered, build %s started", name, rec.build.ID)
	return rec, nil
}

func (s *Session) registerEngineModel(ctx context.Context, name string, origin Origin) (*ModelRecord, error) {
	defaults, err := s.engine.GetDefaults(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading defaults of %q: %w", name, err)
	}
	rec := NewModelRecord(name, origin, defaults)
	rec.markInstalled()
	s.models[name] = rec
	logrus.Debugf("model %q registered as %s", name, origin.Kind)
	return rec, nil
}

func (s *Session) lookup(name string) (ModelSource, bool) {
	if s.catalog == nil {
		return ModelSource{}, false
	}
	return s.catalog.Lookup(name)
}

func (s *Session) engineHas(ctx context.Context, name string) (bool, error) {
	names, err := s.engine.Models(ctx)
	if err != nil {
		return false, fmt.Errorf("listing engine models: %w", err)
	}
	return slices.Contains(names, name), nil
}

// SetDefaults replaces shared defaults of a registered model. Instances allocated so
// far keep the value they observed before the call.
func (s *Session) SetDefaults(name string, values map[string]float64) error {
	rec, ok := s.models[name]
	if !ok {
		return &UnknownModelError{Model: name}
	}
	return rec.SetDefaults(s.alloc.Allocated(name), values)
}

// CopyModel registers newName as a copy of oldName with defaults applied on top.
// Copies of lazily created models stay virtual and are copied in the engine on
// first materialization; other models are copied in the engine right away.
func (s *Session) CopyModel(ctx context.Context, oldName, newName string, defaults map[string]float64) error {
	if _, exists := s.models[newName]; exists {
		return &DuplicateModelError{Model: newName}
	}
	if taken, err := s.engineHas(ctx, newName); err != nil {
		return err
	} else if taken {
		return &DuplicateModelError{Model: newName}
	}

	old, err := s.resolve(ctx, oldName, nil)
	if err != nil {
		return err
	}
	var unknown []string
	for _, k := range sortedKeys(defaults) {
		if !old.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return &UnknownAttributeError{Model: oldName, Attributes: unknown}
	}

	switch old.Origin().Kind {
	case OriginCompiled, OriginAlias:
		rec := NewModelRecord(newName, Origin{Kind: OriginAlias, AliasOf: oldName}, old.Defaults())
		for k, v := range defaults {
			rec.defaults[k] = v
		}
		rec.stateKeys = slices.Clone(old.stateKeys)
		rec.rootName = old.rootName
		if rec.rootName == "" {
			rec.rootName = oldName
		}
		old.aliases = append(old.aliases, newName)
		s.models[newName] = rec
		logrus.Infof("model %q registered as alias of %q", newName, oldName)
		return nil

	default:
		if err := s.engine.CopyModel(ctx, oldName, newName, defaults); err != nil {
			return fmt.Errorf("copying model %q to %q: %w", oldName, newName, err)
		}
		rec, err := s.registerEngineModel(ctx, newName, old.Origin())
		if err != nil {
			return err
		}
		rec.stateKeys = slices.Clone(old.stateKeys)
		rec.rootName = oldName
		old.aliases = append(old.aliases, newName)
		return nil
	}
}

// materialize creates r's instances in the engine and binds their ids. params are
// the creation parameters r was allocated with; they replace the record's cache,
// which may have been overwritten by a later request.
func (s *Session) materialize(ctx context.Context, r *VirtualRange, params CreationParams) (EngineHandle, error) {
	rec := r.Model()
	if err := s.ensureInstalled(ctx, rec); err != nil {
		return EngineHandle{}, err
	}
	rec.SetCreationParams(params)

	keys := rec.OverriddenKeys(r.Bounds())
	for _, k := range rec.ChangedDefaults() {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	overrides := make(map[string][]float64, len(keys))
	for k, v := range r.Get(keys, false) {
		if v.Kind() == KindScalar {
			overrides[k] = []float64{v.Float()}
		} else {
			overrides[k] = v.Floats()
		}
	}

	handle, err := rec.CreateInstances(ctx, s.engine, r.Len(), overrides)
	if err != nil {
		return EngineHandle{}, err
	}
	if err := r.BindEngineIDs(handle.IDs); err != nil {
		return EngineHandle{}, err
	}

	s.metrics.observeMaterialization(rec.Name(), r.Len())
	if s.trace != nil {
		overridden := sortedKeys(overrides)
		s.trace.RecordMaterialization(trace.MaterializeRecord{
			Model:        rec.Name(),
			VirtualFirst: r.Bounds().First,
			VirtualLast:  r.Bounds().Last,
			EngineFirst:  handle.IDs.First,
			EngineLast:   handle.IDs.Last,
			Overridden:   overridden,
		})
	}
	logrus.Infof("materialized %d instances of %q: virtual %s -> engine %s", r.Len(), rec.Name(), r.Bounds(), handle.IDs)
	return handle, nil
}

// ensureInstalled blocks until rec's module is loaded in the engine. A failed build
// is reported as *CompilationError every time a materialization depends on it.
func (s *Session) ensureInstalled(ctx context.Context, rec *ModelRecord) error {
	switch rec.Origin().Kind {
	case OriginCompiled:
		if rec.build == nil || rec.Installed() {
			return nil
		}
		if err := rec.build.Wait(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return err
			}
			return &CompilationError{Model: rec.Name(), Err: err}
		}
		return nil

	case OriginAlias:
		if rec.Installed() {
			return nil
		}
		parent, ok := s.models[rec.Origin().AliasOf]
		if !ok {
			return &UnknownModelError{Model: rec.Origin().AliasOf}
		}
		if err := s.ensureInstalled(ctx, parent); err != nil {
			return err
		}
		if err := s.engine.CopyModel(ctx, parent.Name(), rec.Name(), rec.Defaults()); err != nil {
			return fmt.Errorf("copying model %q to %q: %w", parent.Name(), rec.Name(), err)
		}
		rec.markInstalled()
		return nil

	default:
		return nil
	}
}

// JoinBuilds waits for every background build started so far and returns the first
// failure as *CompilationError.
func (s *Session) JoinBuilds(ctx context.Context) error {
	return s.builder.Wait(ctx)
}

// PendingBuilds returns the number of builds still running.
func (s *Session) PendingBuilds() int { return s.builder.Pending() }

// Models lists every model name known to the session or the engine, sorted.
func (s *Session) Models(ctx context.Context) ([]string, error) {
	names, err := s.engine.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing engine models: %w", err)
	}
	set := make(map[string]struct{}, len(names)+len(s.models))
	for _, n := range names {
		set[n] = struct{}{}
	}
	for n := range s.models {
		set[n] = struct{}{}
	}
	return sortedKeys(set), nil
}

// Span is a run of virtual ids of one model, as reported by Describe.
type Span struct {
	Model string
	First int64
	Last  int64 // inclusive
}

func (sp Span) String() string {
	if sp.Last > sp.First {
		return fmt.Sprintf("%d ... %d\t%s", sp.First, sp.Last, sp.Model)
	}
	return fmt.Sprintf("%d\t%s", sp.First, sp.Model)
}

// Describe summarizes the allocated collections in creation order, merging
// consecutive collections of the same model into one span.
func (s *Session) Describe() []Span {
	var spans []Span
	for _, c := range s.collections {
		ids := c.IDs()
		if len(ids) == 0 {
			continue
		}
		model := c.modelName()
		first, last := ids[0], ids[len(ids)-1]
		if n := len(spans); n > 0 && spans[n-1].Model == model {
			spans[n-1].Last = last
			continue
		}
		spans = append(spans, Span{Model: model, First: first, Last: last})
	}
	return spans
}

func (s *Session) String() string {
	lines := make([]string, 0, len(s.collections))
	for _, sp := range s.Describe() {
		lines = append(lines, sp.String())
	}
	return strings.Join(lines, "\n")
}
