package sim

import (
	"context"
	"fmt"
	"maps"
	"math"
	"math/rand"
	"slices"
	"sort"
	"sync/atomic"
)

// OriginKind says where a model's implementation comes from.
type OriginKind int

const (
	OriginBuiltin         OriginKind = iota // shipped with the engine
	OriginCompiled                          // compiled from source in the background
	OriginExternalLibrary                   // precompiled module installed on first use
	OriginAlias                             // copy of another lazily created model
)

func (k OriginKind) String() string {
	switch k {
	case OriginBuiltin:
		return "builtin"
	case OriginCompiled:
		return "compiled"
	case OriginExternalLibrary:
		return "external-library"
	case OriginAlias:
		return "alias"
	default:
		return fmt.Sprintf("OriginKind(%d)", int(k))
	}
}

// Origin is the tagged variant carried by every ModelRecord.
// AliasOf is set only for OriginAlias.
type Origin struct {
	Kind    OriginKind
	AliasOf string
}

// Lazy reports whether instances of this origin stay virtual until materialized.
// Built-in and library models are created in the engine immediately.
func (o Origin) Lazy() bool {
	return o.Kind == OriginCompiled || o.Kind == OriginAlias
}

// Positions places instances on a spatial layout. The instance count is the
// product of Shape.
type Positions struct {
	Layout string  // "grid" or "free"
	Shape  []int64 // extent per dimension
}

// Validate checks that every dimension is positive and that the instance count
// fits in an int64.
func (p Positions) Validate() error {
	if len(p.Shape) == 0 {
		return fmt.Errorf("positions need at least one dimension")
	}
	n := int64(1)
	for i, d := range p.Shape {
		if d <= 0 {
			return fmt.Errorf("positions dimension %d is %d, must be positive", i, d)
		}
		if n > math.MaxInt64/d {
			return fmt.Errorf("positions shape %v overflows the instance count", p.Shape)
		}
		n *= d
	}
	return nil
}

// Count returns the number of instances the layout holds. Call Validate first.
func (p Positions) Count() int64 {
	if len(p.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// CreationParams are cached for the engine's create call.
type CreationParams struct {
	Count     int64
	Positions *Positions
}

// ModelRecord is one model's default attributes, its sparse overlays and the
// parameters needed to create it in the engine. Records are never removed.
//
// installed is the only field written off the owning goroutine: the build task
// sets it once the compiled module is loaded.
type ModelRecord struct {
	name      string
	origin    Origin
	defaults  map[string]float64
	overlays  map[string]*AttributeStore
	creation  *CreationParams
	rootName  string
	aliases   []string
	stateKeys []string
	changed   bool
	retuned   map[string]struct{} // attributes whose default moved after creation
	build     *BuildTask
	installed atomic.Bool
}

// NewModelRecord creates a record. defaults defines the legal attribute set and is copied.
func NewModelRecord(name string, origin Origin, defaults map[string]float64) *ModelRecord {
	m := &ModelRecord{
		name:     name,
		origin:   origin,
		defaults: maps.Clone(defaults),
		overlays: make(map[string]*AttributeStore),
	}
	if m.defaults == nil {
		m.defaults = make(map[string]float64)
	}
	return m
}

func (m *ModelRecord) Name() string { return m.name }

func (m *ModelRecord) Origin() Origin { return m.origin }

// Aliases lists the models copied from this one.
func (m *ModelRecord) Aliases() []string { return slices.Clone(m.aliases) }

// RootName returns the model this record was copied from, or "" for originals.
func (m *ModelRecord) RootName() string { return m.rootName }

// Changed reports whether SetDefaults has been called on the record.
func (m *ModelRecord) Changed() bool { return m.changed }

// Installed reports whether the model's compiled module is loaded in the engine.
func (m *ModelRecord) Installed() bool { return m.installed.Load() }

func (m *ModelRecord) markInstalled() { m.installed.Store(true) }

// BuildTask returns the background build of this record, nil if it has none.
func (m *ModelRecord) BuildTask() *BuildTask { return m.build }

// Keys returns the declared attribute names, sorted.
func (m *ModelRecord) Keys() []string { return sortedKeys(m.defaults) }

// Has reports whether attribute is declared.
func (m *ModelRecord) Has(attribute string) bool {
	_, ok := m.defaults[attribute]
	return ok
}

// Default returns the shared default of attribute.
func (m *ModelRecord) Default(attribute string) (float64, bool) {
	v, ok := m.defaults[attribute]
	return v, ok
}

// Defaults returns a copy of the default table.
func (m *ModelRecord) Defaults() map[string]float64 { return maps.Clone(m.defaults) }

// SetStates marks attributes as state variables. Unknown names are ignored.
func (m *ModelRecord) SetStates(keys ...string) {
	for _, k := range keys {
		if m.Has(k) && !slices.Contains(m.stateKeys, k) {
			m.stateKeys = append(m.stateKeys, k)
		}
	}
}

// Parameters returns the defaults without state attributes.
func (m *ModelRecord) Parameters() map[string]float64 {
	out := maps.Clone(m.defaults)
	for _, k := range m.stateKeys {
		delete(out, k)
	}
	return out
}

// SetCreationParams caches the parameters for the engine's create call.
func (m *ModelRecord) SetCreationParams(p CreationParams) {
	m.creation = &p
}

// CreationParams returns the cached creation parameters.
func (m *ModelRecord) CreationParams() (CreationParams, bool) {
	if m.creation == nil {
		return CreationParams{}, false
	}
	return *m.creation, true
}

// Overlay returns the store for attribute, nil if it was never overridden.
func (m *ModelRecord) Overlay(attribute string) *AttributeStore {
	return m.overlays[attribute]
}

// Get reads attributes for ids. Names not declared by the model are dropped.
// With onlyOverridden, ids without an override are skipped for that attribute and
// attributes left with no value are omitted. A single value is returned as a Scalar,
// several as a Sequence.
func (m *ModelRecord) Get(ids []int64, attributes []string, onlyOverridden bool) map[string]Value {
	res := make(map[string]Value)
	for _, k := range attributes {
		def, ok := m.defaults[k]
		if !ok {
			continue
		}
		store := m.overlays[k]
		vals := make([]float64, 0, len(ids))
		for _, id := range ids {
			if store != nil {
				if v, err := store.Get(id); err == nil {
					vals = append(vals, v)
					continue
				}
			}
			if !onlyOverridden {
				vals = append(vals, def)
			}
		}
		switch len(vals) {
		case 0:
		case 1:
			res[k] = Scalar(vals[0])
		default:
			res[k] = Sequence(vals...)
		}
	}
	return res
}

// Set writes values for ids. Scalars are broadcast, sequences must hold len(ids)
// elements and deferred values are drawn from rng once per id. Every attribute is
// validated before anything is written.
func (m *ModelRecord) Set(ids []int64, values map[string]Value, rng *rand.Rand) error {
	var unknown []string
	for _, k := range sortedKeys(values) {
		if !m.Has(k) {
			unknown = append(unknown, k)
			continue
		}
		if v := values[k]; v.Kind() == KindSequence && v.Len() != len(ids) {
			return &LengthMismatchError{Attribute: k, Want: len(ids), Got: v.Len()}
		}
	}
	if len(unknown) > 0 {
		return &UnknownAttributeError{Model: m.name, Attributes: unknown}
	}
	for _, k := range sortedKeys(values) {
		resolved, err := values[k].Resolve(k, len(ids), rng)
		if err != nil {
			return err
		}
		store, ok := m.overlays[k]
		if !ok {
			store = NewAttributeStore(k)
			m.overlays[k] = store
		}
		if err := store.Update(ids, resolved); err != nil {
			return err
		}
	}
	return nil
}

// SetDefaults replaces shared defaults. Every id in known that has no override for a
// changed attribute is first pinned to the old default, so only instances created
// after the call observe the new value; explicit overrides stay authoritative.
func (m *ModelRecord) SetDefaults(known Range, values map[string]float64) error {
	var unknown []string
	for _, k := range sortedKeys(values) {
		if !m.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return &UnknownAttributeError{Model: m.name, Attributes: unknown}
	}
	for _, k := range sortedKeys(values) {
		store := m.overlays[k]
		var missing []int64
		if store == nil {
			missing = known.IDs()
		} else {
			missing = store.Missing(known)
		}
		if len(missing) == 0 {
			continue
		}
		if store == nil {
			store = NewAttributeStore(k)
			m.overlays[k] = store
		}
		old := make([]float64, len(missing))
		for i := range old {
			old[i] = m.defaults[k]
		}
		if err := store.Update(missing, old); err != nil {
			return err
		}
	}
	if m.retuned == nil {
		m.retuned = make(map[string]struct{})
	}
	for k, v := range values {
		m.defaults[k] = v
		m.retuned[k] = struct{}{}
	}
	m.changed = true
	return nil
}

// OverriddenKeys returns the attributes with at least one override inside r, sorted.
func (m *ModelRecord) OverriddenKeys(r Range) []string {
	var out []string
	for k, store := range m.overlays {
		if store.CountIn(r) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ChangedDefaults returns the attributes whose default was replaced by SetDefaults, sorted.
// The engine still holds the original defaults for them.
func (m *ModelRecord) ChangedDefaults() []string { return sortedKeys(m.retuned) }

// CreateInstances asks the engine for count instances of this model, passing
// overrides through. The count must agree with every override sequence.
func (m *ModelRecord) CreateInstances(ctx context.Context, eng Engine, count int64, overrides map[string][]float64) (EngineHandle, error) {
	if m.creation == nil {
		return EngineHandle{}, &MissingCreationParamsError{Model: m.name}
	}
	if keys := sortedKeys(overrides); len(keys) > 0 {
		if n := int64(len(overrides[keys[0]])); n != count {
			return EngineHandle{}, &LengthMismatchError{Attribute: keys[0], Want: int(count), Got: int(n)}
		}
		for _, k := range keys[1:] {
			if int64(len(overrides[k])) != count {
				return EngineHandle{}, &LengthMismatchError{Attribute: k, Want: int(count), Got: len(overrides[k])}
			}
		}
	}
	handle, err := eng.Create(ctx, CreateSpec{
		Model:     m.name,
		Count:     count,
		Positions: m.creation.Positions,
		Overrides: overrides,
	})
	if err != nil {
		return EngineHandle{}, fmt.Errorf("creating %d instances of %q: %w", count, m.name, err)
	}
	return handle, nil
}

func (m *ModelRecord) String() string {
	return fmt.Sprintf("ModelRecord(name=%s, origin=%s)", m.name, m.origin.Kind)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
