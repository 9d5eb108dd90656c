package sim

import (
	"fmt"
	"math/rand"
)

// VirtualRange is one contiguous block [first, last) of virtual ids of a single model.
// Its bounds never change; selecting from it yields new, narrower ranges.
type VirtualRange struct {
	model      *ModelRecord
	alloc      *IDAllocator
	bounds     Range
	customized bool
}

func newVirtualRange(model *ModelRecord, alloc *IDAllocator, bounds Range) *VirtualRange {
	return &VirtualRange{model: model, alloc: alloc, bounds: bounds}
}

// Model returns the record the range is bound to.
func (r *VirtualRange) Model() *ModelRecord { return r.model }

// ModelName returns the name of the bound model.
func (r *VirtualRange) ModelName() string { return r.model.Name() }

// Bounds returns the virtual ids covered.
func (r *VirtualRange) Bounds() Range { return r.bounds }

// Len returns the number of ids covered.
func (r *VirtualRange) Len() int64 { return r.bounds.Len() }

// IDs returns the virtual ids, ascending.
func (r *VirtualRange) IDs() []int64 { return r.bounds.IDs() }

// Customized reports whether Set has been called on this range.
func (r *VirtualRange) Customized() bool { return r.customized }

// Keys returns the attribute names of the bound model.
func (r *VirtualRange) Keys() []string { return r.model.Keys() }

// Get reads attributes for every id of the range.
func (r *VirtualRange) Get(attributes []string, onlyOverridden bool) map[string]Value {
	return r.model.Get(r.IDs(), attributes, onlyOverridden)
}

// Set writes values for ids, or for every id of the range when ids is nil.
// ids must lie inside the range.
func (r *VirtualRange) Set(values map[string]Value, ids []int64, rng *rand.Rand) error {
	if ids == nil {
		ids = r.IDs()
	} else {
		for _, id := range ids {
			if !r.bounds.Contains(id) {
				return &IndexError{Index: id, Len: r.Len(), Reason: fmt.Sprintf("id outside %v", r.bounds)}
			}
		}
	}
	if err := r.model.Set(ids, values, rng); err != nil {
		return err
	}
	r.customized = true
	return nil
}

// Select returns the selected positions as the minimal ordered list of contiguous
// sub-ranges. Selecting positions [0,1,2,5,6,9] yields three ranges of lengths 3, 2 and 1.
func (r *VirtualRange) Select(sel Selector) ([]*VirtualRange, error) {
	positions, err := sel.resolve(r.Len())
	if err != nil {
		return nil, err
	}
	return r.subRanges(positions), nil
}

// subRanges groups already validated local positions into sub-ranges.
func (r *VirtualRange) subRanges(positions []int64) []*VirtualRange {
	runs := groupRuns(positions)
	out := make([]*VirtualRange, 0, len(runs))
	for _, run := range runs {
		out = append(out, newVirtualRange(r.model, r.alloc, Range{
			First: r.bounds.First + run.First,
			Last:  r.bounds.First + run.Last,
		}))
	}
	return out
}

// BindEngineIDs records the engine ids created for this range.
func (r *VirtualRange) BindEngineIDs(engine Range) error {
	if engine.Len() != r.Len() {
		return &BindError{Model: r.ModelName(), Virtual: r.bounds, Engine: engine,
			Reason: fmt.Sprintf("engine range holds %d ids, range holds %d", engine.Len(), r.Len())}
	}
	return r.alloc.BindEngineIDs(r.ModelName(), r.bounds, engine)
}

// EngineIDs returns the engine ids backing this range.
func (r *VirtualRange) EngineIDs() (Range, error) {
	return r.alloc.EngineIDsFor(r.ModelName(), r.bounds)
}

// Bound reports whether the engine instances behind this range exist.
func (r *VirtualRange) Bound() bool {
	return r.alloc.IsBound(r.ModelName(), r.bounds)
}

// Equal reports whether o covers the same ids of the same model.
func (r *VirtualRange) Equal(o *VirtualRange) bool {
	return o != nil && r.model == o.model && r.bounds == o.bounds
}

func (r *VirtualRange) String() string {
	return fmt.Sprintf("model=%s, size=%d, first=%d", r.ModelName(), r.Len(), r.bounds.First)
}
