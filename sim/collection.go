package sim

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// VirtualCollection is an ordered sequence of virtual ranges, possibly of several
// models, addressed as one logical collection. Position p belongs to the range whose
// prefix-sum interval contains it.
//
// Only a collection returned by Session.RequestRange is initial; selecting from or
// merging collections yields derived views that share attribute storage but can
// never be materialized themselves.
type VirtualCollection struct {
	s            *Session
	ranges       []*VirtualRange
	ends         []int64 // ends[i] = sum of lengths of ranges[0..i]
	initial      bool
	materialized bool
	handle       EngineHandle
	params       CreationParams // set on initial collections only
}

func newCollection(s *Session, ranges []*VirtualRange, initial, materialized bool) *VirtualCollection {
	c := &VirtualCollection{s: s, ranges: ranges, initial: initial, materialized: materialized}
	c.ends = make([]int64, len(ranges))
	var total int64
	for i, r := range ranges {
		total += r.Len()
		c.ends[i] = total
	}
	return c
}

// Len returns the number of instances in the collection.
func (c *VirtualCollection) Len() int64 {
	if len(c.ends) == 0 {
		return 0
	}
	return c.ends[len(c.ends)-1]
}

// Ranges returns the underlying ranges in logical order.
func (c *VirtualCollection) Ranges() []*VirtualRange {
	return append([]*VirtualRange(nil), c.ranges...)
}

// Initial reports whether the collection came straight from an allocation.
func (c *VirtualCollection) Initial() bool { return c.initial }

// Materialized reports whether the engine instances behind the collection exist.
// Derived views read this from the allocator bindings, so a view taken before its
// parent was materialized follows the parent.
func (c *VirtualCollection) Materialized() bool {
	if c.materialized {
		return true
	}
	bound := false
	for _, r := range c.ranges {
		if r.Len() == 0 {
			continue
		}
		if !r.Bound() {
			return false
		}
		bound = true
	}
	return bound
}

// Handle returns the engine handle of a materialized initial collection.
func (c *VirtualCollection) Handle() (EngineHandle, bool) {
	return c.handle, c.initial && c.materialized
}

// IDs returns the virtual ids in logical order.
func (c *VirtualCollection) IDs() []int64 {
	out := make([]int64, 0, c.Len())
	for _, r := range c.ranges {
		out = append(out, r.IDs()...)
	}
	return out
}

// Keys returns the union of attribute names over every model in the collection.
func (c *VirtualCollection) Keys() []string {
	set := make(map[string]struct{})
	for _, r := range c.ranges {
		for _, k := range r.Keys() {
			set[k] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Locate resolves logical position p to its range and the offset inside that range.
func (c *VirtualCollection) Locate(p int64) (*VirtualRange, int64, error) {
	i, off, err := c.locate(p)
	if err != nil {
		return nil, 0, err
	}
	return c.ranges[i], off, nil
}

func (c *VirtualCollection) locate(p int64) (int, int64, error) {
	if p < 0 || p >= c.Len() {
		return 0, 0, &IndexError{Index: p, Len: c.Len()}
	}
	i := sort.Search(len(c.ends), func(i int) bool { return c.ends[i] > p })
	start := c.ends[i] - c.ranges[i].Len()
	return i, p - start, nil
}

// Select returns a derived view over the selected positions. Positions are first
// grouped by owning range, keeping their order, and each group is then split into
// contiguous runs by that range, so the result stays minimal even when the
// selection straddles several models.
func (c *VirtualCollection) Select(sel Selector) (*VirtualCollection, error) {
	positions, err := sel.resolve(c.Len())
	if err != nil {
		return nil, err
	}
	var out []*VirtualRange
	owner := -1
	var offsets []int64
	flush := func() {
		if owner >= 0 && len(offsets) > 0 {
			out = append(out, c.ranges[owner].subRanges(offsets)...)
		}
		offsets = offsets[:0]
	}
	for _, p := range positions {
		i, off, err := c.locate(p)
		if err != nil {
			return nil, err
		}
		if i != owner {
			flush()
			owner = i
		}
		offsets = append(offsets, off)
	}
	flush()
	return newCollection(c.s, out, false, false), nil
}

// Slice is Select(Slice(start, stop, step)).
func (c *VirtualCollection) Slice(start, stop, step int64) (*VirtualCollection, error) {
	return c.Select(Slice(start, stop, step))
}

// At is Select(Index(p)).
func (c *VirtualCollection) At(p int64) (*VirtualCollection, error) {
	return c.Select(Index(p))
}

// Merge returns a derived view with other's ranges appended. Numerically adjacent
// ranges are kept apart: they may come from different allocations.
func (c *VirtualCollection) Merge(other *VirtualCollection) *VirtualCollection {
	ranges := make([]*VirtualRange, 0, len(c.ranges)+len(other.ranges))
	ranges = append(ranges, c.ranges...)
	ranges = append(ranges, other.ranges...)
	return newCollection(c.s, ranges, false, false)
}

// Get reads attributes across the collection, concatenated in logical order.
// Attributes not declared by every model in the collection are dropped. One
// instance yields Scalars, several yield Sequences.
func (c *VirtualCollection) Get(attributes []string) map[string]Value {
	res := make(map[string]Value)
	for _, k := range attributes {
		vals := make([]float64, 0, c.Len())
		declared := true
		for _, r := range c.ranges {
			if r.Len() == 0 {
				continue
			}
			if !r.Model().Has(k) {
				declared = false
				break
			}
			v := r.Get([]string{k}, false)[k]
			if v.Kind() == KindScalar {
				vals = append(vals, v.Float())
			} else {
				vals = append(vals, v.Floats()...)
			}
		}
		if !declared || len(vals) == 0 {
			continue
		}
		if len(vals) == 1 {
			res[k] = Scalar(vals[0])
		} else {
			res[k] = Sequence(vals...)
		}
	}
	return res
}

// Set writes attributes across the collection. Sequences must hold one element per
// instance and are split between the ranges in logical order. Once the engine owns
// the instances the overlay is read-only.
func (c *VirtualCollection) Set(values map[string]Value) error {
	if c.materialized {
		return &AlreadyMaterializedError{Model: c.modelName()}
	}
	for _, r := range c.ranges {
		if r.Len() > 0 && r.Bound() {
			return &AlreadyMaterializedError{Model: r.ModelName()}
		}
	}
	for _, k := range sortedKeys(values) {
		if v := values[k]; v.Kind() == KindSequence && int64(v.Len()) != c.Len() {
			return &LengthMismatchError{Attribute: k, Want: int(c.Len()), Got: v.Len()}
		}
	}
	for _, r := range c.ranges {
		var unknown []string
		for _, k := range sortedKeys(values) {
			if !r.Model().Has(k) {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			return &UnknownAttributeError{Model: r.ModelName(), Attributes: unknown}
		}
	}
	var offset int64
	for _, r := range c.ranges {
		n := r.Len()
		chunk := make(map[string]Value, len(values))
		for k, v := range values {
			if v.Kind() == KindSequence {
				chunk[k] = Sequence(v.seq[offset : offset+n]...)
			} else {
				chunk[k] = v
			}
		}
		if err := r.Set(chunk, nil, c.s.rng.ForSubsystem(SubsystemModel(r.ModelName()))); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// Materialize creates the collection's instances in the engine. It waits for the
// model's background build first and fails with *CompilationError if it failed.
func (c *VirtualCollection) Materialize(ctx context.Context) (EngineHandle, error) {
	if !c.initial || len(c.ranges) != 1 {
		return EngineHandle{}, &NotInitialError{}
	}
	if c.materialized {
		return EngineHandle{}, &AlreadyMaterializedError{Model: c.modelName()}
	}
	handle, err := c.s.materialize(ctx, c.ranges[0], c.params)
	if err != nil {
		return EngineHandle{}, err
	}
	c.materialized = true
	c.handle = handle
	return handle, nil
}

// EngineIDs returns the engine ids of every instance, in logical order.
func (c *VirtualCollection) EngineIDs() ([]int64, error) {
	out := make([]int64, 0, c.Len())
	for _, r := range c.ranges {
		er, err := r.EngineIDs()
		if err != nil {
			return nil, err
		}
		out = append(out, er.IDs()...)
	}
	return out, nil
}

func (c *VirtualCollection) modelName() string {
	if len(c.ranges) == 0 {
		return ""
	}
	return c.ranges[0].ModelName()
}

func (c *VirtualCollection) String() string {
	if len(c.ranges) == 0 {
		return "VirtualCollection(Empty)"
	}
	parts := make([]string, len(c.ranges))
	for i, r := range c.ranges {
		parts[i] = r.String()
	}
	return fmt.Sprintf("VirtualCollection(%s)", strings.Join(parts, "\n                  "))
}
