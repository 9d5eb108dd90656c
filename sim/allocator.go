package sim

import (
	"fmt"
	"sort"
)

// Range is a half-open block [First, Last) of ids, virtual or engine-assigned.
type Range struct {
	First int64
	Last  int64
}

// Len returns Last - First.
func (r Range) Len() int64 { return r.Last - r.First }

// Contains reports whether id lies inside r.
func (r Range) Contains(id int64) bool { return id >= r.First && id < r.Last }

// Covers reports whether o lies entirely inside r.
func (r Range) Covers(o Range) bool { return o.First >= r.First && o.Last <= r.Last }

// IDs expands r into its ids, ascending.
func (r Range) IDs() []int64 {
	if r.Len() <= 0 {
		return nil
	}
	out := make([]int64, 0, r.Len())
	for id := r.First; id < r.Last; id++ {
		out = append(out, id)
	}
	return out
}

func (r Range) String() string { return fmt.Sprintf("[%d, %d)", r.First, r.Last) }

// binding maps one materialized virtual range onto the engine range created for it.
type binding struct {
	virtual Range
	engine  Range
}

// IDAllocator hands out disjoint, monotonically increasing virtual id ranges per
// model and remembers which engine ids back each materialized range.
//
// Nothing is ever released: the engine does not reclaim ids either.
// Thread-safety: NOT thread-safe. Owned by the Session goroutine.
type IDAllocator struct {
	nextFree map[string]int64
	bindings map[string][]binding // per model, sorted by virtual.First
}

// NewIDAllocator creates an allocator with every model starting at id 0.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		nextFree: make(map[string]int64),
		bindings: make(map[string][]binding),
	}
}

// Allocate reserves count fresh ids for model. A zero count yields an empty range
// at the current position.
func (a *IDAllocator) Allocate(model string, count int64) (Range, error) {
	if count < 0 {
		return Range{}, fmt.Errorf("allocating %d ids for %q: %w", count, model, ErrNegativeCount)
	}
	first := a.nextFree[model]
	r := Range{First: first, Last: first + count}
	a.nextFree[model] = r.Last
	return r, nil
}

// Allocated returns every virtual id handed out for model so far, as [0, nextFree).
func (a *IDAllocator) Allocated(model string) Range {
	return Range{First: 0, Last: a.nextFree[model]}
}

// BindEngineIDs records that engine created the instances behind virtual.
// Both ranges must have the same length and virtual must not overlap an earlier binding.
// Empty ranges are accepted and not recorded.
func (a *IDAllocator) BindEngineIDs(model string, virtual, engine Range) error {
	if virtual.Len() != engine.Len() {
		return &BindError{Model: model, Virtual: virtual, Engine: engine,
			Reason: fmt.Sprintf("engine created %d instances, expected %d", engine.Len(), virtual.Len())}
	}
	if virtual.Len() == 0 {
		return nil
	}
	bs := a.bindings[model]
	i := sort.Search(len(bs), func(i int) bool { return bs[i].virtual.First >= virtual.First })
	if i > 0 && bs[i-1].virtual.Last > virtual.First {
		return &BindError{Model: model, Virtual: virtual, Engine: engine, Reason: "virtual range already bound"}
	}
	if i < len(bs) && bs[i].virtual.First < virtual.Last {
		return &BindError{Model: model, Virtual: virtual, Engine: engine, Reason: "virtual range already bound"}
	}
	bs = append(bs, binding{})
	copy(bs[i+1:], bs[i:])
	bs[i] = binding{virtual: virtual, engine: engine}
	a.bindings[model] = bs
	return nil
}

// EngineIDsFor translates virtual into engine ids. virtual may be any sub-range of a
// single bound range, which is what slicing a materialized collection produces.
func (a *IDAllocator) EngineIDsFor(model string, virtual Range) (Range, error) {
	if virtual.Len() == 0 {
		return Range{}, nil
	}
	bs := a.bindings[model]
	// last binding starting at or before virtual.First
	i := sort.Search(len(bs), func(i int) bool { return bs[i].virtual.First > virtual.First }) - 1
	if i < 0 || !bs[i].virtual.Covers(virtual) {
		return Range{}, &NotMaterializedError{Model: model, Virtual: virtual}
	}
	b := bs[i]
	offset := virtual.First - b.virtual.First
	return Range{First: b.engine.First + offset, Last: b.engine.First + offset + virtual.Len()}, nil
}

// IsBound reports whether every id of virtual has engine ids.
func (a *IDAllocator) IsBound(model string, virtual Range) bool {
	_, err := a.EngineIDsFor(model, virtual)
	return err == nil
}
