package sim

import "fmt"

// SelectorKind tags the variant held by a Selector.
type SelectorKind int

const (
	SelectIndex     SelectorKind = iota // one position, negative counts from the end
	SelectSlice                         // start:stop:step, step >= 1
	SelectPositions                     // explicit unique positions, kept in the given order
	SelectMask                          // one bool per position
)

// Selector picks logical positions out of a range or collection.
type Selector struct {
	kind      SelectorKind
	index     int64
	start     int64
	stop      int64
	step      int64
	bounded   bool // false: the slice runs over every position
	positions []int64
	mask      []bool
}

// Index selects a single position.
func Index(i int64) Selector { return Selector{kind: SelectIndex, index: i} }

// Slice selects start:stop:step. Negative bounds count from the end.
func Slice(start, stop, step int64) Selector {
	return Selector{kind: SelectSlice, start: start, stop: stop, step: step, bounded: true}
}

// Every selects every step-th position from the first one.
func Every(step int64) Selector { return Selector{kind: SelectSlice, step: step} }

// Picks selects explicit positions. The slice is copied.
func Picks(ps ...int64) Selector {
	return Selector{kind: SelectPositions, positions: append([]int64(nil), ps...)}
}

// Mask selects the positions whose flag is true. Its length must equal the target's length.
func Mask(m ...bool) Selector {
	return Selector{kind: SelectMask, mask: append([]bool(nil), m...)}
}

// Kind reports which variant s holds.
func (s Selector) Kind() SelectorKind { return s.kind }

// ParseSelector builds a selector from untyped list data such as a decoded YAML
// sequence: all booleans make a Mask, all integers make Picks. Anything else,
// including a mix of both, is a *TypeError.
func ParseSelector(items []any) (Selector, error) {
	if len(items) == 0 {
		return Picks(), nil
	}
	if _, ok := items[0].(bool); ok {
		mask := make([]bool, len(items))
		for i, it := range items {
			b, ok := it.(bool)
			if !ok {
				return Selector{}, &TypeError{Value: it}
			}
			mask[i] = b
		}
		return Mask(mask...), nil
	}
	ps := make([]int64, len(items))
	for i, it := range items {
		p, ok := asInt64(it)
		if !ok {
			return Selector{}, &TypeError{Value: it}
		}
		ps[i] = p
	}
	return Picks(ps...), nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// resolve expands s into local positions against a target of length n.
func (s Selector) resolve(n int64) ([]int64, error) {
	switch s.kind {
	case SelectIndex:
		i := s.index
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, &IndexError{Index: s.index, Len: n}
		}
		return []int64{i}, nil

	case SelectSlice:
		if s.step < 1 {
			return nil, &InvalidStepError{Step: s.step}
		}
		start, stop := int64(0), n
		if s.bounded {
			var err error
			if start, err = normalizeBound(s.start, n, "slice start outside of the range"); err != nil {
				return nil, err
			}
			if stop, err = normalizeBound(s.stop, n, "slice stop outside of the range"); err != nil {
				return nil, err
			}
		}
		var out []int64
		for p := start; p < stop; p += s.step {
			out = append(out, p)
		}
		return out, nil

	case SelectPositions:
		seen := make(map[int64]struct{}, len(s.positions))
		for _, p := range s.positions {
			if p < 0 || p >= n {
				return nil, &IndexError{Index: p, Len: n}
			}
			if _, dup := seen[p]; dup {
				return nil, &DuplicateIndexError{Index: p}
			}
			seen[p] = struct{}{}
		}
		return append([]int64(nil), s.positions...), nil

	case SelectMask:
		if int64(len(s.mask)) != n {
			return nil, &IndexError{Index: int64(len(s.mask)), Len: n,
				Reason: "boolean mask must be the same length as the selection target"}
		}
		var out []int64
		for i, b := range s.mask {
			if b {
				out = append(out, int64(i))
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported selector kind %d", s.kind)
	}
}

func normalizeBound(b, n int64, reason string) (int64, error) {
	if b < -n || b > n {
		return 0, &IndexError{Index: b, Len: n, Reason: reason}
	}
	if b < 0 {
		b += n
	}
	return b, nil
}

// groupRuns partitions positions, in the order given, into maximal runs of
// consecutive integers. Each run is returned as a half-open local range.
func groupRuns(positions []int64) []Range {
	if len(positions) == 0 {
		return nil
	}
	var runs []Range
	first, last := positions[0], positions[0]
	for _, p := range positions[1:] {
		if p-last == 1 {
			last = p
			continue
		}
		runs = append(runs, Range{First: first, Last: last + 1})
		first, last = p, p
	}
	return append(runs, Range{First: first, Last: last + 1})
}
