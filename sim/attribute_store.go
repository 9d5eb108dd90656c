package sim

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// AttributeStore is the sparse overlay of one attribute: the ids whose value differs
// from the model default, and their values.
//
// ids and values are parallel slices in insertion order so bulk updates over a
// contiguous block append cheaply. members mirrors ids as a roaring bitmap for
// membership tests and set algebra against id ranges; pos maps an id to its slot.
type AttributeStore struct {
	name    string
	ids     []int64
	values  []float64
	pos     map[int64]int
	members *roaring64.Bitmap
}

// NewAttributeStore creates an empty overlay for the named attribute.
func NewAttributeStore(name string) *AttributeStore {
	return &AttributeStore{
		name:    name,
		pos:     make(map[int64]int),
		members: roaring64.New(),
	}
}

// Name returns the attribute this store overlays.
func (s *AttributeStore) Name() string { return s.name }

// Len returns the number of overridden ids.
func (s *AttributeStore) Len() int { return len(s.ids) }

// Contains reports whether id has an override.
func (s *AttributeStore) Contains(id int64) bool {
	_, ok := s.pos[id]
	return ok
}

// Get returns the override for id, or a *NotOverriddenError.
func (s *AttributeStore) Get(id int64) (float64, error) {
	i, ok := s.pos[id]
	if !ok {
		return 0, &NotOverriddenError{Attribute: s.name, ID: id}
	}
	return s.values[i], nil
}

// Update upserts each (ids[i], values[i]) pair: existing ids are overwritten in
// place, new ids are appended. Nothing is written when the lengths differ.
func (s *AttributeStore) Update(ids []int64, values []float64) error {
	if len(ids) != len(values) {
		return &LengthMismatchError{Attribute: s.name, Want: len(ids), Got: len(values)}
	}
	for k, id := range ids {
		if i, ok := s.pos[id]; ok {
			s.values[i] = values[k]
			continue
		}
		s.pos[id] = len(s.ids)
		s.ids = append(s.ids, id)
		s.values = append(s.values, values[k])
		s.members.Add(uint64(id))
	}
	return nil
}

// IDs returns the overridden ids in insertion order.
func (s *AttributeStore) IDs() []int64 {
	return append([]int64(nil), s.ids...)
}

// CountIn returns how many ids inside r carry an override.
func (s *AttributeStore) CountIn(r Range) int64 {
	if r.Len() <= 0 {
		return 0
	}
	upto := s.members.Rank(uint64(r.Last - 1))
	if r.First == 0 {
		return int64(upto)
	}
	return int64(upto - s.members.Rank(uint64(r.First-1)))
}

// Missing returns the ids inside r without an override, ascending.
func (s *AttributeStore) Missing(r Range) []int64 {
	return missingIn(s.members, r)
}

// missingIn returns the ids of r absent from members, ascending. A nil bitmap
// means no id is present.
func missingIn(members *roaring64.Bitmap, r Range) []int64 {
	if r.Len() <= 0 {
		return nil
	}
	span := roaring64.New()
	span.AddRange(uint64(r.First), uint64(r.Last))
	if members != nil {
		span.AndNot(members)
	}
	out := make([]int64, 0, span.GetCardinality())
	it := span.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}
