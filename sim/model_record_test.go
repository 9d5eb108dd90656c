package sim

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRecord_SetThenGet(t *testing.T) {
	// GIVEN model A with default tau=10 and five allocated ids
	rec := newRecord("A", map[string]float64{"tau": 10})
	ids := Range{0, 5}.IDs()

	// WHEN tau=3.0 is set for ids 1 and 3
	require.NoError(t, rec.Set([]int64{1, 3}, map[string]Value{"tau": Scalar(3.0)}, nil))

	// THEN reads see the override where set and the default elsewhere
	got := rec.Get(ids, []string{"tau"}, false)
	assert.Equal(t, []float64{10, 3, 10, 3, 10}, got["tau"].Floats())

	// AND a single id comes back as a scalar
	one := rec.Get([]int64{3}, []string{"tau"}, false)
	assert.Equal(t, KindScalar, one["tau"].Kind())
	assert.Equal(t, 3.0, one["tau"].Float())
}

func TestModelRecord_Get_OnlyOverriddenAndUnknownNames(t *testing.T) {
	rec := newRecord("A", map[string]float64{"tau": 10, "C_m": 250})
	require.NoError(t, rec.Set([]int64{2, 4}, map[string]Value{"tau": Sequence(1, 2)}, nil))

	got := rec.Get(Range{0, 5}.IDs(), []string{"tau", "C_m", "nope"}, true)

	assert.Equal(t, []float64{1, 2}, got["tau"].Floats())
	assert.NotContains(t, got, "C_m", "no overrides: omitted")
	assert.NotContains(t, got, "nope", "undeclared names are dropped")
}

func TestModelRecord_Set_Errors(t *testing.T) {
	rec := newRecord("A", map[string]float64{"tau": 10})

	err := rec.Set([]int64{0, 1, 2}, map[string]Value{"tau": Sequence(1, 2)}, nil)
	var lerr *LengthMismatchError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 3, lerr.Want)

	err = rec.Set([]int64{0}, map[string]Value{"tau": Scalar(1), "bogus": Scalar(2)}, nil)
	var uerr *UnknownAttributeError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, []string{"bogus"}, uerr.Attributes)

	assert.Nil(t, rec.Overlay("tau"), "failed writes must not touch the overlay")
}

func TestModelRecord_Set_DeferredResolvedOnce(t *testing.T) {
	// GIVEN a deferred uniform value
	rec := newRecord("A", map[string]float64{"w": 0})
	rng := rand.New(rand.NewSource(5))

	// WHEN it is set on four ids
	require.NoError(t, rec.Set([]int64{0, 1, 2, 3}, map[string]Value{"w": Deferred(Uniform{Low: 0, High: 1})}, rng))

	// THEN repeated reads return the same concrete numbers
	first := rec.Get([]int64{0, 1, 2, 3}, []string{"w"}, false)["w"].Floats()
	second := rec.Get([]int64{0, 1, 2, 3}, []string{"w"}, false)["w"].Floats()
	assert.Equal(t, first, second)
	assert.Len(t, first, 4)
}

func TestModelRecord_SetDefaults_PinsUnaffectedIDs(t *testing.T) {
	// GIVEN ids [0,6) where ids 1 and 4 override tau
	rec := newRecord("A", map[string]float64{"tau": 10, "C_m": 250})
	known := Range{0, 6}
	require.NoError(t, rec.Set([]int64{1, 4}, map[string]Value{"tau": Scalar(3)}, nil))
	before := rec.Get(known.IDs(), []string{"tau"}, false)["tau"].Floats()

	// WHEN the default of tau moves to 20
	require.NoError(t, rec.SetDefaults(known, map[string]float64{"tau": 20}))

	// THEN no already-known id changes its observed value
	after := rec.Get(known.IDs(), []string{"tau"}, false)["tau"].Floats()
	assert.Equal(t, before, after)

	// AND ids allocated later observe the new default
	later := rec.Get([]int64{6, 7}, []string{"tau"}, false)["tau"].Floats()
	assert.Equal(t, []float64{20, 20}, later)

	// AND other attributes are untouched
	assert.Nil(t, rec.Overlay("C_m"))
	assert.True(t, rec.Changed())
	assert.Equal(t, []string{"tau"}, rec.ChangedDefaults())
}

func TestModelRecord_SetDefaults_UnknownAttribute(t *testing.T) {
	rec := newRecord("A", map[string]float64{"tau": 10})

	err := rec.SetDefaults(Range{0, 3}, map[string]float64{"x": 1})

	var uerr *UnknownAttributeError
	assert.True(t, errors.As(err, &uerr))
	assert.False(t, rec.Changed())
}

func TestModelRecord_Parameters_ExcludesStates(t *testing.T) {
	rec := NewModelRecord("A", Origin{Kind: OriginCompiled}, map[string]float64{"tau": 10, "V_m": -70})
	rec.SetStates("V_m", "unknown")

	assert.Equal(t, map[string]float64{"tau": 10}, rec.Parameters())
	assert.Equal(t, []string{"V_m", "tau"}, rec.Keys())
}

func TestModelRecord_OverriddenKeys(t *testing.T) {
	rec := newRecord("A", map[string]float64{"a": 0, "b": 0, "c": 0})
	require.NoError(t, rec.Set([]int64{1}, map[string]Value{"b": Scalar(1)}, nil))
	require.NoError(t, rec.Set([]int64{7}, map[string]Value{"a": Scalar(1)}, nil))

	assert.Equal(t, []string{"b"}, rec.OverriddenKeys(Range{0, 5}))
	assert.Equal(t, []string{"a", "b"}, rec.OverriddenKeys(Range{0, 10}))
}

func TestModelRecord_CreateInstances(t *testing.T) {
	ctx := context.Background()
	eng := newFakeEngine()

	// GIVEN a record without creation params
	rec := NewModelRecord("iaf", Origin{Kind: OriginBuiltin}, map[string]float64{"tau": 10})

	// WHEN instances are created
	_, err := rec.CreateInstances(ctx, eng, 2, nil)

	// THEN the call is refused
	var merr *MissingCreationParamsError
	require.True(t, errors.As(err, &merr))

	// GIVEN creation params and overrides of the wrong length
	rec.SetCreationParams(CreationParams{Count: 2})
	_, err = rec.CreateInstances(ctx, eng, 2, map[string][]float64{"tau": {1, 2, 3}})
	var lerr *LengthMismatchError
	require.True(t, errors.As(err, &lerr))

	// WHEN the overrides match
	h, err := rec.CreateInstances(ctx, eng, 2, map[string][]float64{"tau": {1, 2}})

	// THEN the engine receives them unchanged
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.IDs.Len())
	assert.Equal(t, []float64{1, 2}, eng.lastCreate().Overrides["tau"])
}
