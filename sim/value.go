package sim

import (
	"fmt"
	"math/rand"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindScalar   ValueKind = iota // one number, broadcast to every target id
	KindSequence                  // one number per target id
	KindDeferred                  // expression drawn once per target id at set-time
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("ValueKind(%d)", int(k))
	}
}

// Expr is a deferred attribute expression. Eval is called once per target id
// when the value is written, never on read.
type Expr interface {
	Eval(rng *rand.Rand) float64
	String() string
}

// Value is the closed union of attribute values accepted by Set and returned by Get.
// The zero Value is the scalar 0.
type Value struct {
	kind   ValueKind
	scalar float64
	seq    []float64
	expr   Expr
}

// Scalar returns a single-number Value.
func Scalar(v float64) Value {
	return Value{kind: KindScalar, scalar: v}
}

// Sequence returns a per-id Value. The slice is copied.
func Sequence(vs ...float64) Value {
	return Value{kind: KindSequence, seq: append([]float64(nil), vs...)}
}

// Deferred returns a Value resolved by evaluating e for each target id at set-time.
func Deferred(e Expr) Value {
	return Value{kind: KindDeferred, expr: e}
}

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// Float returns the scalar payload. It is only meaningful for KindScalar.
func (v Value) Float() float64 { return v.scalar }

// Floats returns a copy of the sequence payload. It is nil unless v is KindSequence.
func (v Value) Floats() []float64 {
	if v.kind != KindSequence {
		return nil
	}
	return append([]float64(nil), v.seq...)
}

// Len is 1 for scalars and deferred values and the element count for sequences.
func (v Value) Len() int {
	if v.kind == KindSequence {
		return len(v.seq)
	}
	return 1
}

// Resolve expands v into exactly n concrete numbers. Scalars are broadcast, deferred
// expressions are evaluated n times against rng, and sequences must already hold n
// elements. attribute only labels the LengthMismatchError.
func (v Value) Resolve(attribute string, n int, rng *rand.Rand) ([]float64, error) {
	out := make([]float64, n)
	switch v.kind {
	case KindScalar:
		for i := range out {
			out[i] = v.scalar
		}
	case KindSequence:
		if len(v.seq) != n {
			return nil, &LengthMismatchError{Attribute: attribute, Want: n, Got: len(v.seq)}
		}
		copy(out, v.seq)
	case KindDeferred:
		for i := range out {
			out[i] = v.expr.Eval(rng)
		}
	default:
		return nil, fmt.Errorf("attribute %q: unsupported value kind %v", attribute, v.kind)
	}
	return out, nil
}

func (v Value) String() string {
	switch v.kind {
	case KindSequence:
		return fmt.Sprintf("%v", v.seq)
	case KindDeferred:
		return v.expr.String()
	default:
		return fmt.Sprintf("%g", v.scalar)
	}
}

// Uniform draws from [Low, High).
type Uniform struct {
	Low, High float64
}

func (u Uniform) Eval(rng *rand.Rand) float64 { return u.Low + (u.High-u.Low)*rng.Float64() }

func (u Uniform) String() string { return fmt.Sprintf("uniform(%g, %g)", u.Low, u.High) }

// Normal draws from a Gaussian with the given mean and standard deviation.
type Normal struct {
	Mean, Std float64
}

func (n Normal) Eval(rng *rand.Rand) float64 { return n.Mean + n.Std*rng.NormFloat64() }

func (n Normal) String() string { return fmt.Sprintf("normal(%g, %g)", n.Mean, n.Std) }
