package sim

import (
	"errors"
	"fmt"
)

// ErrNegativeCount is returned when an allocation asks for fewer than zero instances.
var ErrNegativeCount = errors.New("instance count must be non-negative")

// LengthMismatchError reports a value sequence whose length does not match the ids it targets.
type LengthMismatchError struct {
	Attribute string // empty when the mismatch is not tied to one attribute
	Want      int
	Got       int
}

func (e *LengthMismatchError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("length mismatch: expected %d values, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("length mismatch for %q: expected %d values, got %d", e.Attribute, e.Want, e.Got)
}

// IndexError reports a position outside the addressed range or collection,
// or a boolean mask whose length differs from it.
type IndexError struct {
	Index  int64
	Len    int64
	Reason string
}

func (e *IndexError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("index error: %s (index=%d, len=%d)", e.Reason, e.Index, e.Len)
	}
	return fmt.Sprintf("index %d out of range for length %d", e.Index, e.Len)
}

// DuplicateIndexError reports an integer selection that names the same position twice.
type DuplicateIndexError struct {
	Index int64
}

func (e *DuplicateIndexError) Error() string {
	return fmt.Sprintf("duplicate index %d: all selected positions must be unique", e.Index)
}

// InvalidStepError reports a slice step below 1.
type InvalidStepError struct {
	Step int64
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("slice step must be strictly positive, got %d", e.Step)
}

// TypeError reports a selection whose elements are neither all integers nor all booleans.
type TypeError struct {
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("indices must be all integers or all booleans, got element %v (%T)", e.Value, e.Value)
}

// NotOverriddenError is returned by AttributeStore.Get for an id without an override.
// Callers fall back to the model default.
type NotOverriddenError struct {
	Attribute string
	ID        int64
}

func (e *NotOverriddenError) Error() string {
	return fmt.Sprintf("id %d has no override for %q", e.ID, e.Attribute)
}

// NotMaterializedError is returned when engine ids are requested for a virtual range
// that has not been created in the engine yet.
type NotMaterializedError struct {
	Model   string
	Virtual Range
}

func (e *NotMaterializedError) Error() string {
	return fmt.Sprintf("model %q range %v is not materialized", e.Model, e.Virtual)
}

// MissingCreationParamsError is returned when a model is materialized before any
// creation parameters were cached on it.
type MissingCreationParamsError struct {
	Model string
}

func (e *MissingCreationParamsError) Error() string {
	return fmt.Sprintf("model %q: creation parameters must be set before creating engine instances", e.Model)
}

// AlreadyMaterializedError is returned on a second materialization of the same collection.
type AlreadyMaterializedError struct {
	Model string
}

func (e *AlreadyMaterializedError) Error() string {
	return fmt.Sprintf("collection of %q is already materialized", e.Model)
}

// NotInitialError is returned when materializing a collection derived by slicing or merging.
type NotInitialError struct{}

func (e *NotInitialError) Error() string {
	return "only a collection returned by an allocation can be materialized"
}

// BindError reports an engine range that cannot be bound to a virtual range.
type BindError struct {
	Model   string
	Virtual Range
	Engine  Range
	Reason  string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot bind model %q virtual %v to engine %v: %s", e.Model, e.Virtual, e.Engine, e.Reason)
}

// CompilationError carries a background build failure to the first materialization
// of the affected model.
type CompilationError struct {
	Model string
	Err   error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compiling model %q: %v", e.Model, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// UnknownModelError is returned when a model name resolves to nothing registered,
// built into the engine or present in the source catalog.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}

// UnknownAttributeError is returned when a write names an attribute the model does not declare.
type UnknownAttributeError struct {
	Model      string
	Attributes []string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("model %q does not declare %v as parameters or states", e.Model, e.Attributes)
}

// DuplicateModelError is returned when copying onto a name that is already taken.
type DuplicateModelError struct {
	Model string
}

func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("model %q already exists", e.Model)
}
