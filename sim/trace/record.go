// Package trace provides range-trace recording for session analysis.
// This package has no dependencies on sim/; it stores plain data types.
package trace

// AllocationRecord captures one virtual id range handed out by the allocator.
type AllocationRecord struct {
	Model  string
	First  int64
	Last   int64
	Origin string // "builtin", "compiled", "external-library" or "alias"
	Lazy   bool   // false when the range was created in the engine right away
}

// MaterializeRecord captures one collection created in the engine.
type MaterializeRecord struct {
	Model        string
	VirtualFirst int64
	VirtualLast  int64
	EngineFirst  int64
	EngineLast   int64
	Overridden   []string // attributes passed to the engine as per-instance values
}
