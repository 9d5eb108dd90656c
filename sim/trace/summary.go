package trace

// TraceSummary aggregates statistics from a SessionTrace.
type TraceSummary struct {
	TotalAllocations      int
	InstancesAllocated    int64
	LazyAllocations       int
	Materializations      int
	InstancesMaterialized int64
	UniqueModels          int
	ModelDistribution     map[string]int64 // model → instances allocated
}

// Summarize computes aggregate statistics from a SessionTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SessionTrace) *TraceSummary {
	summary := &TraceSummary{
		ModelDistribution: make(map[string]int64),
	}
	if st == nil {
		return summary
	}

	summary.TotalAllocations = len(st.Allocations)
	for _, a := range st.Allocations {
		n := a.Last - a.First
		summary.InstancesAllocated += n
		summary.ModelDistribution[a.Model] += n
		if a.Lazy {
			summary.LazyAllocations++
		}
	}

	summary.Materializations = len(st.Materializations)
	for _, m := range st.Materializations {
		summary.InstancesMaterialized += m.EngineLast - m.EngineFirst
	}

	summary.UniqueModels = len(summary.ModelDistribution)

	return summary
}
