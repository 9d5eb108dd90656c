package trace

// TraceLevel controls the verbosity of session tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelRanges captures every allocation and materialization.
	TraceLevelRanges TraceLevel = "ranges"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelRanges: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// Enabled reports whether records should be collected.
func (c TraceConfig) Enabled() bool {
	return c.Level == TraceLevelRanges
}

// SessionTrace collects range records during a session.
type SessionTrace struct {
	Config           TraceConfig
	Allocations      []AllocationRecord
	Materializations []MaterializeRecord
}

// NewSessionTrace creates a SessionTrace ready for recording.
func NewSessionTrace(config TraceConfig) *SessionTrace {
	return &SessionTrace{
		Config:           config,
		Allocations:      make([]AllocationRecord, 0),
		Materializations: make([]MaterializeRecord, 0),
	}
}

// RecordAllocation appends an allocation record.
func (st *SessionTrace) RecordAllocation(record AllocationRecord) {
	st.Allocations = append(st.Allocations, record)
}

// RecordMaterialization appends a materialization record.
func (st *SessionTrace) RecordMaterialization(record MaterializeRecord) {
	st.Materializations = append(st.Materializations, record)
}
