package sim

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/jitsim/sim/trace"
)

// SessionConfig groups the parameters of NewSession.
// The zero value is valid: seed 0, one build worker, no tracing, unregistered metrics.
type SessionConfig struct {
	Seed         int64  `yaml:"seed" toml:"seed"`                   // master seed for deferred values
	BuildWorkers int64  `yaml:"build_workers" toml:"build_workers"` // max concurrent compiles (0 = 1)
	TraceLevel   string `yaml:"trace_level" toml:"trace_level"`     // "none" (default) or "ranges"

	// Registerer receives the session metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer `yaml:"-" toml:"-"`
}

// NewSessionConfig creates a SessionConfig with all fields explicitly set.
func NewSessionConfig(seed, buildWorkers int64, traceLevel string) SessionConfig {
	return SessionConfig{
		Seed:         seed,
		BuildWorkers: buildWorkers,
		TraceLevel:   traceLevel,
	}
}

// Validate checks field ranges and names.
func (c *SessionConfig) Validate() error {
	if c.BuildWorkers < 0 {
		return fmt.Errorf("build_workers must be non-negative, got %d", c.BuildWorkers)
	}
	if !trace.IsValidTraceLevel(c.TraceLevel) {
		return fmt.Errorf("unknown trace level %q; valid: none, ranges", c.TraceLevel)
	}
	return nil
}

func (c *SessionConfig) traceConfig() trace.TraceConfig {
	level := trace.TraceLevel(c.TraceLevel)
	if level == "" {
		level = trace.TraceLevelNone
	}
	return trace.TraceConfig{Level: level}
}
