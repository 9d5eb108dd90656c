package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SessionKey ===

// SessionKey uniquely identifies a reproducible session.
// Two sessions with the same SessionKey and the same sequence of writes
// MUST resolve deferred attribute values to identical numbers.
type SessionKey int64

// NewSessionKey creates a SessionKey from a seed value.
func NewSessionKey(seed int64) SessionKey {
	return SessionKey(seed)
}

// === Subsystems ===

// SubsystemModel returns the subsystem name for writes addressed to one model,
// so draws for model A do not shift when model B is written in between.
func SubsystemModel(name string) string {
	return fmt.Sprintf("model_%s", name)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from the session's owning goroutine.
type PartitionedRNG struct {
	key        SessionKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SessionKey.
func NewPartitionedRNG(key SessionKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SessionKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SessionKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
