package config

import (
	"fmt"
	"sync/atomic"
)

// Store holds the active configuration as an immutable snapshot behind an
// atomic pointer. Reads are lock-free; a single reloader path produces the
// next snapshot. In-flight calls pin the snapshot they started with, so a
// swap never changes a running call's behaviour.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the active configuration. Callers must treat the returned
// value as immutable.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// Apply diffs next against the active snapshot and swaps it in when every
// change is hot-reloadable. When restart-required keys changed, the swap
// still happens for the hot keys by grafting them onto a copy of the old
// snapshot, and the restart-required keys are reported unapplied.
func (s *Store) Apply(next *Config) (Diff, error) {
	if err := Validate(next); err != nil {
		return Diff{}, fmt.Errorf("config: reload rejected: %w", err)
	}

	old := s.current.Load()
	d := Compare(old, next)
	if !d.Changed() {
		return d, nil
	}

	merged := *old
	merged.LogLevel = next.LogLevel
	merged.DefaultContext = next.DefaultContext
	merged.Contexts = next.Contexts
	merged.Tools = next.Tools
	merged.LLM = next.LLM
	merged.VAD = next.VAD
	merged.BargeIn = next.BargeIn

	s.current.Store(&merged)
	return d, nil
}
