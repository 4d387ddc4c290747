// Package state holds the engine's best-known power state of every configured
// target and, optionally, persists it across restarts.
package state

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/radio"
)

// StateVector maps every configured target address to its last known state.
type StateVector map[radio.Address]radio.State

// NewStateVector creates a vector with one StateUnknown entry per address.
func NewStateVector(addrs []radio.Address) StateVector {
	v := make(StateVector, len(addrs))
	for _, a := range addrs {
		v[a] = radio.StateUnknown
	}
	return v
}

// Clone returns an independent copy.
func (v StateVector) Clone() StateVector {
	out := make(StateVector, len(v))
	for a, s := range v {
		out[a] = s
	}
	return out
}

// Addresses returns the configured addresses, ascending.
func (v StateVector) Addresses() []radio.Address {
	out := make([]radio.Address, 0, len(v))
	for a := range v {
		out = append(out, a)
	}
	radio.SortAddresses(out)
	return out
}

// Equal reports whether both vectors hold the same entries.
func (v StateVector) Equal(other StateVector) bool {
	if len(v) != len(other) {
		return false
	}
	for a, s := range v {
		if o, ok := other[a]; !ok || o != s {
			return false
		}
	}
	return true
}

// Monitor owns the single StateVector of the process. Entries are fixed at
// construction; only their states change.
type Monitor struct {
	mu     sync.RWMutex
	states StateVector
}

// NewMonitor creates a monitor with every address in StateUnknown.
func NewMonitor(addrs []radio.Address) *Monitor {
	return &Monitor{states: NewStateVector(addrs)}
}

// Has reports whether addr is a configured target.
func (m *Monitor) Has(addr radio.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[addr]
	return ok
}

// Len returns the number of configured targets.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Get returns the state of one target.
func (m *Monitor) Get(addr radio.Address) (radio.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[addr]
	return s, ok
}

// Snapshot returns a copy safe to hand to the optimizer.
func (m *Monitor) Snapshot() StateVector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states.Clone()
}

// Commit replaces the states of existing entries with those in next.
// Addresses not configured at construction are ignored.
func (m *Monitor) Commit(next StateVector) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for a, s := range next {
		if _, ok := m.states[a]; !ok {
			log.Warn().Stringer("address", a).Msg("Ignoring state for unconfigured target")
			continue
		}
		m.states[a] = s
	}
}

// Restore loads previously persisted states into the monitor.
func (m *Monitor) Restore(saved StateVector) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for a, s := range saved {
		if _, ok := m.states[a]; ok && s.Known() {
			m.states[a] = s
			restored++
		}
	}
	return restored
}
