// Package status tracks the agent's coarse runtime state for the control API
// and UI layers. The state is derived from bus events, so the core packages
// never depend on it.
package status

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/medisync/medisync/internal/bus"
)

// State represents an agent runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Offline  State = "OFFLINE"
	Idle     State = "IDLE" // online, no cycle in flight
	Syncing  State = "SYNCING"
	Degraded State = "DEGRADED" // online, last cycle failed
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Idle, Offline, Error},
	Offline:  {Idle, Error},
	Idle:     {Offline, Syncing, Error},
	Syncing:  {Idle, Offline, Degraded, Error},
	Degraded: {Idle, Offline, Syncing, Error},
	Error:    {Booting},
}

// Machine tracks and enforces agent runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is
// invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for agent.status_changed events.
type Change struct {
	From State
	To   State
}

// Run derives transitions from network.* and sync.* bus events until ctx is
// cancelled. Transitions that do not apply to the current state are dropped;
// event ordering from concurrent publishers is not guaranteed and the machine
// only tracks the coarse picture.
func (m *Machine) Run(ctx context.Context, b *bus.Bus) {
	events, unsub := b.Subscribe("", 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				if to, ok := target(evt.Kind); ok {
					_ = m.Transition(to)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func target(kind string) (State, bool) {
	switch kind {
	case bus.KindNetworkOnline:
		return Idle, true
	case bus.KindNetworkOffline:
		return Offline, true
	case bus.KindSyncStarted:
		return Syncing, true
	case bus.KindSyncCompleted:
		return Idle, true
	case bus.KindSyncFailed:
		return Degraded, true
	}
	return "", false
}
