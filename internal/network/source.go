package network

import "sync"

// ManualSource is a Source driven explicitly via Set. Platform integrations
// (a netlink watcher, a browser bridge) feed the same interface; tests and
// the agent flip it directly.
type ManualSource struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

// NewManualSource creates a source in the given initial state.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, ch: make(chan bool, 16)}
}

// Online returns the current state.
func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Transitions returns the push channel consumed by the monitor.
func (s *ManualSource) Transitions() <-chan bool { return s.ch }

// Set pushes a state change. Setting the current state again is harmless;
// the monitor deduplicates.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	s.ch <- online
}
