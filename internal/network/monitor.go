// Package network tracks connectivity and fans out online/offline
// transitions to registered callbacks.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/medisync/medisync/internal/bus"
	"go.uber.org/zap"
)

// Source is the host connectivity signal: a point-in-time query plus a push
// channel of transitions. The monitor never polls; it relies entirely on the
// source pushing state changes.
type Source interface {
	Online() bool
	Transitions() <-chan bool
}

// Monitor is the single source of truth for "can the client currently reach
// the network". One instance is created at startup and injected everywhere;
// tests construct their own with a ManualSource.
type Monitor struct {
	src    Source
	b      *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu     sync.RWMutex
	online bool
	nextID int
	onUp   []callback
	onDown []callback
}

type callback struct {
	id int
	fn func()
}

// NewMonitor creates a monitor seeded from the source's current state.
func NewMonitor(src Source, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{src: src, b: b, logger: logger, online: src.Online()}
}

// Start begins consuming transition events from the source.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case online, ok := <-m.src.Transitions():
				if !ok {
					return
				}
				m.apply(online)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming transition events.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// IsOnline reports the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnOnline registers fn to run on each offline-to-online transition.
// Returns an unregister function.
func (m *Monitor) OnOnline(fn func()) func() {
	return m.register(&m.onUp, fn)
}

// OnOffline registers fn to run on each online-to-offline transition.
// Returns an unregister function.
func (m *Monitor) OnOffline(fn func()) func() {
	return m.register(&m.onDown, fn)
}

func (m *Monitor) register(list *[]callback, fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	*list = append(*list, callback{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, cb := range *list {
			if cb.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// apply records a transition and fires the matching callbacks synchronously,
// in registration order. Repeated notifications of the same state are ignored.
func (m *Monitor) apply(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var cbs []callback
	if online {
		cbs = append(cbs, m.onUp...)
	} else {
		cbs = append(cbs, m.onDown...)
	}
	m.mu.Unlock()

	kind := bus.KindNetworkOffline
	if online {
		kind = bus.KindNetworkOnline
	}
	if m.b != nil {
		m.b.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online))

	for _, cb := range cbs {
		m.invoke(cb.fn)
	}
}

// invoke isolates each callback: one panicking subscriber must not prevent
// the rest from running.
func (m *Monitor) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
