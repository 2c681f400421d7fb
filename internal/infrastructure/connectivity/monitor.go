// Package connectivity tracks whether the remote store is reachable and
// notifies subscribers of online/offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
)

// Transition is a change in reachability.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor holds the current reachability flag.
type Monitor struct {
	mu      sync.RWMutex
	online  bool
	subs    map[int]chan Transition
	nextID  int
	metrics *metrics.Metrics
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initial bool, m *metrics.Metrics) *Monitor {
	m.SetOnline(initial)
	return &Monitor{
		online:  initial,
		subs:    make(map[int]chan Transition),
		metrics: m,
	}
}

// IsOnline reports the current reachability.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set updates reachability and notifies subscribers when it changes.
// It reports whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online
	m.metrics.SetOnline(online)

	t := Transition{Online: online, At: time.Now()}
	for _, ch := range m.subs {
		publish(ch, t)
	}
	return true
}

// publish delivers t without blocking; a slow subscriber sees only the latest transition.
func publish(ch chan Transition, t Transition) {
	select {
	case ch <- t:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- t:
	default:
	}
}

// Subscribe returns a channel of transitions and a function that unregisters it.
// The channel is closed by the unregister function.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Transition, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Pinger checks remote reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober feeds a Monitor from periodic pings.
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
}

// NewProber creates a prober. timeout bounds each ping and defaults to interval.
func NewProber(monitor *Monitor, pinger Pinger, interval, timeout time.Duration, logger *logging.Logger) *Prober {
	if timeout <= 0 {
		timeout = interval
	}
	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Probe performs one reachability check and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if p.monitor.Set(online) {
		if online {
			p.logger.InfoContext(ctx, "remote reachable")
		} else {
			p.logger.WarnContext(ctx, "remote unreachable", "error", err.Error())
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
