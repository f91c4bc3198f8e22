// Package monitor watches connectivity and wakes the scheduler when the
// remote API becomes reachable again.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/taskdeck/backend/internal/logging"
)

// Prober answers whether the remote API is currently reachable.
type Prober interface {
	Online(ctx context.Context) bool
}

// Drainer is the scheduler entrypoint invoked on reconnection.
type Drainer interface {
	TriggerDrain(ctx context.Context) bool
}

// Listener is notified on every connectivity transition, typically for
// broadcasting to status UIs.
type Listener interface {
	ConnectivityChanged(online bool)
}

// HTTPProber probes the remote API's health endpoint.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber creates a prober against baseURL. Probes are cheap and
// bounded, unlike dispatches.
func NewHTTPProber(baseURL string) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: 5 * time.Second},
		url:    baseURL + "/api/health",
	}
}

// Online implements Prober. Any response, including an error status, proves
// the network path to the server is up; only transport failure means offline.
func (p *HTTPProber) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Monitor polls a Prober and invokes the Drainer exactly once per
// offline-to-online transition. It carries an explicit Start/Stop lifecycle
// so no subscription outlives the monitor; Stop unwinds everything Start
// set up, and the pair can run repeatedly on the same instance.
type Monitor struct {
	prober   Prober
	drainer  Drainer
	listener Listener
	interval time.Duration

	mu      sync.Mutex
	online  bool
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithListener installs a transition listener.
func WithListener(l Listener) Option {
	return func(m *Monitor) { m.listener = l }
}

// New creates a Monitor. The monitor assumes offline until the first probe
// succeeds, so a backlog persisted before startup drains as soon as the
// server is first seen.
func New(prober Prober, drainer Drainer, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		prober:   prober,
		drainer:  drainer,
		interval: interval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins polling. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx, stopCh)

	logging.Info("Connectivity monitor started", map[string]interface{}{
		"interval_ms": m.interval.Milliseconds(),
	})
}

// Stop halts polling and waits for the poll goroutine to exit. Calling Stop
// on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()

	logging.Info("Connectivity monitor stopped", nil)
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline applies a connectivity observation from outside the poll loop,
// such as a runtime network-change signal. Transitions behave exactly as if
// the poller had observed them.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.transition(ctx, online)
}

// loop probes immediately, then on every tick.
func (m *Monitor) loop(ctx context.Context, stopCh chan struct{}) {
	defer m.wg.Done()

	m.transition(ctx, m.prober.Online(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.transition(ctx, m.prober.Online(ctx))
		}
	}
}

// transition records the new state and triggers a drain on the
// offline-to-online edge only. Offline edges never trigger anything.
func (m *Monitor) transition(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online == wasOnline {
		return
	}

	logging.Info("Connectivity changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  online,
	})

	if m.listener != nil {
		m.listener.ConnectivityChanged(online)
	}

	if online {
		m.drainer.TriggerDrain(ctx)
	}
}
