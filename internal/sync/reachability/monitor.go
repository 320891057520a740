// Package reachability observes connectivity to the backend. It only
// announces transitions; acting on them (draining the queue) is the
// syncer's job.
package reachability

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Prober answers "can we reach the backend right now".
type Prober func(ctx context.Context) bool

// HTTPProbe probes a URL with a HEAD request. Any HTTP response counts as
// reachable; only transport failures mean offline.
func HTTPProbe(url string, timeout time.Duration) Prober {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Monitor polls a prober and fans connectivity transitions out to
// subscribers. Current state is available synchronously via IsOnline.
type Monitor struct {
	probe    Prober
	interval time.Duration

	mu     sync.RWMutex
	online bool
	subs   []func(online bool)

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor. The initial state is online; the first probe
// corrects it if the network is down.
func NewMonitor(probe Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		online:   true,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling until ctx is cancelled or Stop is called. Extra
// Start calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.SetOnline(m.probe(ctx))

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.SetOnline(m.probe(ctx))
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit. A no-op when the
// monitor was never started.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

// IsOnline returns the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a listener fired on every transition. Listeners run on
// the monitor's goroutine and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline records a connectivity observation and notifies subscribers on
// change. Exposed for manual override and tests.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}
