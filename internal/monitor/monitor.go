// Package monitor runs periodic liveness checks against configured
// profiles using the pgwire client itself, rather than a raw socket probe.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jeelkantaria/pgwire"
	"github.com/jeelkantaria/pgwire/internal/metrics"
	"github.com/jeelkantaria/pgwire/internal/profile"
)

// Status is a profile's liveness state.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ProfileHealth holds liveness information for one profile.
type ProfileHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Monitor periodically opens a connection to every profile that is not
// disabled and runs "SELECT 1" against it, recording the outcome.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]*ProfileHealth

	resolver *profile.Resolver
	metrics  *metrics.Collector

	interval         time.Duration
	failureThreshold int
	probeTimeout     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config controls the monitor's probing cadence.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	ProbeTimeout     time.Duration
}

// New creates a Monitor. Call Start to begin probing.
func New(r *profile.Resolver, m *metrics.Collector, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}

	return &Monitor{
		statuses:         make(map[string]*ProfileHealth),
		resolver:         r,
		metrics:          m,
		interval:         cfg.Interval,
		failureThreshold: cfg.FailureThreshold,
		probeTimeout:     cfg.ProbeTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic probing in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()
	slog.Info("monitor started", "interval", m.interval, "threshold", m.failureThreshold)
}

// Stop stops the monitor. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	slog.Info("monitor stopped")
}

func (m *Monitor) run() {
	m.checkAll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) checkAll() {
	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for _, name := range m.resolver.Names() {
		if m.resolver.IsDisabled(name) {
			continue
		}
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			healthy, probeErr := m.probe(name)
			elapsed := time.Since(start)

			if m.metrics != nil {
				m.metrics.ProbeCompleted(name, elapsed, healthy)
			}
			m.updateStatus(name, healthy, probeErr)
		}()
	}
	wg.Wait()
}

// probe opens a fresh connection to the named profile, runs "SELECT 1",
// and closes it. It never reuses a connection across probes: the library
// is single-owner and non-pooled, so a probe connection's lifetime is the
// probe itself.
func (m *Monitor) probe(name string) (bool, error) {
	cc, err := m.resolver.ConnConfig(name)
	if err != nil {
		return false, err
	}
	cc.Metrics = m.metrics
	cc.MetricsLabel = name

	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	conn, err := pgwire.Open(ctx, cc)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if _, err := conn.Query(ctx, "SELECT 1"); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Monitor) updateStatus(name string, healthy bool, probeErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ph := m.getOrCreate(name)
	ph.LastCheck = time.Now()

	if healthy {
		if ph.ConsecutiveFailures > 0 {
			slog.Info("profile recovered", "profile", name, "failures", ph.ConsecutiveFailures)
		}
		ph.Status = StatusHealthy
		ph.ConsecutiveFailures = 0
		ph.LastError = ""
		return
	}

	ph.ConsecutiveFailures++
	if probeErr != nil {
		ph.LastError = probeErr.Error()
	}
	if ph.ConsecutiveFailures >= m.failureThreshold && ph.Status != StatusUnhealthy {
		slog.Warn("profile marked unhealthy", "profile", name, "failures", ph.ConsecutiveFailures, "error", ph.LastError)
		ph.Status = StatusUnhealthy
	}
}

func (m *Monitor) getOrCreate(name string) *ProfileHealth {
	ph, ok := m.statuses[name]
	if !ok {
		ph = &ProfileHealth{Status: StatusUnknown}
		m.statuses[name] = ph
	}
	return ph
}

// IsHealthy reports whether a profile is healthy. An unknown profile (not
// yet probed) is treated as healthy.
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ph, ok := m.statuses[name]
	if !ok {
		return true
	}
	return ph.Status != StatusUnhealthy
}

// Status returns the current liveness state for a profile.
func (m *Monitor) Status(name string) ProfileHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ph, ok := m.statuses[name]
	if !ok {
		return ProfileHealth{Status: StatusUnknown}
	}
	return *ph
}

// AllStatuses returns the liveness state of every probed profile.
func (m *Monitor) AllStatuses() map[string]ProfileHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]ProfileHealth, len(m.statuses))
	for name, ph := range m.statuses {
		result[name] = *ph
	}
	return result
}

// OverallHealthy reports whether every probed profile is currently healthy.
func (m *Monitor) OverallHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ph := range m.statuses {
		if ph.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}
