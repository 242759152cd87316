package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type check struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

type Monitor struct {
	checks []check

	status   Status
	mu       sync.RWMutex
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func New(interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Add registers a dependency. Call before Start.
func (m *Monitor) Add(name string, pinger Pinger, timeout time.Duration) {
	if pinger == nil {
		return
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	m.checks = append(m.checks, check{name: name, pinger: pinger, timeout: timeout})
}

func (m *Monitor) Start() {
	m.refresh()
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// IsOnline reports whether every registered dependency answered the last ping.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := m.status
	status.Components = make(map[string]bool, len(m.status.Components))
	for name, ok := range m.status.Components {
		status.Components[name] = ok
	}
	return status
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refresh()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) refresh() {
	status := Status{
		Online:     true,
		Components: make(map[string]bool, len(m.checks)),
		LastCheck:  time.Now(),
	}
	for _, c := range m.checks {
		ok := m.ping(c)
		status.Components[c.name] = ok
		status.Online = status.Online && ok
	}

	m.mu.Lock()
	previous := m.status
	m.status = status
	m.mu.Unlock()

	for name, ok := range status.Components {
		if was, seen := previous.Components[name]; seen && was != ok {
			if ok {
				m.logger.Info("dependency recovered", zap.String("component", name))
			} else {
				m.logger.Warn("dependency unreachable", zap.String("component", name))
			}
		}
	}
}

func (m *Monitor) ping(c check) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.pinger.Ping(ctx) == nil
}
