package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MonitorConfig holds the liveness intervals. Zero values take defaults.
type MonitorConfig struct {
	HeartbeatTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	Tick             time.Duration
}

// Monitor evicts sessions that went silent and pings idle ones.
type Monitor struct {
	log     *slog.Logger
	hub     *Hub
	metrics *Metrics
	cfg     MonitorConfig
	now     func() time.Time

	pings sync.WaitGroup
}

// NewMonitor constructs a Monitor over hub.
func NewMonitor(log *slog.Logger, hub *Hub, cfg MonitorConfig, m *Metrics) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.Tick <= 0 {
		cfg.Tick = monitorTick
	}
	return &Monitor{log: log, hub: hub, metrics: m, cfg: cfg, now: hub.now}
}

// Run sweeps on every tick until ctx ends, then waits for in-flight pings.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.Tick)
	defer t.Stop()
	defer m.pings.Wait()

	m.log.Info("liveness.start",
		"heartbeat_timeout", m.cfg.HeartbeatTimeout.String(),
		"ping_interval", m.cfg.PingInterval.String(),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep performs one monitor pass. Pings are started in the background; use Wait to join them.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()
	expired, due := m.hub.scan(now, m.cfg.HeartbeatTimeout, m.cfg.PingInterval)

	for _, s := range expired {
		go func(s *Session) { _ = s.Transport.Close("heartbeat timeout") }(s)
		s.Cancel()
		if m.hub.Release(s) {
			m.metrics.evicted()
			m.log.Info("liveness.evict", "id", s.ID, "conn_id", s.ConnID)
		}
	}

	for _, s := range due {
		m.hub.markPinged(s, now)
		m.pings.Add(1)
		go func(s *Session) {
			defer m.pings.Done()

			pctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
			err := s.Transport.Ping(pctx)
			cancel()

			m.metrics.ping(err == nil)
			if err != nil {
				m.log.Debug("liveness.ping.fail", "id", s.ID, "conn_id", s.ConnID, "err", err)
				return
			}
			// A pong is inbound activity.
			m.hub.touchSession(s)
		}(s)
	}
}

// Wait blocks until pings started by Sweep have finished.
func (m *Monitor) Wait() {
	m.pings.Wait()
}
