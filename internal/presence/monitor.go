package presence

import (
	"context"
	"log/slog"
	"time"

	"im-service/internal/models"
	"im-service/internal/observability"
)

// Notifier is told about presence transitions. Broadcaster implements it.
type Notifier interface {
	OnPresenceChange(ctx context.Context, userID int64, online bool) error
}

// Monitor periodically evicts users whose heartbeat is older than timeout.
type Monitor struct {
	registry *Registry
	notifier Notifier
	cluster  Cluster
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// afterScan runs between reading entries and evicting them; tests use it
	// to land a heartbeat in that window.
	afterScan func()
}

func NewMonitor(registry *Registry, notifier Notifier, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		notifier: notifier,
		cluster:  Solo{},
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "heartbeat_monitor"),
		now:      time.Now,
	}
}

// WithCluster makes evictions consult other instances before the user is
// marked offline.
func (m *Monitor) WithCluster(c Cluster) *Monitor {
	m.cluster = c
	return m
}

// Run sweeps on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("heartbeat monitor started", "interval", m.interval, "timeout", m.timeout)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evicts every stale entry and returns the evicted ids.
func (m *Monitor) Sweep(ctx context.Context) []int64 {
	now := m.now()
	entries := m.registry.Entries()
	if m.afterScan != nil {
		m.afterScan()
	}

	var evicted []int64
	for _, e := range entries {
		if now.Sub(e.LastHeartbeatAt) <= m.timeout {
			continue
		}
		if m.evict(ctx, e) {
			evicted = append(evicted, e.UserID)
		}
	}
	return evicted
}

func (m *Monitor) evict(ctx context.Context, e models.UserPresence) bool {
	unlock := m.registry.LockUser(e.UserID)
	defer unlock()

	if !m.registry.EvictIfUnchanged(e.UserID, e.LastHeartbeatAt) {
		return false
	}
	observability.IncPresenceEviction()
	m.logger.Info("user heartbeat timed out", "user", e.UserID, "last_heartbeat", e.LastHeartbeatAt)

	elsewhere, err := m.cluster.Release(ctx, e.UserID)
	if err != nil {
		m.logger.Warn("cluster release failed", "user", e.UserID, "error", err)
	}
	if elsewhere {
		m.logger.Debug("user still live on another instance", "user", e.UserID)
		return true
	}
	if err := m.notifier.OnPresenceChange(ctx, e.UserID, false); err != nil {
		m.logger.Error("offline broadcast failed", "user", e.UserID, "error", err)
	}
	return true
}
