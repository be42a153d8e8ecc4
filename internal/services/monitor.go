package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/telemetry"
)

// CriticalServices are probed when no services are configured
var CriticalServices = []string{
	"ssh", "sshd", "networking", "network-manager",
	"systemd-resolved", "cron", "rsyslog", "ufw",
	"nginx", "apache2", "mysql", "postgresql",
	"docker", "fail2ban",
}

// ChangeFunc is called when a service's status or active state changes
type ChangeFunc func(name string, prev, cur domain.ServiceStatus)

// Config configures a Monitor
type Config struct {
	Services      []string
	Discover      bool
	Interval      time.Duration
	ErrorCooldown time.Duration
	QueryTimeout  time.Duration
	// RestartTimeout bounds Restart
	RestartTimeout time.Duration
}

// Monitor polls systemd for a set of services and reports changes
type Monitor struct {
	cfg     Config
	exec    CommandExecutor
	metrics *telemetry.Metrics

	mu       sync.RWMutex
	services []string
	status   map[string]domain.ServiceStatus
}

// Option configures a Monitor
type Option func(*Monitor)

// WithExecutor replaces the os/exec executor
func WithExecutor(ex CommandExecutor) Option {
	return func(m *Monitor) { m.exec = ex }
}

// WithMetrics publishes service state
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// ErrAllQueriesFailed is returned by Check when no service could be queried
var ErrAllQueriesFailed = errors.New("all service queries failed")

// NewMonitor creates a monitor. Defaults: 30s interval, 60s cooldown, 5s per query.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = 60 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.RestartTimeout <= 0 {
		cfg.RestartTimeout = 30 * time.Second
	}

	m := &Monitor{
		cfg:      cfg,
		exec:     ExecExecutor{},
		services: dedupe(cfg.Services),
		status:   make(map[string]domain.ServiceStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Services returns the monitored service names
func (m *Monitor) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.services...)
}

// Discover returns the critical services that have a unit file on this host
func (m *Monitor) Discover(ctx context.Context) []string {
	var found []string
	for _, name := range CriticalServices {
		qctx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
		out, _ := m.exec.Execute(qctx, "systemctl", "list-unit-files", unitName(name))
		cancel()
		if containsUnit(out, unitName(name)) {
			found = append(found, name)
		}
	}
	return found
}

// Resolve fills the service list by discovery when none is configured,
// or when discovery is explicitly enabled
func (m *Monitor) Resolve(ctx context.Context) []string {
	m.mu.RLock()
	need := len(m.services) == 0 || m.cfg.Discover
	m.mu.RUnlock()
	if !need {
		return m.Services()
	}

	discovered := m.Discover(ctx)

	m.mu.Lock()
	m.services = dedupe(append(m.services, discovered...))
	services := append([]string(nil), m.services...)
	m.mu.Unlock()

	log.Info().
		Strs("services", services).
		Int("discovered", len(discovered)).
		Msg("Resolved monitored services")
	return services
}

// QueryAll queries every monitored service now
func (m *Monitor) QueryAll(ctx context.Context) map[string]domain.ServiceStatus {
	out := make(map[string]domain.ServiceStatus)
	for _, name := range m.Services() {
		out[name] = QueryStatus(ctx, m.exec, name, m.cfg.QueryTimeout)
	}
	return out
}

// Snapshot returns the last known status of every service
func (m *Monitor) Snapshot() map[string]domain.ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.ServiceStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// FailedServices returns the services whose last known state is failed
func (m *Monitor) FailedServices() []domain.ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var failed []domain.ServiceStatus
	for _, st := range m.status {
		if st.IsFailed() {
			failed = append(failed, st)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Name < failed[j].Name })
	return failed
}

// Check queries every service once and calls onChange for each change.
// The first observation of a service records its state without a callback.
func (m *Monitor) Check(ctx context.Context, onChange ChangeFunc) error {
	services := m.Services()
	failures := 0

	for _, name := range services {
		if ctx.Err() != nil {
			return nil
		}
		cur := QueryStatus(ctx, m.exec, name, m.cfg.QueryTimeout)
		if cur.Status == domain.ServiceError {
			failures++
		}
		m.metrics.SetServiceStatus(cur)

		m.mu.Lock()
		prev, seen := m.status[name]
		m.status[name] = cur
		m.mu.Unlock()

		if !seen || !changed(prev, cur) {
			continue
		}

		log.Info().
			Str("service", name).
			Str("from", prev.Status).
			Str("to", cur.Status).
			Msg("Service status changed")
		if onChange != nil {
			onChange(name, prev, cur)
		}
	}

	if len(services) > 0 && failures == len(services) {
		return ErrAllQueriesFailed
	}
	return nil
}

// Run resolves the service list, records the initial state and then checks
// for changes every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context, onChange ChangeFunc) error {
	services := m.Resolve(ctx)
	log.Info().
		Strs("services", services).
		Dur("interval", m.cfg.Interval).
		Msg("Starting service monitoring")

	if err := m.Check(ctx, nil); err != nil {
		log.Warn().Err(err).Msg("Initial service check failed")
	}

	for {
		wait := m.cfg.Interval
		if !sleep(ctx, wait) {
			log.Info().Msg("Service monitoring stopped")
			return nil
		}
		if err := m.Check(ctx, onChange); err != nil && ctx.Err() == nil {
			log.Error().
				Err(err).
				Dur("cooldown", m.cfg.ErrorCooldown).
				Msg("Service check failed, cooling down")
			if !sleep(ctx, m.cfg.ErrorCooldown) {
				return nil
			}
		}
	}
}

// Restart restarts a service through sudo systemctl
func (m *Monitor) Restart(ctx context.Context, name string) error {
	log.Info().Str("service", name).Msg("Attempting to restart service")

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RestartTimeout)
	defer cancel()

	out, err := m.exec.Execute(rctx, "sudo", "systemctl", "restart", unitName(name))
	if err != nil {
		log.Error().Err(err).Str("service", name).Str("output", out).Msg("Failed to restart service")
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}
	log.Info().Str("service", name).Msg("Service restarted")
	return nil
}

func changed(prev, cur domain.ServiceStatus) bool {
	return prev.Status != cur.Status || prev.ActiveState != cur.ActiveState
}

func containsUnit(listing, unit string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == unit {
			return true
		}
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
