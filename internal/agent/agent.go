package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/SteelMorgan/serverpulse-agent/internal/alerting"
	"github.com/SteelMorgan/serverpulse-agent/internal/api"
	"github.com/SteelMorgan/serverpulse-agent/internal/clickhouse"
	"github.com/SteelMorgan/serverpulse-agent/internal/collector"
	"github.com/SteelMorgan/serverpulse-agent/internal/config"
	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/monitor"
	"github.com/SteelMorgan/serverpulse-agent/internal/offset"
	"github.com/SteelMorgan/serverpulse-agent/internal/services"
	"github.com/SteelMorgan/serverpulse-agent/internal/telemetry"
	"github.com/SteelMorgan/serverpulse-agent/internal/writer"
)

// Transport is the collector API used by the agent
type Transport interface {
	Register(ctx context.Context, info domain.SystemInfo) error
	SendMetrics(ctx context.Context, snap *domain.MetricsSnapshot) error
	SendHeartbeat(ctx context.Context) error
	SendAlert(ctx context.Context, alert domain.Alert) error
	GetCommands(ctx context.Context) ([]api.Command, error)
	AcknowledgeCommand(ctx context.Context, id api.CommandID, result interface{}) error
}

// MetricsSource samples host metrics
type MetricsSource interface {
	CollectAll(ctx context.Context) (*domain.MetricsSnapshot, error)
	SystemInfo(ctx context.Context) (domain.SystemInfo, error)
}

// Agent wires the monitor loops, the service monitor and the periodic
// reporting workers to one collector
type Agent struct {
	cfg        *config.Config
	transport  Transport
	collector  MetricsSource
	services   *services.Monitor
	metrics    *telemetry.Metrics
	limits     collector.Thresholds
	thresholds *thresholdTracker
	minSev     domain.Severity

	dispatcher *alerting.Dispatcher
}

// Option configures an Agent
type Option func(*Agent)

// WithTransport replaces the HTTP client
func WithTransport(t Transport) Option {
	return func(a *Agent) { a.transport = t }
}

// WithMetricsSource replaces the gopsutil collector
func WithMetricsSource(m MetricsSource) Option {
	return func(a *Agent) { a.collector = m }
}

// WithServiceMonitor replaces the systemd monitor
func WithServiceMonitor(m *services.Monitor) Option {
	return func(a *Agent) { a.services = m }
}

// New creates an agent from a validated configuration
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	minSev, err := domain.ParseSeverity(cfg.Alerts.MinLogSeverity)
	if err != nil {
		return nil, fmt.Errorf("alerts.min_log_severity: %w", err)
	}

	metrics, err := telemetry.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a := &Agent{
		cfg:     cfg,
		metrics: metrics,
		minSev:  minSev,
		limits: collector.Thresholds{
			CPUPercent:    cfg.Alerts.CPUThreshold,
			MemoryPercent: cfg.Alerts.MemoryThreshold,
			DiskPercent:   cfg.Alerts.DiskThreshold,
			Load1:         cfg.Alerts.LoadThreshold,
		},
		thresholds: newThresholdTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.transport == nil {
		client, err := api.NewClient(api.Config{
			Endpoint:  cfg.Server.Endpoint,
			AuthToken: cfg.Server.AuthToken,
			AgentID:   cfg.Server.AgentID,
			Timeout:   config.Seconds(cfg.Server.Timeout),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create API client: %w", err)
		}
		a.transport = client
	}
	if a.collector == nil {
		a.collector = collector.New(
			collector.WithTopProcesses(cfg.Collection.TopProcesses),
			collector.WithGroups(cfg.Collection.Metrics),
		)
	}
	if a.services == nil {
		a.services = services.NewMonitor(services.Config{
			Services:      cfg.Monitoring.Services,
			Discover:      cfg.Monitoring.DiscoverServices,
			Interval:      config.Seconds(cfg.Monitoring.ServiceInterval),
			ErrorCooldown: config.Seconds(cfg.Monitoring.ServiceErrorCooldown),
		}, services.WithMetrics(metrics))
	}
	return a, nil
}

// Metrics returns the agent's self-metrics
func (a *Agent) Metrics() *telemetry.Metrics {
	return a.metrics
}

// Run registers the agent and runs every worker until ctx is cancelled.
// Registration failure is fatal; later failures are logged and retried.
func (a *Agent) Run(ctx context.Context) error {
	log.Info().Msg("Initializing ServerPulse Agent...")

	info, err := a.collector.SystemInfo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read host info")
		info.Hostname, _ = os.Hostname()
	}
	if err := a.transport.Register(ctx, info); err != nil {
		return err
	}

	store, err := a.openOffsets()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	archive, closeArchive, err := a.openArchive(ctx, info.Hostname)
	if err != nil {
		return err
	}
	defer closeArchive()

	dispatcherOpts := []alerting.Option{
		alerting.WithMetrics(a.metrics),
		alerting.WithMinSeverity(a.minSev),
		alerting.WithQueueSize(a.cfg.Alerts.QueueSize),
	}
	if archive != nil {
		dispatcherOpts = append(dispatcherOpts, alerting.WithArchive(archive))
	}
	a.dispatcher = alerting.NewDispatcher(a.transport, dispatcherOpts...)

	loops, err := a.buildLoops(a.dispatcher, store)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.dispatcher.Run(gctx) })
	for _, l := range loops {
		l := l
		g.Go(func() error { return l.Run(gctx) })
	}
	g.Go(func() error { return a.services.Run(gctx, a.dispatcher.OnServiceChange) })
	g.Go(func() error {
		return every(gctx, "metrics", config.Seconds(a.cfg.Collection.Interval), true, a.collectAndSend)
	})
	g.Go(func() error {
		return every(gctx, "heartbeat", config.Seconds(a.cfg.Collection.HeartbeatInterval), false, a.heartbeat)
	})
	g.Go(func() error {
		return every(gctx, "commands", config.Seconds(a.cfg.Collection.HeartbeatInterval), false, a.pollCommands)
	})
	if listen := a.cfg.Telemetry.MetricsListen; listen != "" {
		g.Go(func() error { return a.metrics.Serve(gctx, listen) })
	}

	log.Info().Int("monitor_loops", len(loops)).Msg("ServerPulse Agent started")
	err = g.Wait()
	log.Info().Msg("ServerPulse Agent stopped")
	return err
}

// buildLoops creates the crash detector and log monitor loops over one sink
func (a *Agent) buildLoops(sink monitor.Sink, store monitor.OffsetStore) ([]*monitor.Loop, error) {
	logSources, err := LogSources(a.cfg)
	if err != nil {
		return nil, err
	}

	opts := []monitor.Option{monitor.WithMetrics(a.metrics)}
	if store != nil {
		opts = append(opts, monitor.WithOffsetStore(store))
	}

	m := a.cfg.Monitoring
	crash := monitor.New(monitor.Config{
		Name:          CrashMonitor,
		Sources:       CrashSources(a.cfg),
		Interval:      config.Seconds(m.CrashInterval),
		ErrorCooldown: config.Seconds(m.CrashErrorCooldown),
		SinkTimeout:   config.Seconds(m.SinkTimeout),
		StartAtEnd:    m.StartAtEnd,
	}, sink, opts...)

	logs := monitor.New(monitor.Config{
		Name:          LogMonitor,
		Sources:       logSources,
		Interval:      config.Seconds(m.LogInterval),
		ErrorCooldown: config.Seconds(m.LogErrorCooldown),
		SinkTimeout:   config.Seconds(m.SinkTimeout),
		StartAtEnd:    m.StartAtEnd,
	}, sink, opts...)

	return []*monitor.Loop{crash, logs}, nil
}

// openOffsets opens the bbolt offset store when storage.offset_db is set
func (a *Agent) openOffsets() (offset.Store, error) {
	path := a.cfg.Storage.OffsetDB
	if path == "" {
		return nil, nil
	}
	store, err := offset.NewBoltDBStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open offset store: %w", err)
	}
	return store, nil
}

// openArchive connects the ClickHouse event archive when enabled
func (a *Agent) openArchive(ctx context.Context, hostname string) (alerting.EventArchive, func(), error) {
	ac := a.cfg.Archive
	if !ac.Enabled {
		return nil, func() {}, nil
	}

	client, err := clickhouse.NewClient(ctx, clickhouse.Options{
		Host:     ac.Host,
		Port:     ac.Port,
		Database: ac.Database,
		Username: ac.Username,
		Password: ac.Password,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := client.EnsureSchema(ctx, ac.RetentionDays); err != nil {
		client.Close()
		return nil, nil, err
	}

	w := writer.NewClickHouseWriter(client.Conn(), client.Database(), writer.BatchConfig{
		MaxSize:       ac.BatchSize,
		FlushInterval: config.Seconds(ac.FlushInterval),
		AgentID:       a.cfg.Server.AgentID,
		Hostname:      hostname,
	})
	closer := func() {
		if err := w.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to flush event archive")
		}
		client.Close()
	}
	return w, closer, nil
}

// notify queues an alert through the dispatcher, or sends it directly before Run
func (a *Agent) notify(ctx context.Context, alert domain.Alert) error {
	if a.dispatcher != nil {
		qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return a.dispatcher.Notify(qctx, alert)
	}
	return a.transport.SendAlert(ctx, alert)
}
