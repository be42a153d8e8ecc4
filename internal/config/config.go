package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/patterns"
)

const (
	// DefaultPath is where the agent looks for its configuration
	DefaultPath = "/etc/serverpulse-agent/config.yml"

	// EnvPrefix prefixes environment overrides, e.g. SERVERPULSE_SERVER_ENDPOINT
	EnvPrefix = "SERVERPULSE"
)

// Config holds all configuration for the agent.
// All durations are whole seconds.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Collection CollectionConfig `mapstructure:"collection" yaml:"collection"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Alerts     AlertsConfig     `mapstructure:"alerts" yaml:"alerts"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Archive    ArchiveConfig    `mapstructure:"archive" yaml:"archive"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`

	// Path is the file the configuration was loaded from
	Path string `mapstructure:"-" yaml:"-"`
}

// ServerConfig points the agent at the ServerPulse collector
type ServerConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
	AgentID   string `mapstructure:"agent_id" yaml:"agent_id"`
	Timeout   int    `mapstructure:"timeout" yaml:"timeout"`
}

// CollectionConfig controls the metrics and heartbeat schedule
type CollectionConfig struct {
	Interval          int      `mapstructure:"interval" yaml:"interval"`
	HeartbeatInterval int      `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	TopProcesses      int      `mapstructure:"top_processes" yaml:"top_processes"`
	Metrics           []string `mapstructure:"metrics" yaml:"metrics"`
}

// CustomLog is one log monitor source
type CustomLog struct {
	Path     string   `mapstructure:"path" yaml:"path"`
	Parser   string   `mapstructure:"parser" yaml:"parser"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

// MonitoringConfig configures the monitor loops
type MonitoringConfig struct {
	Services             []string    `mapstructure:"services" yaml:"services"`
	DiscoverServices     bool        `mapstructure:"discover_services" yaml:"discover_services"`
	LogPaths             []string    `mapstructure:"log_paths" yaml:"log_paths"`
	CustomLogs           []CustomLog `mapstructure:"custom_logs" yaml:"custom_logs"`
	CrashInterval        int         `mapstructure:"crash_interval" yaml:"crash_interval"`
	LogInterval          int         `mapstructure:"log_interval" yaml:"log_interval"`
	ServiceInterval      int         `mapstructure:"service_interval" yaml:"service_interval"`
	CrashErrorCooldown   int         `mapstructure:"crash_error_cooldown" yaml:"crash_error_cooldown"`
	LogErrorCooldown     int         `mapstructure:"log_error_cooldown" yaml:"log_error_cooldown"`
	ServiceErrorCooldown int         `mapstructure:"service_error_cooldown" yaml:"service_error_cooldown"`
	SinkTimeout          int         `mapstructure:"sink_timeout" yaml:"sink_timeout"`
	StartAtEnd           bool        `mapstructure:"start_at_end" yaml:"start_at_end"`
}

// AlertsConfig holds metric thresholds and the log alert floor
type AlertsConfig struct {
	CPUThreshold    float64 `mapstructure:"cpu_threshold" yaml:"cpu_threshold"`
	MemoryThreshold float64 `mapstructure:"memory_threshold" yaml:"memory_threshold"`
	DiskThreshold   float64 `mapstructure:"disk_threshold" yaml:"disk_threshold"`
	LoadThreshold   float64 `mapstructure:"load_threshold" yaml:"load_threshold"`
	MinLogSeverity  string  `mapstructure:"min_log_severity" yaml:"min_log_severity"`
	QueueSize       int     `mapstructure:"queue_size" yaml:"queue_size"`
}

// LoggingConfig configures the global logger
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// StorageConfig configures optional local state
type StorageConfig struct {
	// OffsetDB enables tail position persistence when set
	OffsetDB string `mapstructure:"offset_db" yaml:"offset_db"`
}

// TracingConfig configures the OpenTelemetry exporter
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
}

// ArchiveConfig configures the optional ClickHouse event archive
type ArchiveConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Database      string `mapstructure:"database" yaml:"database"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	BatchSize     int    `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval int    `mapstructure:"flush_interval" yaml:"flush_interval"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// TelemetryConfig configures the agent's own Prometheus endpoint
type TelemetryConfig struct {
	MetricsListen string `mapstructure:"metrics_listen" yaml:"metrics_listen"`
}

// Default returns the configuration written to a fresh config file
func Default() *Config {
	customLogs := make([]CustomLog, 0, 4)
	for _, s := range patterns.DefaultLogSources() {
		customLogs = append(customLogs, CustomLog{
			Path:     s.Path,
			Parser:   string(s.Kind),
			Patterns: append([]string(nil), s.Patterns...),
		})
	}

	return &Config{
		Server: ServerConfig{
			Endpoint:  "https://your-serverpulse-domain.com",
			AuthToken: "your-auth-token-here",
			AgentID:   "auto-generated-or-custom-id",
			Timeout:   30,
		},
		Collection: CollectionConfig{
			Interval:          30,
			HeartbeatInterval: 60,
			TopProcesses:      10,
			Metrics:           []string{"system_stats", "disk_usage", "network_stats", "process_list"},
		},
		Monitoring: MonitoringConfig{
			Services:             []string{"ssh", "nginx", "mysql", "docker"},
			LogPaths:             append([]string(nil), patterns.DefaultCrashLogPaths...),
			CustomLogs:           customLogs,
			CrashInterval:        5,
			LogInterval:          10,
			ServiceInterval:      30,
			CrashErrorCooldown:   30,
			LogErrorCooldown:     60,
			ServiceErrorCooldown: 60,
			SinkTimeout:          10,
			StartAtEnd:           true,
		},
		Alerts: AlertsConfig{
			CPUThreshold:    80,
			MemoryThreshold: 85,
			DiskThreshold:   90,
			LoadThreshold:   5.0,
			MinLogSeverity:  "high",
			QueueSize:       256,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "/var/log/serverpulse-agent.log",
		},
		Tracing: TracingConfig{
			Protocol: "grpc",
		},
		Archive: ArchiveConfig{
			Host:          "localhost",
			Port:          9000,
			Database:      "serverpulse",
			Username:      "default",
			BatchSize:     500,
			FlushInterval: 5,
			RetentionDays: 30,
		},
	}
}

// Load reads the configuration file at path, creating it with defaults when
// missing. Keys absent from the file keep their defaults; SERVERPULSE_*
// environment variables override both.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return nil, err
		}
		log.Warn().
			Str("path", path).
			Msg("Created default configuration, edit it with your ServerPulse details")
	}

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.Path = path

	return cfg, nil
}

// WriteDefault writes the default configuration to path
func WriteDefault(path string) error {
	return Default().Save(path)
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// the file carries the auth token
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Endpoint == "" {
		return fmt.Errorf("server.endpoint is required")
	}
	u, err := url.Parse(c.Server.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.endpoint must start with http:// or https://")
	}
	if c.Server.AuthToken == "" {
		return fmt.Errorf("server.auth_token is required")
	}
	if c.Server.AgentID == "" {
		return fmt.Errorf("server.agent_id is required")
	}

	positive := []struct {
		key   string
		value int
	}{
		{"server.timeout", c.Server.Timeout},
		{"collection.interval", c.Collection.Interval},
		{"collection.heartbeat_interval", c.Collection.HeartbeatInterval},
		{"monitoring.crash_interval", c.Monitoring.CrashInterval},
		{"monitoring.log_interval", c.Monitoring.LogInterval},
		{"monitoring.service_interval", c.Monitoring.ServiceInterval},
		{"monitoring.crash_error_cooldown", c.Monitoring.CrashErrorCooldown},
		{"monitoring.log_error_cooldown", c.Monitoring.LogErrorCooldown},
		{"monitoring.service_error_cooldown", c.Monitoring.ServiceErrorCooldown},
		{"monitoring.sink_timeout", c.Monitoring.SinkTimeout},
		{"alerts.queue_size", c.Alerts.QueueSize},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("%s must be a positive integer", p.key)
		}
	}

	for i, cl := range c.Monitoring.CustomLogs {
		if strings.TrimSpace(cl.Path) == "" {
			return fmt.Errorf("monitoring.custom_logs[%d].path is required", i)
		}
		kind, err := domain.ParseLogKind(cl.Parser)
		if err != nil {
			return fmt.Errorf("monitoring.custom_logs[%d]: %w", i, err)
		}
		exprs := cl.Patterns
		if len(exprs) == 0 {
			exprs = patterns.DefaultPatternsFor(kind)
		}
		if _, err := patterns.Compile(exprs); err != nil {
			return fmt.Errorf("monitoring.custom_logs[%d] (%s): %w", i, cl.Path, err)
		}
	}

	if _, err := domain.ParseSeverity(c.Alerts.MinLogSeverity); err != nil {
		return fmt.Errorf("alerts.min_log_severity: %w", err)
	}

	if c.Tracing.Enabled && c.Tracing.Protocol != "grpc" && c.Tracing.Protocol != "http" {
		return fmt.Errorf("tracing.protocol must be grpc or http")
	}

	if c.Archive.Enabled {
		if c.Archive.Host == "" {
			return fmt.Errorf("archive.host is required")
		}
		if c.Archive.Port <= 0 || c.Archive.Port > 65535 {
			return fmt.Errorf("archive.port must be between 1 and 65535")
		}
		if c.Archive.Database == "" {
			return fmt.Errorf("archive.database is required")
		}
		if c.Archive.BatchSize < 1 || c.Archive.FlushInterval < 1 {
			return fmt.Errorf("archive.batch_size and archive.flush_interval must be positive")
		}
	}

	return nil
}

// Seconds converts a configured number of seconds to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
