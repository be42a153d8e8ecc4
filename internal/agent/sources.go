package agent

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/serverpulse-agent/internal/classify"
	"github.com/SteelMorgan/serverpulse-agent/internal/config"
	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/patterns"
)

// Monitor loop names, also used as offset store namespaces
const (
	CrashMonitor = "crash_detector"
	LogMonitor   = "log_monitor"
)

// CrashSources builds the crash detector sources from monitoring.log_paths.
// All of them share the built-in crash table.
func CrashSources(cfg *config.Config) []classify.LogSource {
	paths := cfg.Monitoring.LogPaths
	if len(paths) == 0 {
		paths = patterns.DefaultCrashLogPaths
	}

	table := patterns.CrashTable()
	sources := make([]classify.LogSource, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, classify.LogSource{Path: p, Kind: domain.KindSyslog, Patterns: table})
	}
	return sources
}

// LogSources builds the log monitor sources from monitoring.custom_logs,
// falling back to the built-in auth, nginx, apache and mysql sources
func LogSources(cfg *config.Config) ([]classify.LogSource, error) {
	custom := cfg.Monitoring.CustomLogs
	if len(custom) == 0 {
		for _, d := range patterns.DefaultLogSources() {
			custom = append(custom, config.CustomLog{Path: d.Path, Parser: string(d.Kind), Patterns: d.Patterns})
		}
	}

	sources := make([]classify.LogSource, 0, len(custom))
	for i, cl := range custom {
		kind, err := domain.ParseLogKind(cl.Parser)
		if err != nil {
			return nil, fmt.Errorf("custom log %d (%s): %w", i, cl.Path, err)
		}
		exprs := cl.Patterns
		if len(exprs) == 0 {
			exprs = patterns.DefaultPatternsFor(kind)
		}
		table, err := patterns.Compile(exprs)
		if err != nil {
			return nil, fmt.Errorf("custom log %d (%s): %w", i, cl.Path, err)
		}
		if table.Len() == 0 {
			log.Warn().Str("path", cl.Path).Str("parser", string(kind)).Msg("Log source has no patterns and will never match")
		}
		sources = append(sources, classify.LogSource{Path: cl.Path, Kind: kind, Patterns: table})
	}
	return sources, nil
}
