package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SteelMorgan/serverpulse-agent/internal/agent"
	"github.com/SteelMorgan/serverpulse-agent/internal/alerting"
	"github.com/SteelMorgan/serverpulse-agent/internal/config"
	"github.com/SteelMorgan/serverpulse-agent/internal/monitor"
)

var (
	watchFromStart bool
	watchInterval  time.Duration
)

// watchCmd runs the crash detector and log monitor locally, printing events
// instead of sending them
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail the configured logs and print classified events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		logSources, err := agent.LogSources(cfg)
		if err != nil {
			return err
		}

		sink := alerting.NewConsoleSink(os.Stdout, asJSON)
		m := cfg.Monitoring
		crashInterval, logInterval := config.Seconds(m.CrashInterval), config.Seconds(m.LogInterval)
		if watchInterval > 0 {
			crashInterval, logInterval = watchInterval, watchInterval
		}

		loops := []*monitor.Loop{
			monitor.New(monitor.Config{
				Name:       agent.CrashMonitor,
				Sources:    agent.CrashSources(cfg),
				Interval:   crashInterval,
				StartAtEnd: !watchFromStart,
			}, sink),
			monitor.New(monitor.Config{
				Name:       agent.LogMonitor,
				Sources:    logSources,
				Interval:   logInterval,
				StartAtEnd: !watchFromStart,
			}, sink),
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		for _, l := range loops {
			l := l
			g.Go(func() error { return l.Run(gctx) })
		}
		log.Warn().Int("crash_sources", len(agent.CrashSources(cfg))).Int("log_sources", len(logSources)).Msg("Watching, press Ctrl+C to stop")
		return g.Wait()
	},
}

func init() {
	watchCmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "read existing file contents instead of only new lines")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from configuration)")
}
