package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/serverpulse-agent/internal/agent"
	"github.com/SteelMorgan/serverpulse-agent/internal/observability"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig(false)
		if err != nil {
			return err
		}

		log.Info().
			Str("version", version).
			Str("config", cfg.Path).
			Str("agent_id", cfg.Server.AgentID).
			Msg("Starting ServerPulse Agent")

		shutdownTracer, err := observability.InitTracer(observability.TracerConfig{
			ServiceName:    observability.DefaultServiceName,
			ServiceVersion: version,
			Endpoint:       cfg.Tracing.Endpoint,
			Protocol:       cfg.Tracing.Protocol,
			Enabled:        cfg.Tracing.Enabled,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize tracer")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush traces")
				}
			}()
		}

		a, err := agent.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Agent stopped with error")
			return err
		}
		log.Info().Msg("Shutdown complete")
		return nil
	},
}
