package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SteelMorgan/serverpulse-agent/internal/config"
	"github.com/SteelMorgan/serverpulse-agent/internal/observability"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

var (
	cfgFile  string
	logLevel string
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "serverpulse-agent",
	Short: "ServerPulse host monitoring agent",
	Long: `serverpulse-agent reports host metrics and service health to a ServerPulse
collector, and raises alerts for crashes and suspicious log lines.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(runCmd, testConnectionCmd, collectMetricsCmd, checkServicesCmd,
		sendTestAlertCmd, validateConfigCmd, watchCmd)
}

// loadConfig reads the configuration and installs the logger.
// One-shot commands log warnings only unless --log-level is given, so their
// output stays readable.
func loadConfig(oneShot bool) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	file := cfg.Logging.File
	if oneShot {
		level, file = "warn", ""
	}
	if logLevel != "" {
		level = logLevel
	}
	observability.InitLogger(level, file)
	return cfg, nil
}

func loadValidConfig(oneShot bool) (*config.Config, error) {
	cfg, err := loadConfig(oneShot)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", cfg.Path, err)
	}
	return cfg, nil
}
