package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/serverpulse-agent/internal/agent"
	"github.com/SteelMorgan/serverpulse-agent/internal/alerting"
	"github.com/SteelMorgan/serverpulse-agent/internal/api"
	"github.com/SteelMorgan/serverpulse-agent/internal/collector"
	"github.com/SteelMorgan/serverpulse-agent/internal/config"
	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
	"github.com/SteelMorgan/serverpulse-agent/internal/services"
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleBad   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

const oneShotTimeout = 60 * time.Second

func init() {
	collectMetricsCmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	checkServicesCmd.Flags().BoolVar(&asJSON, "json", false, "print statuses as JSON")
}

func newClient(cfg *config.Config) (*api.Client, error) {
	return api.NewClient(api.Config{
		Endpoint:  cfg.Server.Endpoint,
		AuthToken: cfg.Server.AuthToken,
		AgentID:   cfg.Server.AgentID,
		Timeout:   config.Seconds(cfg.Server.Timeout),
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func row(key, value string) {
	fmt.Println(styleKey.Render(key) + value)
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check that the collector is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig(true)
		if err != nil {
			return err
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()
		if err := client.TestConnection(ctx); err != nil {
			fmt.Println(styleBad.Render("✗") + " Connection to " + cfg.Server.Endpoint + " failed")
			return err
		}
		fmt.Println(styleOK.Render("✓") + " Connected to " + cfg.Server.Endpoint)
		return nil
	},
}

var sendTestAlertCmd = &cobra.Command{
	Use:   "send-test-alert",
	Short: "Send a low severity test alert to the collector",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig(true)
		if err != nil {
			return err
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()
		if err := client.SendAlert(ctx, alerting.TestAlert(time.Now())); err != nil {
			return fmt.Errorf("failed to send test alert: %w", err)
		}
		fmt.Println(styleOK.Render("✓") + " Test alert sent")
		return nil
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration and compile every log pattern",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig(true)
		if err != nil {
			return err
		}
		logSources, err := agent.LogSources(cfg)
		if err != nil {
			return err
		}

		fmt.Println(styleTitle.Render("Configuration " + cfg.Path))
		row("endpoint", cfg.Server.Endpoint)
		row("agent id", cfg.Server.AgentID)
		row("crash sources", fmt.Sprint(len(agent.CrashSources(cfg))))
		row("log sources", fmt.Sprint(len(logSources)))
		for _, s := range logSources {
			row("", fmt.Sprintf("%s (%s, %d patterns)", s.Path, s.Kind, s.Patterns.Len()))
		}
		row("services", fmt.Sprint(cfg.Monitoring.Services))
		row("archive", fmt.Sprint(cfg.Archive.Enabled))
		fmt.Println(styleOK.Render("✓") + " Configuration is valid")
		return nil
	},
}

var collectMetricsCmd = &cobra.Command{
	Use:   "collect-metrics",
	Short: "Collect one metrics snapshot and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		c := collector.New(
			collector.WithTopProcesses(cfg.Collection.TopProcesses),
			collector.WithGroups(cfg.Collection.Metrics),
		)

		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()
		snap, err := c.CollectAll(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(snap)
		}
		printSnapshot(snap)
		return nil
	},
}

func printSnapshot(snap *domain.MetricsSnapshot) {
	fmt.Println(styleTitle.Render(snap.System.Hostname + " " + snap.Timestamp.Local().Format(time.RFC3339)))
	row("cpu", fmt.Sprintf("%.1f%% (%d cores)", snap.CPU.UsagePercent, snap.System.CPUCount))
	row("memory", fmt.Sprintf("%.1f%% of %s", snap.Memory.Percent, humanBytes(snap.Memory.Total)))
	row("swap", fmt.Sprintf("%.1f%% of %s", snap.Memory.SwapPercent, humanBytes(snap.Memory.SwapTotal)))
	row("load", fmt.Sprintf("%.2f %.2f %.2f", snap.LoadAverage.Load1, snap.LoadAverage.Load5, snap.LoadAverage.Load15))
	for _, p := range snap.Disk.Partitions {
		row("disk "+p.Mountpoint, fmt.Sprintf("%.1f%% of %s", p.Percent, humanBytes(p.Total)))
	}
	for _, p := range snap.Processes {
		row(fmt.Sprintf("pid %d", p.PID), fmt.Sprintf("%-20s cpu %.1f%% mem %.1f%%", p.Name, p.CPUPercent, p.MemoryPercent))
	}
	for _, e := range snap.Errors {
		row("error", styleBad.Render(e))
	}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

var checkServicesCmd = &cobra.Command{
	Use:   "check-services",
	Short: "Query the status of monitored services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		mon := services.NewMonitor(services.Config{
			Services: cfg.Monitoring.Services,
			Discover: cfg.Monitoring.DiscoverServices,
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
		defer cancel()
		mon.Resolve(ctx)
		statuses := mon.QueryAll(ctx)
		if asJSON {
			return printJSON(statuses)
		}

		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			st := statuses[name]
			state := styleOK.Render(st.Status)
			if st.Status != domain.ServiceActive {
				state = styleBad.Render(st.Status)
			}
			row(name, fmt.Sprintf("%s (%s/%s, pid %s)", state, st.ActiveState, st.SubState, st.MainPID))
		}
		return nil
	},
}
