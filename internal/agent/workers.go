package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/serverpulse-agent/internal/api"
	"github.com/SteelMorgan/serverpulse-agent/internal/collector"
	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// Commands understood by the agent
const (
	CommandRestartService = "restart_service"
	CommandCollectMetrics = "collect_metrics"
)

// every runs fn immediately when runNow is set and then on each tick until ctx is done
func every(ctx context.Context, name string, interval time.Duration, runNow bool, fn func(context.Context)) error {
	log.Info().Str("worker", name).Dur("interval", interval).Msg("Starting worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if runNow {
		fn(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("worker", name).Msg("Worker stopped")
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// collectAndSend samples metrics, attaches service status, posts the
// snapshot and raises threshold alerts
func (a *Agent) collectAndSend(ctx context.Context) {
	snap, err := a.collector.CollectAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Error collecting metrics")
		return
	}
	snap.Services = a.services.QueryAll(ctx)

	if err := a.transport.SendMetrics(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("Error sending metrics")
	}

	for _, alert := range a.thresholds.update(collector.CheckThresholds(snap, a.limits)) {
		if err := a.notify(ctx, alert); err != nil {
			log.Warn().Err(err).Str("message", alert.Message).Msg("Failed to queue threshold alert")
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) {
	if err := a.transport.SendHeartbeat(ctx); err != nil {
		log.Warn().Err(err).Msg("Error sending heartbeat")
	}
}

// pollCommands runs pending collector commands and acknowledges each one
func (a *Agent) pollCommands(ctx context.Context) {
	cmds, err := a.transport.GetCommands(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Error getting commands")
		return
	}
	for _, cmd := range cmds {
		result := a.execute(ctx, cmd)
		if err := a.transport.AcknowledgeCommand(ctx, cmd.ID, result); err != nil {
			log.Warn().Err(err).Str("command_id", string(cmd.ID)).Msg("Error acknowledging command")
		}
	}
}

// CommandResult is reported back when acknowledging a command
type CommandResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (a *Agent) execute(ctx context.Context, cmd api.Command) CommandResult {
	log.Info().Str("command_id", string(cmd.ID)).Str("type", cmd.Type).Msg("Executing command")

	switch cmd.Type {
	case CommandRestartService:
		name, _ := cmd.Parameters["service"].(string)
		if name == "" {
			return CommandResult{Status: "error", Error: "missing service parameter"}
		}
		if err := a.services.Restart(ctx, name); err != nil {
			return CommandResult{Status: "error", Error: err.Error()}
		}
		return CommandResult{Status: "success"}
	case CommandCollectMetrics:
		a.collectAndSend(ctx)
		return CommandResult{Status: "success"}
	default:
		return CommandResult{Status: "unsupported", Error: fmt.Sprintf("unknown command type %q", cmd.Type)}
	}
}

// thresholdTracker suppresses repeated alerts while a limit stays exceeded
type thresholdTracker struct {
	mu     sync.Mutex
	active map[string]bool
}

func newThresholdTracker() *thresholdTracker {
	return &thresholdTracker{active: make(map[string]bool)}
}

// update returns the alerts that were not active on the previous sample
func (t *thresholdTracker) update(alerts []domain.Alert) []domain.Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := make(map[string]bool, len(alerts))
	var fresh []domain.Alert
	for _, a := range alerts {
		key := a.Message
		if d, ok := a.Details.(collector.ThresholdDetails); ok {
			key = d.Metric + ":" + d.Target
		}
		current[key] = true
		if !t.active[key] {
			fresh = append(fresh, a)
		}
	}
	t.active = current
	return fresh
}
