package alerting

import (
	"fmt"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

const maxMessageLine = 200

// EventAlert converts a classified event into an alert.
// Crash events always alert as critical; other events alert only when their
// severity reaches min.
func EventAlert(ev *domain.Event, min domain.Severity) (domain.Alert, bool) {
	ts := ev.DetectedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if ev.Type == domain.EventTypeCrash {
		return domain.Alert{
			Type:      domain.AlertTypeCrash,
			Severity:  domain.SeverityCritical,
			Message:   fmt.Sprintf("System crash detected: %s", ev.Cause),
			Details:   ev,
			Timestamp: ts,
		}, true
	}

	if ev.Severity < min {
		return domain.Alert{}, false
	}
	return domain.Alert{
		Type:      domain.AlertTypeLogEvent,
		Severity:  ev.Severity,
		Message:   fmt.Sprintf("%s in %s: %s", ev.Type, ev.SourcePath, truncate(ev.RawLine, maxMessageLine)),
		Details:   ev,
		Timestamp: ts,
	}, true
}

// ServiceAlert reports a service that entered the failed state
func ServiceAlert(name string, prev, cur domain.ServiceStatus) (domain.Alert, bool) {
	if !cur.IsFailed() {
		return domain.Alert{}, false
	}
	return domain.Alert{
		Type:     domain.AlertTypeServiceFailure,
		Severity: domain.SeverityHigh,
		Message:  fmt.Sprintf("Service %s has failed", name),
		Details: map[string]string{
			"service":         name,
			"status":          cur.Status,
			"previous_status": prev.Status,
			"active_state":    cur.ActiveState,
			"sub_state":       cur.SubState,
		},
		Timestamp: cur.LastChecked,
	}, true
}

// TestAlert is the alert sent by the send-test-alert command
func TestAlert(now time.Time) domain.Alert {
	return domain.Alert{
		Type:     domain.AlertTypeTest,
		Severity: domain.SeverityLow,
		Message:  "Test alert from ServerPulse agent",
		Details: map[string]string{
			"source": "cli",
		},
		Timestamp: now.UTC(),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
