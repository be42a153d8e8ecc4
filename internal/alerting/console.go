package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

var (
	styleLow      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleMedium   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleHigh     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleCritical = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true)
	styleSource = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true)
	styleCause  = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
)

// ConsoleSink prints events to a terminal, colored by severity
type ConsoleSink struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

// NewConsoleSink writes colored lines to w, or JSON lines when asJSON is set
func NewConsoleSink(w io.Writer, asJSON bool) *ConsoleSink {
	return &ConsoleSink{w: w, json: asJSON}
}

// Deliver implements monitor.Sink
func (c *ConsoleSink) Deliver(ctx context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.json {
		return json.NewEncoder(c.w).Encode(ev)
	}

	line := fmt.Sprintf("%s %s %s %s %s",
		ev.DetectedAt.Local().Format("15:04:05"),
		severityTag(ev.Severity),
		styleSource.Render(ev.SourcePath),
		styleCause.Render(string(ev.Cause)),
		ev.RawLine,
	)
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func severityTag(s domain.Severity) string {
	padded := fmt.Sprintf("%-8s", s.String())
	switch s {
	case domain.SeverityCritical:
		return styleCritical.Render(padded)
	case domain.SeverityHigh:
		return styleHigh.Render(padded)
	case domain.SeverityMedium:
		return styleMedium.Render(padded)
	default:
		return styleLow.Render(padded)
	}
}
