package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

// AgentVersion is reported on registration
const AgentVersion = "1.0.0"

// Registration announces the agent to the collector
type Registration struct {
	AgentID          string    `json:"agent_id"`
	Hostname         string    `json:"hostname"`
	System           string    `json:"system"`
	Release          string    `json:"release"`
	Version          string    `json:"version"`
	Machine          string    `json:"machine"`
	Processor        string    `json:"processor"`
	AgentVersion     string    `json:"agent_version"`
	RegistrationTime time.Time `json:"registration_time"`
}

type metricsPayload struct {
	AgentID   string                  `json:"agent_id"`
	Timestamp time.Time               `json:"timestamp"`
	Metrics   *domain.MetricsSnapshot `json:"metrics"`
}

type heartbeatPayload struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

type alertPayload struct {
	AgentID   string       `json:"agent_id"`
	Timestamp time.Time    `json:"timestamp"`
	Alert     domain.Alert `json:"alert"`
}

type ackPayload struct {
	CommandID string      `json:"command_id"`
	Result    interface{} `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
}

// CommandID accepts both numeric and string identifiers
type CommandID string

// UnmarshalJSON implements json.Unmarshaler
func (id *CommandID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CommandID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = CommandID(n.String())
	return nil
}

// Command is a pending instruction from the collector
type Command struct {
	ID         CommandID              `json:"id"`
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type commandsResponse struct {
	Commands []Command `json:"commands"`
}
