package domain

import "time"

// Alert types
const (
	AlertTypeCrash          = "crash"
	AlertTypeServiceFailure = "service_failure"
	AlertTypeLogEvent       = "log_event"
	AlertTypeThreshold      = "threshold"
	AlertTypeTest           = "test"
)

// Alert is the payload forwarded to the collector's alerts endpoint
type Alert struct {
	Type      string      `json:"type"`
	Severity  Severity    `json:"severity"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
