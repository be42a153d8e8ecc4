package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the urgency assigned to a classified log line
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the wire name of the severity (low, medium, high, critical)
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText implements encoding.TextMarshaler so events serialize severity by name
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity parses a severity name (case-insensitive)
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low", "info":
		return SeverityLow, nil
	case "medium", "warning":
		return SeverityMedium, nil
	case "high", "error":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", name)
	}
}

// Cause is the inferred root cause of a detected line
type Cause string

const (
	CauseKernelPanic       Cause = "kernel_panic"
	CauseSegmentationFault Cause = "segmentation_fault"
	CauseOutOfMemory       Cause = "out_of_memory"
	CauseHardwareError     Cause = "hardware_error"
	CauseFilesystemError   Cause = "filesystem_error"
	CauseIOError           Cause = "io_error"
	CauseNetworkError      Cause = "network_error"
	CauseServiceFailure    Cause = "service_failure"
	CauseAuthFailedLogin   Cause = "auth_failed_login"
	CauseAuthInvalidUser   Cause = "auth_invalid_user"
	CauseUnknown           Cause = "unknown"
)

// LogKind selects the parser applied to a log source
type LogKind string

const (
	KindSyslog  LogKind = "syslog"
	KindAuth    LogKind = "auth"
	KindNginx   LogKind = "nginx"
	KindApache  LogKind = "apache"
	KindMySQL   LogKind = "mysql"
	KindGeneric LogKind = "generic"
)

// ParseLogKind maps a configured parser name to a LogKind.
// An empty name means generic.
func ParseLogKind(name string) (LogKind, error) {
	switch LogKind(strings.ToLower(strings.TrimSpace(name))) {
	case KindSyslog, "kernel", "crash":
		return KindSyslog, nil
	case KindAuth:
		return KindAuth, nil
	case KindNginx:
		return KindNginx, nil
	case KindApache, "apache2", "httpd":
		return KindApache, nil
	case KindMySQL, "mariadb":
		return KindMySQL, nil
	case KindGeneric, "":
		return KindGeneric, nil
	default:
		return KindGeneric, fmt.Errorf("unknown log parser %q", name)
	}
}

// Event types reported to the collector
const (
	EventTypeCrash       = "crash"
	EventTypeAuth        = "auth_event"
	EventTypeNginxError  = "nginx_error"
	EventTypeApacheError = "apache_error"
	EventTypeMySQLError  = "mysql_error"
	EventTypeLog         = "log_event"
)

// Event is a single classified log line.
// Created per matching line and handed to the sink immediately.
type Event struct {
	ID             string            `json:"id"`
	Monitor        string            `json:"monitor"`
	Type           string            `json:"type"`
	Timestamp      string            `json:"timestamp"` // as found in the line, or wall clock
	DetectedAt     time.Time         `json:"detected_at"`
	SourcePath     string            `json:"log_file"`
	SourceKind     LogKind           `json:"parser"`
	RawLine        string            `json:"raw_line"`
	MatchedPattern string            `json:"pattern_matched"`
	Severity       Severity          `json:"severity"`
	Cause          Cause             `json:"cause"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// Field names used in Event.Fields
const (
	FieldProcess       = "process"
	FieldPID           = "pid"
	FieldMemoryAddress = "memory_address"
	FieldSignal        = "signal"
	FieldIPAddress     = "ip_address"
	FieldUsername      = "username"
	FieldSourceIP      = "source_ip"
	FieldClientIP      = "client_ip"
	FieldEventType     = "event_type"
)

// Field returns the value of an extracted field, or "" if absent
func (e *Event) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}
