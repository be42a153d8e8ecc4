package domain

import "time"

// Service states reported by systemctl is-active, plus agent-side outcomes
const (
	ServiceActive   = "active"
	ServiceInactive = "inactive"
	ServiceFailed   = "failed"
	ServiceTimeout  = "timeout"
	ServiceError    = "error"
	ServiceUnknown  = "unknown"
)

// ServiceStatus is the init-system view of a single unit
type ServiceStatus struct {
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	LoadState      string    `json:"load_state"`
	ActiveState    string    `json:"active_state"`
	SubState       string    `json:"sub_state"`
	MainPID        string    `json:"main_pid"`
	StartTimestamp string    `json:"start_timestamp"`
	Error          string    `json:"error,omitempty"`
	LastChecked    time.Time `json:"last_checked"`
}

// IsFailed reports whether the unit is in failed state
func (s ServiceStatus) IsFailed() bool {
	return s.Status == ServiceFailed || s.ActiveState == ServiceFailed
}
