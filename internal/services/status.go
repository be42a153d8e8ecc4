package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/SteelMorgan/serverpulse-agent/internal/domain"
)

const showProperties = "--property=MainPID,LoadState,ActiveState,SubState,ExecMainStartTimestamp"

func unitName(service string) string {
	if strings.Contains(service, ".") {
		return service
	}
	return service + ".service"
}

// QueryStatus asks systemd for the state of one service. It never fails:
// timeouts and execution errors are reported through Status and Error.
func QueryStatus(ctx context.Context, ex CommandExecutor, name string, timeout time.Duration) domain.ServiceStatus {
	st := domain.ServiceStatus{
		Name:        name,
		LoadState:   domain.ServiceUnknown,
		ActiveState: domain.ServiceUnknown,
		SubState:    domain.ServiceUnknown,
		MainPID:     "0",
		LastChecked: time.Now().UTC(),
	}

	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := ex.Execute(qctx, "systemctl", "is-active", unitName(name))
	if qctx.Err() == context.DeadlineExceeded {
		st.Status = domain.ServiceTimeout
		return st
	}
	// is-active exits non-zero for every state except active; the state is still on stdout
	var exitErr *exec.ExitError
	if err != nil && out == "" && !errors.As(err, &exitErr) {
		st.Status = domain.ServiceError
		st.Error = err.Error()
		return st
	}
	st.Status = out
	if st.Status == "" {
		st.Status = domain.ServiceUnknown
	}

	show, err := ex.Execute(qctx, "systemctl", "show", unitName(name), showProperties)
	if qctx.Err() == context.DeadlineExceeded {
		st.Status = domain.ServiceTimeout
		return st
	}
	if err != nil && show == "" {
		st.Error = fmt.Sprintf("systemctl show: %v", err)
		return st
	}

	props := parseProperties(show)
	if v, ok := props["LoadState"]; ok {
		st.LoadState = v
	}
	if v, ok := props["ActiveState"]; ok {
		st.ActiveState = v
	}
	if v, ok := props["SubState"]; ok {
		st.SubState = v
	}
	if v, ok := props["MainPID"]; ok {
		st.MainPID = v
	}
	st.StartTimestamp = props["ExecMainStartTimestamp"]
	return st
}

// parseProperties parses systemctl show Key=Value lines
func parseProperties(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		props[key] = value
	}
	return props
}
