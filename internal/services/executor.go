package services

import (
	"context"
	"os/exec"
	"strings"
)

// CommandExecutor runs an external command and returns its trimmed stdout.
// A non-zero exit status is reported as an error alongside the output.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) (string, error)
}

// ExecExecutor runs commands through os/exec
type ExecExecutor struct{}

// Execute runs name with args
func (ExecExecutor) Execute(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(out)), err
}
