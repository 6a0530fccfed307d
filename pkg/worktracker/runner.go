package worktracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner runs commands as local subprocesses. Dir, when set, is
// the working directory; Env entries are appended to the inherited
// environment.
type ExecCommandRunner struct {
	Dir string
	Env []string
}

// Run executes name with args. A nonzero exit is returned as an error that
// carries the command's trimmed stderr.
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("command finished", "cmd", name, "args", len(args), "duration", time.Since(start), "error", err)

	if err == nil {
		return stdout.Bytes(), nil
	}
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: exit %d: %s", line, exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("%s: exit %d", line, exitErr.ExitCode())
	}
	return nil, fmt.Errorf("%s: %w", line, err)
}
