package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ExecSpawner implements BatchSpawner using os/exec.
type ExecSpawner struct{}

// Spawn starts spec.Binary with spec.Args. Stdout and stderr are captured
// together.
func (s *ExecSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec // binary comes from operator config
	cmd.Dir = spec.Workdir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	out := &syncBuilder{}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Binary, err)
	}
	return &execProcess{cmd: cmd, output: out}, nil
}

// execProcess wraps exec.Cmd to implement Process.
type execProcess struct {
	cmd    *exec.Cmd
	output *syncBuilder
}

// Wait waits for the subprocess to exit.
func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return nil
}

// Kill sends SIGKILL to the subprocess.
func (p *execProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	return nil
}

func (p *execProcess) Output() (string, error) { return p.output.String(), nil } //nolint:revive // interface impl

type syncBuilder struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuilder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuilder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
