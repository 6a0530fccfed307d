// Package executor runs agent invocations as short-lived, stateless
// subprocesses. Each invocation gets a fresh process with a prompt built
// from its triggering event and a tool grant derived from the node's
// capability; nothing survives between invocations except what the agent
// writes to the work tracker.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// --- Process abstraction ---

// Process represents a running subprocess.
type Process interface {
	Wait() error
	Kill() error
	Output() (string, error) // read stdout after completion
}

// Spec describes one subprocess launch.
type Spec struct {
	Binary  string
	Args    []string
	Workdir string
	Env     []string
}

// BatchSpawner starts subprocesses.
type BatchSpawner interface {
	Spawn(ctx context.Context, spec Spec) (Process, error)
}

// --- Invocation types ---

// Capability is the tool grant an invocation runs with.
type Capability string

// Capabilities, from least to most privileged.
const (
	CapReadOnly Capability = "read-only"
	CapWrite    Capability = "write"
	CapMultiJob Capability = "multi-job"
)

// Status is how an invocation ended.
type Status string

// Invocation outcomes.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Invocation is one request to run an agent node.
type Invocation struct {
	ID         string
	Role       string
	Job        string
	Capability Capability
	Event      string
	ChainDepth int
	Payload    map[string]any
	Context    string        // free-form situation text, e.g. health diagnostics
	Timeout    time.Duration // zero selects the executor default
}

// Key is the node key "role" or "role/job".
func (inv Invocation) Key() string {
	if inv.Job == "" {
		return inv.Role
	}
	return inv.Role + "/" + inv.Job
}

// FollowUp is a dispatch request printed by the agent.
type FollowUp struct {
	Event   string         `json:"event_type"`
	Payload map[string]any `json:"payload"`
}

// Result is the outcome of an invocation.
type Result struct {
	InvocationID string
	Status       Status
	Output       string
	FollowUps    []FollowUp
	Duration     time.Duration
	Err          error
}

// Executor runs invocations. Invoke blocks until the invocation ends and
// never panics on agent failure; failures are reported in Result.
type Executor interface {
	Invoke(ctx context.Context, inv Invocation) Result
}

// --- ProcessExecutor ---

// Config configures a ProcessExecutor.
type Config struct {
	Binary    string        // defaults to "claude"
	Model     string        // passed as --model when set
	ExtraArgs []string      // appended after the generated flags
	Workdir   string        // subprocess working directory
	Timeout   time.Duration // default invocation timeout (30m)
}

func (c Config) withDefaults() Config {
	out := c
	if out.Binary == "" {
		out.Binary = "claude"
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Minute
	}
	return out
}

type running struct {
	inv  Invocation
	proc Process
}

// ProcessExecutor runs each invocation as a `claude -p` style subprocess.
type ProcessExecutor struct {
	cfg     Config
	spawner BatchSpawner

	mu     sync.Mutex
	active map[string]*running

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewProcessExecutor returns a ProcessExecutor backed by sp.
func NewProcessExecutor(cfg Config, sp BatchSpawner) *ProcessExecutor {
	return &ProcessExecutor{
		cfg:     cfg.withDefaults(),
		spawner: sp,
		active:  make(map[string]*running),
		nowFunc: time.Now,
	}
}

// Invoke runs inv to completion, killing the process when its timeout
// elapses or ctx is cancelled.
func (e *ProcessExecutor) Invoke(ctx context.Context, inv Invocation) Result {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Capability == "" {
		inv.Capability = CapReadOnly
	}
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	start := e.nowFunc()
	res := Result{InvocationID: inv.ID}

	proc, err := e.spawner.Spawn(ctx, e.spec(inv))
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("executor: spawn %s: %w", inv.Key(), err)
		return res
	}

	e.mu.Lock()
	e.active[inv.ID] = &running{inv: inv, proc: proc}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, inv.ID)
		e.mu.Unlock()
	}()

	slog.Debug("invocation started", "id", inv.ID, "node", inv.Key(), "event", inv.Event, "depth", inv.ChainDepth)
	status, waitErr := waitForProcess(ctx, proc, timeout)
	res.Duration = e.nowFunc().Sub(start)
	res.Output, _ = proc.Output()

	switch status {
	case StatusTimedOut:
		res.Status = StatusTimedOut
		res.Err = fmt.Errorf("executor: %s exceeded %v timeout", inv.Key(), timeout)
		return res
	case StatusFailed:
		res.Status = StatusFailed
		res.Err = fmt.Errorf("executor: %s: %w", inv.Key(), waitErr)
		return res
	}

	res.Status = StatusSucceeded
	res.FollowUps = ParseFollowUps(res.Output)
	return res
}

// Cancel kills a running invocation by ID.
func (e *ProcessExecutor) Cancel(id string) error {
	e.mu.Lock()
	r, ok := e.active[id]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("executor: no active invocation %q", id)
	}
	if err := r.proc.Kill(); err != nil {
		return fmt.Errorf("executor: kill %q: %w", id, err)
	}
	return nil
}

// Active returns the IDs of running invocations.
func (e *ProcessExecutor) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

func (e *ProcessExecutor) spec(inv Invocation) Spec {
	args := []string{"-p", BuildPrompt(inv), "--allowedTools", AllowedTools(inv.Capability)}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	args = append(args, e.cfg.ExtraArgs...)
	return Spec{
		Binary:  e.cfg.Binary,
		Args:    args,
		Workdir: e.cfg.Workdir,
		Env: []string{
			"WARDEN_INVOCATION_ID=" + inv.ID,
			"WARDEN_NODE=" + inv.Key(),
			fmt.Sprintf("WARDEN_CHAIN_DEPTH=%d", inv.ChainDepth),
		},
	}
}

// waitForProcess waits for proc with a timeout and context cancellation.
// A process that is killed for either reason reports StatusTimedOut or
// StatusFailed respectively.
func waitForProcess(ctx context.Context, proc Process, timeout time.Duration) (Status, error) {
	done := make(chan error, 1)
	go func() {
		done <- proc.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return StatusFailed, err
		}
		return StatusSucceeded, nil
	case <-timer.C:
		_ = proc.Kill()
		<-done
		return StatusTimedOut, nil
	case <-ctx.Done():
		_ = proc.Kill()
		<-done
		return StatusFailed, ctx.Err()
	}
}
