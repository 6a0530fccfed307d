package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"warden/pkg/executor"
	"warden/pkg/protocol"
)

// Escalation is handed to a task executor once playbooks are exhausted.
type Escalation struct {
	Problem        string
	Finding        Finding
	Diagnostics    []string
	PlaybooksTried []string
	Signal         Signal
}

// Payload is the event payload form of e.
func (e Escalation) Payload() map[string]any {
	p := map[string]any{
		"problem":         e.Problem,
		"diagnostics":     strings.Join(e.Diagnostics, "\n"),
		"playbooks_tried": append([]string{}, e.PlaybooksTried...),
	}
	if e.Finding.Subsystem != "" {
		p["subsystem"] = e.Finding.Subsystem
	}
	if e.Finding.AlertRule != "" {
		p["alert_rule"] = e.Finding.AlertRule
	}
	return p
}

// Escalator hands an unresolved problem to something smarter than a
// playbook.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}

// ExecutorEscalator invokes an agent node directly.
type ExecutorEscalator struct {
	Executor   executor.Executor
	Role       string
	Job        string
	Capability executor.Capability
}

// Escalate runs the escalation node and fails unless it succeeds.
func (x *ExecutorEscalator) Escalate(ctx context.Context, e Escalation) error {
	res := x.Executor.Invoke(ctx, executor.Invocation{
		Role:       x.Role,
		Job:        x.Job,
		Capability: x.Capability,
		Event:      protocol.EventHealthEscalation,
		Payload:    e.Payload(),
		Context:    strings.Join(e.Diagnostics, "\n"),
	})
	if res.Status == executor.StatusSucceeded {
		return nil
	}
	err := res.Err
	if err == nil {
		err = errors.New("no error detail")
	}
	return fmt.Errorf("escalation invocation %s: %w", res.Status, err)
}

// Emitter sends an event into dispatch.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]any, depth int) error
}

// EventEscalator emits a health-escalation event at depth 0 and lets the
// topology route it, so the escalation node stays subject to the governor.
type EventEscalator struct {
	Emitter Emitter
}

// Escalate emits the escalation event.
func (x *EventEscalator) Escalate(ctx context.Context, e Escalation) error {
	return x.Emitter.Emit(ctx, protocol.EventHealthEscalation, e.Payload(), 0)
}
