// Package dispatcher routes events to agent nodes. Every event passes the
// loop guard first, is matched against the topology's routing table, and
// each target whose condition holds is gated by the governor before an
// invocation is launched. Follow-up events printed by an invocation re-enter
// dispatch one hop deeper.
//
// Dispatch never queues: a busy node or an exhausted daily cap drops the
// event with a logged reason, and the node's own schedule is the recovery
// path.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/pkg/eventlog"
	"warden/pkg/executor"
	"warden/pkg/governor"
	"warden/pkg/loopguard"
	"warden/pkg/protocol"
	"warden/pkg/topology"
)

// Rejection and skip reasons.
const (
	ReasonChainDepth   = "chain depth exceeded"
	ReasonBadDepth     = "invalid chain depth"
	ReasonUnknownEvent = "unknown event type"
	ReasonNoRoute      = "no route for event"
	ReasonNoTarget     = "no target accepted the event"
	ReasonCondition    = "condition not met"
	ReasonConditionErr = "condition error"
	ReasonBusy         = "node busy"
	ReasonCap          = "daily cap reached"
	ReasonGovernorErr  = "governor error"
)

// Event log types written by the dispatcher.
const (
	logDepthExceeded = "chain_depth_exceeded"
	logUnknownEvent  = "unknown_event"
	logSkipCondition = "skipped_condition"
	logSkipBusy      = "skipped_busy"
	logSkipCap       = "skipped_cap"
	logSkipError     = "skipped_error"
	logStarted       = "invocation_started"
	logFinished      = "invocation_"
	logReleaseError  = "release_error"
	logScheduleFired = "schedule_fired"
)

// --- Config ---

// Config holds Dispatcher configuration.
type Config struct {
	InboxDir             string        // Directory watched for wire events; empty disables the inbox.
	FallbackPollInterval time.Duration // Inbox poll safety net under fsnotify (default 60s).
	DefaultTimeout       time.Duration // Invocation timeout for nodes without one (default 30m).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FallbackPollInterval == 0 {
		out.FallbackPollInterval = 60 * time.Second
	}
	if out.DefaultTimeout == 0 {
		out.DefaultTimeout = 30 * time.Minute
	}
	return out
}

// --- Results ---

// Launch is one invocation started by a dispatch.
type Launch struct {
	Node         string `json:"node"`
	InvocationID string `json:"invocation_id"`
}

// Skip is a target that did not run.
type Skip struct {
	Node   string `json:"node"`
	Reason string `json:"reason"`
}

// Result is the outcome of dispatching one event. Accepted means at least
// one invocation was launched.
type Result struct {
	Accepted    bool     `json:"accepted"`
	Reason      string   `json:"reason,omitempty"`
	Invocations []Launch `json:"invocations,omitempty"`
	Skipped     []Skip   `json:"skipped,omitempty"`
}

// NotDeliveredError reports an emitted event that launched no invocation:
// it had no route, or every target was skipped.
type NotDeliveredError struct {
	EventType string
	Reason    string
	Skipped   []Skip
}

func (e *NotDeliveredError) Error() string {
	if len(e.Skipped) == 0 {
		return fmt.Sprintf("event %s not delivered: %s", e.EventType, e.Reason)
	}
	parts := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		parts[i] = s.Node + ": " + s.Reason
	}
	return fmt.Sprintf("event %s not delivered: %s (%s)", e.EventType, e.Reason, strings.Join(parts, ", "))
}

// IsNotDelivered reports whether err is or wraps a *NotDeliveredError.
func IsNotDelivered(err error) bool {
	var nd *NotDeliveredError
	return errors.As(err, &nd)
}

// --- Dispatcher ---

// Dispatcher routes events to nodes.
type Dispatcher struct {
	cfg  Config
	topo *topology.Topology
	gov  *governor.Governor
	exec executor.Executor
	cond ConditionEvaluator
	rec  eventlog.Recorder

	wg sync.WaitGroup
}

// New creates a Dispatcher. cond may be nil, in which case only
// payload-level conditions can be evaluated. rec may be nil to skip the
// event log.
func New(cfg Config, topo *topology.Topology, gov *governor.Governor, exec executor.Executor, cond ConditionEvaluator, rec eventlog.Recorder) *Dispatcher {
	if cond == nil {
		cond = &TrackerConditions{}
	}
	if rec == nil {
		rec = eventlog.Discard
	}
	return &Dispatcher{
		cfg:  cfg.withDefaults(),
		topo: topo,
		gov:  gov,
		exec: exec,
		cond: cond,
		rec:  rec,
	}
}

// Dispatch routes ev. Rejections are reported in the Result, never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, ev protocol.Event) Result {
	res, _ := d.dispatch(ctx, ev)
	return res
}

// Emit dispatches a new event at depth. Unlike Dispatch it reports an
// event that started nothing as an error: a *loopguard.DepthExceededError,
// a *protocol.UnknownEventError, or a *NotDeliveredError when no route or
// target took it.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, payload map[string]any, depth int) error {
	res, err := d.dispatch(ctx, protocol.NewEvent(eventType, depth, payload))
	if err != nil {
		return err
	}
	if !res.Accepted {
		return &NotDeliveredError{EventType: eventType, Reason: res.Reason, Skipped: res.Skipped}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev protocol.Event) (Result, error) {
	depth := ev.Payload.ChainDepth
	if err := loopguard.CheckDepth(depth, d.topo.ChainDepthMax()); err != nil {
		reason := ReasonChainDepth
		if !loopguard.IsDepthExceeded(err) {
			reason = ReasonBadDepth
		}
		slog.Warn("event rejected", "event", ev.Type, "depth", depth, "reason", reason)
		d.logEvent(ctx, logDepthExceeded, "", "", map[string]any{
			"event": ev.Type, "chain_depth": depth, "max": d.topo.ChainDepthMax(),
		})
		return Result{Reason: reason}, err
	}

	if _, ok := d.topo.Event(ev.Type); !ok {
		slog.Warn("event rejected", "event", ev.Type, "reason", ReasonUnknownEvent)
		d.logEvent(ctx, logUnknownEvent, "", "", map[string]any{"event": ev.Type})
		return Result{Reason: ReasonUnknownEvent}, &protocol.UnknownEventError{EventType: ev.Type}
	}

	routes := d.topo.Routes(ev.Type)
	if len(routes) == 0 {
		slog.Info("event has no route", "event", ev.Type)
		return Result{Reason: ReasonNoRoute}, nil
	}

	var res Result
	seen := make(map[string]bool, len(routes))
	for _, route := range routes {
		if seen[route.Target] {
			continue
		}

		ok, err := d.cond.Evaluate(ctx, route.Condition, ev)
		if err != nil {
			slog.Warn("condition failed", "event", ev.Type, "node", route.Target, "condition", route.Condition, "error", err)
			d.logEvent(ctx, logSkipError, route.Target, "", map[string]any{
				"event": ev.Type, "condition": route.Condition, "error": err.Error(),
			})
			res.Skipped = append(res.Skipped, Skip{Node: route.Target, Reason: ReasonConditionErr})
			continue
		}
		if !ok {
			d.logEvent(ctx, logSkipCondition, route.Target, "", map[string]any{
				"event": ev.Type, "condition": route.Condition,
			})
			res.Skipped = append(res.Skipped, Skip{Node: route.Target, Reason: ReasonCondition})
			continue
		}
		seen[route.Target] = true

		node, err := d.topo.Node(route.Target)
		if err != nil {
			// Validated topologies only route to existing nodes.
			return res, fmt.Errorf("route %s -> %s: %w", ev.Type, route.Target, err)
		}
		launch, skip := d.launch(ctx, node, ev)
		if skip != nil {
			res.Skipped = append(res.Skipped, *skip)
			continue
		}
		res.Invocations = append(res.Invocations, launch)
	}

	res.Accepted = len(res.Invocations) > 0
	if !res.Accepted {
		res.Reason = ReasonNoTarget
	}
	return res, nil
}

// Trigger launches the scheduled run of node key, bypassing routing. The
// governor still applies.
func (d *Dispatcher) Trigger(ctx context.Context, key string) (Result, error) {
	node, err := d.topo.Node(key)
	if err != nil {
		return Result{}, err
	}
	ev := protocol.NewEvent(protocol.EventSchedule, 0, map[string]any{"node": key})
	d.logEvent(ctx, logScheduleFired, key, "", nil)

	launch, skip := d.launch(ctx, node, ev)
	if skip != nil {
		return Result{Reason: skip.Reason, Skipped: []Skip{*skip}}, nil
	}
	return Result{Accepted: true, Invocations: []Launch{launch}}, nil
}

// Wait blocks until every launched invocation has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// leaseGrace is added to the invocation timeout so the slot outlives the
// run and the release that follows it.
const leaseGrace = time.Minute

// launch acquires the node's slot and starts the invocation in the
// background. A denied or failed acquire is returned as a Skip.
func (d *Dispatcher) launch(ctx context.Context, node topology.Node, ev protocol.Event) (Launch, *Skip) {
	key := node.Key()
	timeout := node.TimeoutOr(d.cfg.DefaultTimeout)
	denial, err := d.gov.AcquireFor(ctx, key, node.DailyCap, timeout+leaseGrace)
	switch {
	case err != nil:
		slog.Error("acquire failed", "node", key, "error", err)
		d.logEvent(ctx, logSkipError, key, "", map[string]any{"event": ev.Type, "error": err.Error()})
		return Launch{}, &Skip{Node: key, Reason: ReasonGovernorErr}
	case denial == governor.DeniedBusy:
		slog.Info("node busy, event dropped", "node", key, "event", ev.Type)
		d.logEvent(ctx, logSkipBusy, key, "", map[string]any{"event": ev.Type})
		return Launch{}, &Skip{Node: key, Reason: ReasonBusy}
	case denial == governor.DeniedCap:
		slog.Info("daily cap reached, event dropped", "node", key, "event", ev.Type, "cap", node.DailyCap)
		d.logEvent(ctx, logSkipCap, key, "", map[string]any{"event": ev.Type, "daily_cap": node.DailyCap})
		return Launch{}, &Skip{Node: key, Reason: ReasonCap}
	}

	inv := executor.Invocation{
		ID:         uuid.New().String(),
		Role:       node.Role,
		Job:        node.Job,
		Capability: executor.Capability(node.Capability),
		Event:      ev.Type,
		ChainDepth: ev.Payload.ChainDepth,
		Payload:    ev.Payload.Extra,
		Timeout:    timeout,
	}
	slog.Info("invocation started", "node", key, "event", ev.Type, "id", inv.ID, "depth", inv.ChainDepth)
	d.logEvent(ctx, logStarted, key, inv.ID, map[string]any{"event": ev.Type, "chain_depth": inv.ChainDepth})

	d.wg.Add(1)
	go d.run(context.WithoutCancel(ctx), key, inv)
	return Launch{Node: key, InvocationID: inv.ID}, nil
}

// run executes inv under its timeout, releases the node and dispatches the
// follow-ups one hop deeper. The invocation is not tied to the caller's
// cancellation; only its timeout ends it early.
func (d *Dispatcher) run(ctx context.Context, key string, inv executor.Invocation) {
	defer d.wg.Done()

	invCtx, cancel := context.WithTimeout(ctx, inv.Timeout)
	res := d.exec.Invoke(invCtx, inv)
	cancel()

	if err := d.gov.Release(ctx, key); err != nil {
		slog.Error("release failed", "node", key, "id", inv.ID, "error", err)
		d.logEvent(ctx, logReleaseError, key, inv.ID, err.Error())
	}

	payload := map[string]any{
		"event":      inv.Event,
		"duration":   res.Duration.String(),
		"follow_ups": len(res.FollowUps),
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	status := res.Status
	if status == "" {
		status = executor.StatusFailed
	}
	d.logEvent(ctx, logFinished+string(status), key, inv.ID, payload)
	if status != executor.StatusSucceeded {
		slog.Warn("invocation did not succeed", "node", key, "id", inv.ID, "status", status, "error", res.Err)
		return
	}
	slog.Info("invocation finished", "node", key, "id", inv.ID, "follow_ups", len(res.FollowUps))

	next := loopguard.Next(inv.ChainDepth)
	for _, fu := range res.FollowUps {
		_, err := d.dispatch(ctx, protocol.NewEvent(fu.Event, next, fu.Payload))
		var unknown *protocol.UnknownEventError
		if errors.As(err, &unknown) {
			slog.Warn("follow-up names an undeclared event", "node", key, "event", fu.Event)
		}
	}
}

// logEvent records a dispatcher decision. Failures are logged, not returned.
func (d *Dispatcher) logEvent(ctx context.Context, evType, node, invocationID string, payload any) {
	err := d.rec.Record(ctx, eventlog.Entry{
		Type:         evType,
		Source:       "dispatcher",
		Node:         node,
		InvocationID: invocationID,
		Payload:      payload,
	})
	if err != nil {
		slog.Warn("record event", "type", evType, "error", err)
	}
}
