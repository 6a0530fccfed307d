package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"warden/pkg/eventlog"
)

// State is a step of the remediation state machine:
// Idle → Evaluating → PlaybookAttempt → Resolved | Escalate → Idle.
type State string

// Router states.
const (
	StateIdle            State = "idle"
	StateEvaluating      State = "evaluating"
	StatePlaybookAttempt State = "playbook_attempt"
	StateResolved        State = "resolved"
	StateEscalate        State = "escalate"
)

// ErrNoEscalator is reported when playbooks are exhausted and no escalator
// is configured.
var ErrNoEscalator = errors.New("no escalator configured")

// Route maps findings to an ordered list of playbook names. Pull findings
// match on Subsystem ("" or "*" for any) and Status ("" for any non-green);
// push findings match when AlertKeyword is a case-insensitive substring of
// the alert rule.
type Route struct {
	Subsystem    string   `toml:"subsystem" json:"subsystem,omitempty"`
	Status       Status   `toml:"status" json:"status,omitempty"`
	AlertKeyword string   `toml:"alert_keyword" json:"alert_keyword,omitempty"`
	Playbooks    []string `toml:"playbooks" json:"playbooks"`
}

func (r Route) matches(f Finding) bool {
	if f.AlertRule != "" {
		return r.AlertKeyword != "" &&
			strings.Contains(strings.ToLower(f.AlertRule), strings.ToLower(r.AlertKeyword))
	}
	if r.AlertKeyword != "" {
		return false
	}
	if r.Subsystem != "" && r.Subsystem != "*" && !strings.EqualFold(r.Subsystem, f.Subsystem) {
		return false
	}
	return r.Status == "" || r.Status == f.Status
}

// Attempt is the logged outcome of remediating one finding.
type Attempt struct {
	Finding        Finding  `json:"finding"`
	State          State    `json:"state"`
	PlaybooksTried []string `json:"playbooks_tried"`
	Resolved       bool     `json:"resolved"`
	Escalated      bool     `json:"escalated"`
	Diagnostics    []string `json:"diagnostics,omitempty"`
	Err            error    `json:"-"`
}

// Router dispatches findings to playbooks and escalates when they fail.
type Router struct {
	routes    []Route
	playbooks map[string]Playbook
	escalator Escalator
	recorder  eventlog.Recorder
}

// NewRouter returns a Router. escalator may be nil, in which case an
// unresolved finding is reported with ErrNoEscalator.
func NewRouter(routes []Route, playbooks []Playbook, escalator Escalator) *Router {
	pbs := make(map[string]Playbook, len(playbooks))
	for _, pb := range playbooks {
		pbs[pb.Name()] = pb
	}
	return &Router{
		routes:    routes,
		playbooks: pbs,
		escalator: escalator,
		recorder:  eventlog.Discard,
	}
}

// SetRecorder logs state transitions to rec.
func (r *Router) SetRecorder(rec eventlog.Recorder) {
	if rec == nil {
		rec = eventlog.Discard
	}
	r.recorder = rec
}

// Handle remediates every finding in sig, most severe first. A GREEN report
// produces no attempts.
func (r *Router) Handle(ctx context.Context, sig Signal) []Attempt {
	findings := sig.Findings()
	attempts := make([]Attempt, 0, len(findings))
	for _, f := range findings {
		attempts = append(attempts, r.remediate(ctx, sig, f))
	}
	return attempts
}

// Playbooks returns the playbook names routed to f, in route order without
// duplicates.
func (r *Router) Playbooks(f Finding) []string {
	var names []string
	for _, route := range r.routes {
		if !route.matches(f) {
			continue
		}
		for _, name := range route.Playbooks {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

func (r *Router) remediate(ctx context.Context, sig Signal, f Finding) Attempt {
	a := Attempt{Finding: f, State: StateEvaluating, PlaybooksTried: []string{}}
	r.record(ctx, a, "")
	if f.Detail != "" {
		a.Diagnostics = append(a.Diagnostics, f.Detail)
	}

	names := r.Playbooks(f)
	if len(names) == 0 {
		a.Diagnostics = append(a.Diagnostics, "no playbook routed for this finding")
	}
	for _, name := range names {
		a.State = StatePlaybookAttempt
		a.PlaybooksTried = append(a.PlaybooksTried, name)
		r.record(ctx, a, name)

		pb, ok := r.playbooks[name]
		if !ok {
			a.Diagnostics = append(a.Diagnostics, fmt.Sprintf("playbook %s is not configured", name))
			continue
		}
		if err := pb.Run(ctx, f); err != nil {
			slog.Warn("playbook failed", "playbook", name, "problem", f.Problem, "subsystem", f.Subsystem, "error", err)
			a.Diagnostics = append(a.Diagnostics, fmt.Sprintf("playbook %s: %v", name, err))
			continue
		}
		a.State = StateResolved
		a.Resolved = true
		r.record(ctx, a, name)
		return a
	}

	a.State = StateEscalate
	if r.escalator == nil {
		a.Err = ErrNoEscalator
	} else if err := r.escalator.Escalate(ctx, Escalation{
		Problem:        f.Problem,
		Finding:        f,
		Diagnostics:    a.Diagnostics,
		PlaybooksTried: a.PlaybooksTried,
		Signal:         sig,
	}); err != nil {
		a.Err = fmt.Errorf("escalate %s: %w", f.Problem, err)
	} else {
		a.Escalated = true
	}
	r.record(ctx, a, "")
	return a
}

func (r *Router) record(ctx context.Context, a Attempt, playbook string) {
	payload := map[string]any{
		"problem":   a.Finding.Problem,
		"subsystem": a.Finding.Subsystem,
	}
	if playbook != "" {
		payload["playbook"] = playbook
	}
	if a.State == StateEscalate {
		payload["escalated"] = a.Escalated
		if a.Err != nil {
			payload["error"] = a.Err.Error()
		}
	}
	err := r.recorder.Record(ctx, eventlog.Entry{
		Type:    "health_" + string(a.State),
		Source:  "health",
		Payload: payload,
	})
	if err != nil {
		slog.Warn("record health transition", "state", a.State, "error", err)
	}
}
