package topology

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Problem codes.
const (
	CodeSchema            = "schema"
	CodeBadConstant       = "bad_constant"
	CodeDuplicateNode     = "duplicate_node"
	CodeDuplicateEvent    = "duplicate_event"
	CodeMissingField      = "missing_field"
	CodeBadSchedule       = "bad_schedule"
	CodeBadTimeout        = "bad_timeout"
	CodeBadDailyCap       = "bad_daily_cap"
	CodeBadCapability     = "bad_capability"
	CodeBadStatus         = "bad_status"
	CodeUnknownEvent      = "unknown_event"
	CodeUnknownTarget     = "unknown_target"
	CodeUnknownProducer   = "unknown_producer"
	CodeAmbiguousProducer = "ambiguous_producer"
	CodeBadCondition      = "bad_condition"
)

// Problem is one inconsistency in a topology document.
type Problem struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Field == "" {
		return fmt.Sprintf("%s: %s", p.Code, p.Message)
	}
	return fmt.Sprintf("%s: %s: %s", p.Field, p.Code, p.Message)
}

// ValidationError collects every problem found in a topology.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid topology: " + e.Problems[0].String()
	}
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = "  " + p.String()
	}
	return fmt.Sprintf("invalid topology: %d problems:\n%s", len(e.Problems), strings.Join(lines, "\n"))
}

// HasCode reports whether any problem carries code.
func (e *ValidationError) HasCode(code string) bool {
	return slices.ContainsFunc(e.Problems, func(p Problem) bool { return p.Code == code })
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a node schedule. It returns a nil schedule for
// event-driven nodes.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == ScheduleEventDriven {
		return nil, nil
	}
	return cronParser.Parse(spec)
}

// Validate checks the consistency rules of t: unique node keys and event
// names, valid schedules and limits, every edge pointing at a declared event
// and an existing node with a condition the dispatcher can evaluate, and at
// most one canonical producer per event.
func Validate(t *Topology) error {
	var problems []Problem
	add := func(code, field, format string, args ...any) {
		problems = append(problems, Problem{Code: code, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if t.Constants.ChainDepthMax < 0 {
		add(CodeBadConstant, "constants.chain_depth_max", "must be positive, got %d", t.Constants.ChainDepthMax)
	}
	if t.Constants.ReviewRoundsMax < 0 {
		add(CodeBadConstant, "constants.review_rounds_max", "must be positive, got %d", t.Constants.ReviewRoundsMax)
	}

	events := make(map[string]*EventType, len(t.Events))
	for i := range t.Events {
		ev := &t.Events[i]
		field := fmt.Sprintf("events[%d]", i)
		if ev.Name == "" {
			add(CodeMissingField, field+".name", "event name is required")
			continue
		}
		if _, dup := events[ev.Name]; dup {
			add(CodeDuplicateEvent, field+".name", "event %q is declared more than once", ev.Name)
			continue
		}
		events[ev.Name] = ev
		switch ev.Status {
		case "", StatusActive, StatusStub, StatusExternal:
		default:
			add(CodeBadStatus, field+".status", "status %q is not one of active, stub, external", ev.Status)
		}
	}

	roles := make(map[string]bool)
	keys := make(map[string]bool)
	for i, n := range t.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if n.Role == "" {
			add(CodeMissingField, field+".role", "role is required")
			continue
		}
		if keys[n.Key()] {
			add(CodeDuplicateNode, field, "node %q is declared more than once", n.Key())
		}
		keys[n.Key()] = true
		roles[n.Role] = true

		switch {
		case n.Schedule == "":
			add(CodeMissingField, field+".schedule", "schedule is required (cron spec or %q)", ScheduleEventDriven)
		case n.Schedule != ScheduleEventDriven:
			if _, err := ParseSchedule(n.Schedule); err != nil {
				add(CodeBadSchedule, field+".schedule", "%q: %v", n.Schedule, err)
			}
		}
		if n.DailyCap < 0 {
			add(CodeBadDailyCap, field+".daily_cap", "must not be negative, got %d", n.DailyCap)
		}
		if n.Timeout != "" {
			if d, err := time.ParseDuration(n.Timeout); err != nil || d <= 0 {
				add(CodeBadTimeout, field+".timeout", "%q is not a positive duration", n.Timeout)
			}
		}
		switch n.Capability {
		case "", CapReadOnly, CapWrite, CapMultiJob:
		default:
			add(CodeBadCapability, field+".capability", "capability %q is not one of read-only, write, multi-job", n.Capability)
		}
	}

	checkEdge := func(field string, e Edge, checkEvent bool) {
		if checkEvent {
			if e.Event == "" {
				add(CodeMissingField, field+".event", "event is required")
			} else if _, ok := events[e.Event]; !ok {
				add(CodeUnknownEvent, field+".event", "event %q is not declared in the registry", e.Event)
			}
		}
		if e.Target == "" {
			add(CodeMissingField, field+".target", "target is required")
		} else if len(t.targets(e.Target)) == 0 {
			add(CodeUnknownTarget, field+".target", "target %q matches no node", e.Target)
		}
		if _, err := ParseCondition(e.Condition); err != nil {
			add(CodeBadCondition, field+".condition", "%v", err)
		}
	}

	producers := make(map[string]map[string]bool)
	addProducer := func(event, role string) {
		if producers[event] == nil {
			producers[event] = make(map[string]bool)
		}
		producers[event][role] = true
	}
	for i, n := range t.Nodes {
		for j, e := range n.Dispatch {
			checkEdge(fmt.Sprintf("nodes[%d].dispatch[%d]", i, j), e, true)
			if e.Event != "" && n.Role != "" {
				addProducer(e.Event, n.Role)
			}
		}
	}
	for i, ev := range t.Events {
		for j, e := range ev.Routes {
			checkEdge(fmt.Sprintf("events[%d].routes[%d]", i, j), e, false)
		}
		if ev.Name != "" && (ev.Status == StatusExternal || len(ev.Routes) > 0) {
			addProducer(ev.Name, ExternalProducer)
		}
	}

	for i, ev := range t.Events {
		if ev.Name == "" || events[ev.Name] != &t.Events[i] {
			continue
		}
		field := fmt.Sprintf("events[%d].producer", i)
		set := producers[ev.Name]
		if ev.Producer != "" {
			if ev.Producer != ExternalProducer && !roles[ev.Producer] {
				add(CodeUnknownProducer, field, "producer %q is not a declared role", ev.Producer)
				continue
			}
			if len(set) > 0 && !set[ev.Producer] {
				add(CodeUnknownProducer, field, "producer %q never emits %q (emitted by %s)", ev.Producer, ev.Name, joinSet(set))
			}
			continue
		}
		if len(set) > 1 {
			add(CodeAmbiguousProducer, field, "event %q is emitted by %s; name the canonical producer", ev.Name, joinSet(set))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func joinSet(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
