package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"warden/pkg/protocol"
	"warden/pkg/topology"
	"warden/pkg/worktracker"
)

// ConditionEvaluator decides whether an edge condition holds for an event.
// Conditions are evaluated against fresh state on every dispatch.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, condition string, ev protocol.Event) (bool, error)
}

// Tracker is the slice of the work tracker that conditions read.
type Tracker interface {
	HasLabel(ctx context.Context, n int, label string) (bool, error)
	OpenIssues(ctx context.Context, label string) ([]worktracker.Issue, error)
}

// ErrNoTracker is returned for tracker conditions when no tracker is set.
var ErrNoTracker = errors.New("condition needs a work tracker")

// TrackerConditions evaluates conditions against the event payload and,
// for label and open-issues conditions, the work tracker.
type TrackerConditions struct {
	Tracker Tracker
}

// Evaluate implements ConditionEvaluator.
func (tc *TrackerConditions) Evaluate(ctx context.Context, s string, ev protocol.Event) (bool, error) {
	c, err := topology.ParseCondition(s)
	if err != nil {
		return false, err
	}
	ok, err := tc.eval(ctx, c, ev)
	if err != nil {
		return false, err
	}
	return ok != c.Negate, nil
}

func (tc *TrackerConditions) eval(ctx context.Context, c topology.Condition, ev protocol.Event) (bool, error) {
	switch c.Kind {
	case topology.CondAlways:
		return true, nil
	case topology.CondPayload:
		v, ok := ev.Payload.Get(c.Arg)
		return ok && truthy(v), nil
	}

	if tc.Tracker == nil {
		return false, ErrNoTracker
	}
	switch c.Kind {
	case topology.CondLabel:
		n, ok := itemNumber(ev.Payload)
		if !ok {
			return false, fmt.Errorf("label:%s: event carries no pr or issue number", c.Arg)
		}
		return tc.Tracker.HasLabel(ctx, n, c.Arg)
	default:
		issues, err := tc.Tracker.OpenIssues(ctx, c.Arg)
		if err != nil {
			return false, err
		}
		return len(issues) > 0, nil
	}
}

// itemNumber finds the work item an event is about.
func itemNumber(p protocol.Payload) (int, bool) {
	for _, key := range []string{"pr", "issue", "number"} {
		if n, ok := p.Int(key); ok && n > 0 {
			return n, true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
