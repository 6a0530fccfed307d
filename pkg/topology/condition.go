package topology

import (
	"fmt"
	"strings"
)

// Condition kinds.
const (
	CondAlways     = "always"
	CondLabel      = "label"
	CondOpenIssues = "open-issues"
	CondPayload    = "payload"
)

// Condition is a parsed edge condition.
type Condition struct {
	Kind   string
	Arg    string
	Negate bool
}

// ParseCondition parses an edge condition:
//
//	""  or "always"       always true
//	label:<name>          the PR or issue in the payload carries <name>
//	open-issues[:<label>] the tracker has open issues (with <label>)
//	payload:<key>         the payload field <key> is present and truthy
//
// Any condition may be negated with a leading "!".
func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	var c Condition
	if rest, ok := strings.CutPrefix(s, "!"); ok {
		c.Negate = true
		s = strings.TrimSpace(rest)
	}
	if s == "" || s == CondAlways {
		c.Kind = CondAlways
		return c, nil
	}
	kind, arg, _ := strings.Cut(s, ":")
	c.Kind, c.Arg = kind, strings.TrimSpace(arg)
	switch c.Kind {
	case CondOpenIssues:
		return c, nil
	case CondLabel, CondPayload:
		if c.Arg == "" {
			return Condition{}, fmt.Errorf("condition %q: %s needs an argument", s, c.Kind)
		}
		return c, nil
	}
	return Condition{}, fmt.Errorf("unknown condition %q", s)
}
