// Package loopguard bounds automated dispatch cascades.
//
// Every event carries a chain depth: the number of automated hops since the
// originating human or schedule trigger. An agent that dispatches to another
// agent emits its follow-on events at depth+1, so a cycle A → B → A … climbs
// monotonically until CheckDepth rejects it. The check is stateless and is
// the first gate the dispatcher evaluates, before any concurrency slot or
// daily-cap unit is consumed.
package loopguard

import (
	"errors"
	"fmt"
)

// DepthExceededError is returned when an event's chain depth is above the
// configured maximum. It is a deliberate safety stop rather than a failure:
// callers log it and never retry or escalate.
type DepthExceededError struct {
	Depth int
	Max   int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("chain depth exceeded: %d > %d", e.Depth, e.Max)
}

// ErrNegativeDepth rejects a depth that could only come from a malformed event.
var ErrNegativeDepth = errors.New("chain depth must not be negative")

// CheckDepth returns nil when 0 <= depth <= max.
func CheckDepth(depth, max int) error {
	if depth < 0 {
		return ErrNegativeDepth
	}
	if depth > max {
		return &DepthExceededError{Depth: depth, Max: max}
	}
	return nil
}

// Next returns the depth for events emitted by an invocation that was
// triggered at depth.
func Next(depth int) int {
	return depth + 1
}

// IsDepthExceeded reports whether err is (or wraps) a DepthExceededError.
func IsDepthExceeded(err error) bool {
	var de *DepthExceededError
	return errors.As(err, &de)
}
