package protocol

import "fmt"

// UnknownEventError is returned when an event type is not declared in the
// topology's event registry.
type UnknownEventError struct {
	EventType string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}

// NodeNotFoundError represents a lookup of an agent node that the topology
// does not define.
type NodeNotFoundError struct {
	Key string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("agent node %s not found", e.Key)
}

// MalformedEventError represents a wire event that could not be decoded.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed dispatch event: " + e.Reason
}
