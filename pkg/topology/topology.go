// Package topology loads the declarative agent topology: which agent nodes
// exist, when they run, which events they emit and where those events are
// routed. A topology is parsed and validated once at startup and is
// immutable afterwards; the dispatcher resolves routes from the table built
// here rather than looking strings up at dispatch time.
package topology

import (
	"sort"
	"strings"
	"time"

	"warden/pkg/protocol"
)

// ScheduleEventDriven marks a node that only runs when an event routes to it.
const ScheduleEventDriven = "event-driven"

// ExternalProducer names the producer of events that originate outside the
// topology (the automation platform, a human, warden itself).
const ExternalProducer = "external"

// Capability is the tool grant a node's executor runs with.
type Capability string

// Capabilities.
const (
	CapReadOnly Capability = "read-only"
	CapWrite    Capability = "write"
	CapMultiJob Capability = "multi-job"
)

// EventStatus marks how far an event type is implemented.
type EventStatus string

// Event statuses.
const (
	StatusActive   EventStatus = "active"
	StatusStub     EventStatus = "stub"
	StatusExternal EventStatus = "external"
)

// Constants are the topology-wide safety bounds.
type Constants struct {
	ChainDepthMax   int `yaml:"chain_depth_max"`
	ReviewRoundsMax int `yaml:"review_rounds_max"`
}

// Edge says: the owning node may emit Event, and it is delivered to Target
// when Condition holds. Target is "role" (every job of that role) or
// "role/job".
type Edge struct {
	Event     string `yaml:"event"`
	Target    string `yaml:"target"`
	Condition string `yaml:"condition,omitempty"`
}

// Node is one agent role, optionally scoped to a job.
type Node struct {
	Role        string     `yaml:"role"`
	Job         string     `yaml:"job,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Schedule    string     `yaml:"schedule"`
	DailyCap    int        `yaml:"daily_cap,omitempty"`
	Timeout     string     `yaml:"timeout,omitempty"`
	Capability  Capability `yaml:"capability,omitempty"`
	Dispatch    []Edge     `yaml:"dispatch,omitempty"`

	timeout time.Duration
}

// Key is the node's concurrency group key: "role" or "role/job".
func (n Node) Key() string {
	if n.Job == "" {
		return n.Role
	}
	return n.Role + "/" + n.Job
}

// Scheduled reports whether the node runs on a cron schedule.
func (n Node) Scheduled() bool {
	return n.Schedule != "" && n.Schedule != ScheduleEventDriven
}

// TimeoutOr returns the node's parsed timeout, or def when none is set.
func (n Node) TimeoutOr(def time.Duration) time.Duration {
	if n.timeout > 0 {
		return n.timeout
	}
	return def
}

// EventType is one entry of the event registry.
type EventType struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description,omitempty"`
	Status        EventStatus    `yaml:"status"`
	Producer      string         `yaml:"producer,omitempty"`
	PayloadSchema map[string]any `yaml:"payload_schema,omitempty"`
	// Routes deliver an externally produced event. Node-produced events are
	// routed by the producing node's dispatch edges.
	Routes []Edge `yaml:"routes,omitempty"`
}

// Route is one resolved entry of the routing table.
type Route struct {
	Event     string
	Source    string // producing node key, or ExternalProducer
	Target    string // node key
	Condition string
}

// Topology is a validated, immutable topology.
type Topology struct {
	Constants Constants   `yaml:"constants"`
	Events    []EventType `yaml:"events"`
	Nodes     []Node      `yaml:"nodes"`

	nodes  map[string]*Node
	events map[string]*EventType
	routes map[string][]Route
}

// Node returns the node with the given key.
func (t *Topology) Node(key string) (Node, error) {
	n, ok := t.nodes[key]
	if !ok {
		return Node{}, &protocol.NodeNotFoundError{Key: key}
	}
	return *n, nil
}

// Event returns the registry entry for name.
func (t *Topology) Event(name string) (EventType, bool) {
	e, ok := t.events[name]
	if !ok {
		return EventType{}, false
	}
	return *e, true
}

// EventTypes returns the closed set of declared event names, sorted.
func (t *Topology) EventTypes() []string {
	names := make([]string, 0, len(t.events))
	for name := range t.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes returns the routing table entries for eventType in declaration
// order. An undeclared event type has no routes.
func (t *Topology) Routes(eventType string) []Route {
	return t.routes[eventType]
}

// Scheduled returns the nodes that run on a cron schedule.
func (t *Topology) Scheduled() []Node {
	var out []Node
	for _, n := range t.Nodes {
		if n.Scheduled() {
			out = append(out, n)
		}
	}
	return out
}

// ChainDepthMax returns the configured bound, or the default.
func (t *Topology) ChainDepthMax() int {
	if t.Constants.ChainDepthMax > 0 {
		return t.Constants.ChainDepthMax
	}
	return protocol.DefaultChainDepthMax
}

// ReviewRoundsMax returns the configured bound, or the default.
func (t *Topology) ReviewRoundsMax() int {
	if t.Constants.ReviewRoundsMax > 0 {
		return t.Constants.ReviewRoundsMax
	}
	return protocol.DefaultReviewRoundsMax
}

// targets expands an edge target into node keys.
func (t *Topology) targets(target string) []string {
	var keys []string
	for _, n := range t.Nodes {
		if n.Key() == target || (!strings.Contains(target, "/") && n.Role == target) {
			keys = append(keys, n.Key())
		}
	}
	return keys
}

// index builds the lookup maps and the routing table. Validate must have
// accepted the topology first.
func (t *Topology) index() {
	t.nodes = make(map[string]*Node, len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.Capability == "" {
			n.Capability = CapReadOnly
		}
		if n.Timeout != "" {
			n.timeout, _ = time.ParseDuration(n.Timeout)
		}
		t.nodes[n.Key()] = n
	}
	t.events = make(map[string]*EventType, len(t.Events))
	for i := range t.Events {
		ev := &t.Events[i]
		if ev.Status == "" {
			ev.Status = StatusActive
		}
		t.events[ev.Name] = ev
	}

	t.routes = make(map[string][]Route)
	add := func(source string, e Edge) {
		for _, key := range t.targets(e.Target) {
			t.routes[e.Event] = append(t.routes[e.Event], Route{
				Event:     e.Event,
				Source:    source,
				Target:    key,
				Condition: e.Condition,
			})
		}
	}
	for _, ev := range t.Events {
		for _, e := range ev.Routes {
			e.Event = ev.Name
			add(ExternalProducer, e)
		}
	}
	for _, n := range t.Nodes {
		for _, e := range n.Dispatch {
			add(n.Key(), e)
		}
	}
}
