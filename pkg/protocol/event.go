package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// chainDepthKey is the payload field carrying the hop counter on the wire.
const chainDepthKey = "chain_depth"

// Event is a dispatch trigger. On the wire it has the form
//
//	{"event_type": "<type>", "client_payload": {"chain_depth": N, ...}}
//
// Events are values; callers never mutate one after it is created.
type Event struct {
	Type    string
	Payload Payload
}

// Payload is the client payload of an event: the chain depth plus any
// number of extra fields that are passed through to the invocation.
type Payload struct {
	ChainDepth int
	Extra      map[string]any
}

// NewEvent builds an event with a copy of extra.
func NewEvent(eventType string, chainDepth int, extra map[string]any) Event {
	return Event{
		Type: eventType,
		Payload: Payload{
			ChainDepth: chainDepth,
			Extra:      maps.Clone(extra),
		},
	}
}

// Get returns an extra payload field.
func (p Payload) Get(key string) (any, bool) {
	v, ok := p.Extra[key]
	return v, ok
}

// Int returns an extra payload field as an int. JSON numbers decode as
// float64, so both representations are accepted.
func (p Payload) Int(key string) (int, bool) {
	switch v := p.Extra[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// MarshalJSON flattens ChainDepth and Extra into one object.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+1)
	for k, v := range p.Extra {
		out[k] = v
	}
	out[chainDepthKey] = p.ChainDepth
	return json.Marshal(out)
}

// UnmarshalJSON splits chain_depth out of the payload object. A missing
// chain_depth means the event originates from a human or schedule trigger
// and has depth 0.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return &MalformedEventError{Reason: err.Error()}
	}

	p.ChainDepth = 0
	if v, ok := raw[chainDepthKey]; ok {
		n, ok := v.(json.Number)
		if !ok {
			return &MalformedEventError{Reason: fmt.Sprintf("chain_depth must be an integer, got %T", v)}
		}
		depth, err := n.Int64()
		if err != nil {
			return &MalformedEventError{Reason: fmt.Sprintf("chain_depth must be an integer, got %s", n)}
		}
		if depth < 0 {
			return &MalformedEventError{Reason: "chain_depth must not be negative"}
		}
		p.ChainDepth = int(depth)
		delete(raw, chainDepthKey)
	}
	p.Extra = normalizeNumbers(raw)
	return nil
}

// normalizeNumbers converts json.Number leaves to int (when integral) or
// float64 so downstream code never sees the decoder's intermediate type.
func normalizeNumbers(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		return normalizeNumbers(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

type wireEvent struct {
	EventType     string  `json:"event_type"`
	ClientPayload Payload `json:"client_payload"`
}

// MarshalJSON encodes the event in its wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{EventType: e.Type, ClientPayload: e.Payload})
}

// UnmarshalJSON decodes the wire form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		var malformed *MalformedEventError
		if errors.As(err, &malformed) {
			return malformed
		}
		return &MalformedEventError{Reason: err.Error()}
	}
	if strings.TrimSpace(w.EventType) == "" {
		return &MalformedEventError{Reason: "event_type is required"}
	}
	e.Type = w.EventType
	e.Payload = w.ClientPayload
	return nil
}

// DecodeEvent parses one wire event. Every failure is a
// *MalformedEventError, including bytes that are not JSON at all.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		var malformed *MalformedEventError
		if errors.As(err, &malformed) {
			return Event{}, err
		}
		return Event{}, &MalformedEventError{Reason: err.Error()}
	}
	return ev, nil
}
