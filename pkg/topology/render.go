package topology

import (
	"fmt"
	"io"
	"strings"
)

// Format selects a graph output syntax.
type Format string

// Render formats.
const (
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
)

// Render writes the dispatch graph of t: one vertex per node (plus one for
// external producers when any event has external routes) and one edge per
// route, labelled with the event type and condition.
func (t *Topology) Render(w io.Writer, format Format) error {
	switch format {
	case FormatMermaid, "":
		return t.renderMermaid(w)
	case FormatDOT:
		return t.renderDOT(w)
	}
	return fmt.Errorf("unknown render format %q (want mermaid or dot)", format)
}

func (t *Topology) allRoutes() []Route {
	var out []Route
	for _, name := range t.EventTypes() {
		out = append(out, t.routes[name]...)
	}
	return out
}

func (t *Topology) hasExternal() bool {
	for _, r := range t.allRoutes() {
		if r.Source == ExternalProducer {
			return true
		}
	}
	return false
}

func edgeLabel(r Route) string {
	if r.Condition == "" {
		return r.Event
	}
	return fmt.Sprintf("%s [%s]", r.Event, r.Condition)
}

func mermaidID(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return "n_" + b.String()
}

func (t *Topology) renderMermaid(w io.Writer) error {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	if t.hasExternal() {
		fmt.Fprintf(&b, "    %s((%s))\n", mermaidID(ExternalProducer), ExternalProducer)
	}
	for _, n := range t.Nodes {
		fmt.Fprintf(&b, "    %s[\"%s<br/>%s\"]\n", mermaidID(n.Key()), n.Key(), n.Schedule)
	}
	for _, r := range t.allRoutes() {
		label := strings.ReplaceAll(edgeLabel(r), `"`, "'")
		fmt.Fprintf(&b, "    %s -->|\"%s\"| %s\n", mermaidID(r.Source), label, mermaidID(r.Target))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Topology) renderDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph topology {\n    rankdir=LR;\n    node [shape=box];\n")
	if t.hasExternal() {
		fmt.Fprintf(&b, "    %q [shape=ellipse];\n", ExternalProducer)
	}
	for _, n := range t.Nodes {
		fmt.Fprintf(&b, "    %q [label=%q];\n", n.Key(), n.Key()+"\n"+n.Schedule)
	}
	for _, r := range t.allRoutes() {
		fmt.Fprintf(&b, "    %q -> %q [label=%q];\n", r.Source, r.Target, edgeLabel(r))
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
