package executor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FollowUpPrefix starts an output line that requests a dispatch:
//
//	DISPATCH: <event-type> [json payload]
const FollowUpPrefix = "DISPATCH:"

var readOnlyTools = []string{
	"Read", "Grep", "Glob",
	"Bash(gh issue view:*)", "Bash(gh issue list:*)",
	"Bash(gh pr view:*)", "Bash(gh pr diff:*)", "Bash(gh pr checks:*)",
}

var writeTools = []string{
	"Edit", "Write",
	"Bash(git:*)", "Bash(gh:*)", "Bash(go:*)", "Bash(make:*)",
}

// AllowedTools returns the comma-separated tool grant for c. Unknown
// capabilities get the read-only grant.
func AllowedTools(c Capability) string {
	tools := append([]string{}, readOnlyTools...)
	switch c {
	case CapWrite:
		tools = append(tools, writeTools...)
	case CapMultiJob:
		tools = append(tools, writeTools...)
		tools = append(tools, "Task")
	}
	return strings.Join(tools, ",")
}

// BuildPrompt assembles the stateless prompt for an invocation. Everything
// the agent knows about why it is running is in here.
func BuildPrompt(inv Invocation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s agent", inv.Role)
	if inv.Job != "" {
		fmt.Fprintf(&b, ", running job %q", inv.Job)
	}
	b.WriteString(". You are stateless: read current state from the work tracker before acting.\n\n")

	b.WriteString("## Trigger\n")
	fmt.Fprintf(&b, "Event: %s\n", inv.Event)
	fmt.Fprintf(&b, "Chain depth: %d\n", inv.ChainDepth)
	if len(inv.Payload) > 0 {
		keys := make([]string, 0, len(inv.Payload))
		for k := range inv.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Payload:\n")
		for _, k := range keys {
			v, err := json.Marshal(inv.Payload[k])
			if err != nil {
				v = []byte(fmt.Sprint(inv.Payload[k]))
			}
			fmt.Fprintf(&b, "  %s: %s\n", k, v)
		}
	}
	if inv.Context != "" {
		b.WriteString("\n## Context\n")
		b.WriteString(strings.TrimSpace(inv.Context))
		b.WriteString("\n")
	}

	b.WriteString("\n## Capability\n")
	switch inv.Capability {
	case CapWrite:
		b.WriteString("You may edit files, push branches and update the tracker.\n")
	case CapMultiJob:
		b.WriteString("You may edit files, update the tracker and delegate sub-tasks.\n")
	default:
		b.WriteString("Read-only: inspect and report, do not modify anything.\n")
	}

	b.WriteString("\n## Handoff\n")
	b.WriteString("To trigger another agent, print one line per request:\n")
	fmt.Fprintf(&b, "%s <event-type> {\"key\": \"value\"}\n", FollowUpPrefix)
	b.WriteString("Only use event types your role is allowed to emit. Do not retry work yourself.\n")
	return b.String()
}

// ParseFollowUps extracts dispatch requests from agent output. Lines with an
// unparseable payload are skipped.
func ParseFollowUps(output string) []FollowUp {
	var out []FollowUp
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest, ok := strings.CutPrefix(line, FollowUpPrefix)
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		event, raw, _ := strings.Cut(rest, " ")
		if event == "" {
			continue
		}
		payload := map[string]any{}
		if raw = strings.TrimSpace(raw); raw != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				slog.Warn("skipping malformed dispatch request", "event", event, "error", err)
				continue
			}
		}
		out = append(out, FollowUp{Event: event, Payload: payload})
	}
	return out
}
