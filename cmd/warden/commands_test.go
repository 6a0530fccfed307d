package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/dispatcher"
	"warden/pkg/review"
	"warden/pkg/risk"
)

func TestValidateCommand(t *testing.T) {
	dir := setupHome(t, "")

	out, err := runCmd(t, "", "validate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "3 nodes")
	assert.Contains(t, out, "1 scheduled")

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, `events:
  - name: pr-opened
    status: external
    routes:
      - target: ghost
nodes:
  - role: reviewer
    schedule: event-driven
`)
	out, err = runCmd(t, "", "validate", bad)
	require.Error(t, err, "dangling target")
	assert.Contains(t, out, "invalid")
}

func TestValidateCommand_BadCondition(t *testing.T) {
	dir := setupHome(t, "")
	path := filepath.Join(dir, "cond.yaml")
	writeFile(t, path, `events:
  - name: pr-opened
    status: external
    routes:
      - target: reviewer
        condition: "weather:sunny"
nodes:
  - role: reviewer
    schedule: event-driven
`)

	out, err := runCmd(t, "", "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "bad_condition")
	assert.Contains(t, out, "events[0].routes[0].condition")
}

func TestRenderCommand(t *testing.T) {
	setupHome(t, "")

	out, err := runCmd(t, "", "render")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flowchart LR"), "mermaid output starts with %q", firstLine(out))

	out, err = runCmd(t, "", "render", "--format", "dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
}

func TestDispatchCommand_AcceptedThenCountedAndLogged(t *testing.T) {
	setupHome(t, "")

	out, err := runCmd(t, "", "dispatch", "--event", "pr-opened", "--payload", `{"pr": 7}`, "--json")
	require.NoError(t, err)
	var res dispatcher.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.True(t, res.Accepted, "%+v", res)
	require.Len(t, res.Invocations, 1)
	require.Equal(t, "reviewer", res.Invocations[0].Node)

	out, err = runCmd(t, "", "caps", "reviewer", "--json")
	require.NoError(t, err)
	var rows []capRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Completed)
	assert.Equal(t, 5, rows[0].DailyCap)

	out, err = runCmd(t, "", "logs", "--invocation", res.Invocations[0].InvocationID)
	require.NoError(t, err)
	assert.Contains(t, out, "invocation_started")
	assert.Contains(t, out, "invocation_succeeded")
}

func TestDispatchCommand_SlotFreedBetweenRuns(t *testing.T) {
	setupHome(t, "")

	for i := range 2 {
		out, err := runCmd(t, "", "dispatch", "--event", "pr-opened", "--json")
		require.NoError(t, err)
		var res dispatcher.Result
		require.NoError(t, json.Unmarshal([]byte(out), &res), out)
		assert.True(t, res.Accepted, "run %d: %+v", i, res)
	}
}

func TestDispatchCommand_DepthRejected(t *testing.T) {
	setupHome(t, "")

	out, err := runCmd(t, "", "dispatch", "--event", "pr-opened", "--depth", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, dispatcher.ReasonChainDepth)
}

func TestDispatchCommand_WireEventFromStdin(t *testing.T) {
	setupHome(t, "")

	ev := `{"event_type":"pr-opened","client_payload":{"pr":3,"chain_depth":0}}`
	out, err := runCmd(t, ev, "dispatch", "--file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "accepted 1 invocation(s)")
}

func TestDispatchCommand_NeedsInput(t *testing.T) {
	setupHome(t, "")
	_, err := runCmd(t, "", "dispatch")
	assert.Error(t, err, "no --file, --event or --trigger")
}

func TestDispatchCommand_Trigger(t *testing.T) {
	setupHome(t, "")

	out, err := runCmd(t, "", "dispatch", "--trigger", "operator", "--json")
	require.NoError(t, err)
	var res dispatcher.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.True(t, res.Accepted)
	require.Len(t, res.Invocations, 1)
	assert.Equal(t, "operator", res.Invocations[0].Node)
}

type riskReport struct {
	PRNumber       int    `json:"pr_number"`
	RiskLevel      string `json:"risk_level"`
	AutoApprovable bool   `json:"auto_approvable"`
	Flags          []struct {
		Flag string `json:"flag"`
	} `json:"flags"`
}

func (r riskReport) hasFlag(name string) bool {
	for _, f := range r.Flags {
		if f.Flag == name {
			return true
		}
	}
	return false
}

func TestRiskCommand_FailsClosed(t *testing.T) {
	setupHome(t, "")

	out, err := runCmd(t, `{"pr_number": 12}`, "risk", "--stats", "-", "--json")
	require.NoError(t, err)
	var report riskReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, 12, report.PRNumber)
	assert.Equal(t, "high", report.RiskLevel)
	assert.False(t, report.AutoApprovable)
}

func TestRiskCommand_ReviewBoundFromTopology(t *testing.T) {
	dir := setupHome(t, "")
	stats := `{"pr_number": 9, "draft": false, "ci": "passing", "author": "dev",
  "additions": 10, "deletions": 2, "round": 3,
  "files": [{"path": "pkg/a/a.go", "additions": 10, "deletions": 2}]}`

	assess := func() riskReport {
		t.Helper()
		out, err := runCmd(t, stats, "risk", "--stats", "-", "--json")
		require.NoError(t, err)
		var report riskReport
		require.NoError(t, json.Unmarshal([]byte(out), &report), out)
		return report
	}

	// The test topology allows 3 rounds, so round 3 is past the bound.
	assert.True(t, assess().hasFlag(risk.FlagRoundsExceeded))

	writeFile(t, filepath.Join(dir, "topology.yaml"),
		strings.Replace(testTopology, "review_rounds_max: 3", "review_rounds_max: 5", 1))
	assert.False(t, assess().hasFlag(risk.FlagRoundsExceeded), "bound follows the topology")

	// An explicit [risk] setting still wins.
	writeFile(t, filepath.Join(dir, "warden.toml"), "[executor]\nbinary = \"true\"\n[risk]\nreview_rounds_max = 2\n")
	assert.True(t, assess().hasFlag(risk.FlagRoundsExceeded))
}

func TestRiskCommand_NeedsInput(t *testing.T) {
	setupHome(t, "")
	_, err := runCmd(t, "", "risk")
	assert.Error(t, err, "no pr, --stats or --repo")
}

func TestSimilarAndGapsCommands(t *testing.T) {
	dir := setupHome(t, "")
	items := filepath.Join(dir, "items.json")
	writeFile(t, items, `[
  {"id": "#1", "title": "Add retry backoff to webhook delivery"},
  {"id": "#2", "title": "Document the release process"}
]`)

	out, err := runCmd(t, "", "similar", "Add retry backoff to webhook delivery", "--items", items, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"#1"`)
	assert.NotContains(t, out, `"#2"`)

	roadmap := filepath.Join(dir, "ROADMAP.md")
	writeFile(t, roadmap, "# Roadmap\n\n- Add retry backoff to webhook delivery\n- Multi-region failover for the scheduler\n")
	out, err = runCmd(t, "", "gaps", roadmap, "--items", items, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "Multi-region failover")
	assert.NotContains(t, out, `"entry": "Add retry`)
}

func TestParseRoadmap(t *testing.T) {
	got := parseRoadmap([]byte("# Title\n\n- [ ] first\n* second\n  third  \n- [x] fourth\n"))
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, got)
}

func TestHealthCheckCommand_ReportFromStdin(t *testing.T) {
	setupHome(t, "")

	report := `{"checked_at":"2026-01-02T03:04:05Z","overall":"RED","subsystems":{"api":{"status":"RED","problem":"service_unreachable"},"db":{"status":"GREEN"}}}`
	out, err := runCmd(t, report, "health", "check", "--report", "-")
	require.NoError(t, err)
	for _, want := range []string{"overall RED", "api", "service_unreachable", "db"} {
		assert.Contains(t, out, want)
	}
}

func TestHealthCheckCommand_RemediateEscalatesAsEvent(t *testing.T) {
	setupHome(t, "")

	report := `{"checked_at":"2026-01-02T03:04:05Z","overall":"RED","subsystems":{"api":{"status":"RED","problem":"service_unreachable"}}}`
	out, err := runCmd(t, report, "health", "check", "--report", "-", "--remediate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "escalate api")

	out, err = runCmd(t, "", "logs", "--node", "operator")
	require.NoError(t, err)
	assert.Contains(t, out, "invocation_succeeded", "operator was not invoked")
}

func TestHealthCheckCommand_Endpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	setupHome(t, fmt.Sprintf("\n[[health.endpoints]]\nname = \"api\"\nurl = %q\n", srv.URL))

	out, err := runCmd(t, "", "health", "check", "--json")
	require.NoError(t, err)
	var report struct {
		Overall    string                     `json:"overall"`
		Subsystems map[string]json.RawMessage `json:"subsystems"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, "GREEN", report.Overall)
	assert.Contains(t, report.Subsystems, "api")
}

func TestHealthCheckCommand_NoEndpoints(t *testing.T) {
	setupHome(t, "")
	_, err := runCmd(t, "", "health", "check")
	assert.Error(t, err, "no endpoints and no --report")
}

func TestReviewCommand_ForcedDecision(t *testing.T) {
	setupHome(t, "")

	for round := 1; round <= 2; round++ {
		out, err := runCmd(t, "", "review", "42", "request_changes")
		require.NoError(t, err, "round %d: %s", round, out)
		assert.Contains(t, out, "dispatched fix-needed", "round %d", round)
	}

	out, err := runCmd(t, "", "review", "42", "request_changes")
	require.Error(t, err, "third request_changes must be refused")
	assert.Contains(t, out, "refused")

	out, err = runCmd(t, "", "review", "42", "--json")
	require.NoError(t, err)
	var c review.Cycle
	require.NoError(t, json.Unmarshal([]byte(out), &c), out)
	assert.Equal(t, 2, c.Round)
	assert.False(t, c.Terminal)

	_, err = runCmd(t, "", "review", "42", "approve")
	require.NoError(t, err)
	out, err = runCmd(t, "", "review", "--active")
	require.NoError(t, err)
	assert.Contains(t, out, "no active review cycles")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
