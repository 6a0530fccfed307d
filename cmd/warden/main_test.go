package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopology = `constants:
  chain_depth_max: 2
  review_rounds_max: 3
events:
  - name: pr-opened
    status: external
    routes:
      - target: reviewer
  - name: fix-needed
    status: active
  - name: review-requested
    status: active
  - name: health-escalation
    status: external
    routes:
      - target: operator
nodes:
  - role: reviewer
    schedule: event-driven
    daily_cap: 5
    dispatch:
      - event: fix-needed
        target: builder
  - role: builder
    schedule: event-driven
    capability: write
    dispatch:
      - event: review-requested
        target: reviewer
        condition: "payload:ready"
  - role: operator
    schedule: "@hourly"
    capability: multi-job
`

// setupHome points WARDEN_HOME at a temp dir holding a topology and a
// config whose executor is /bin/true-like, and returns the dir.
func setupHome(t *testing.T, extraConfig string) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("WARDEN_HOME", dir)
	t.Setenv("WARDEN_CONFIG", "")
	t.Setenv("WARDEN_DB_PATH", "")
	t.Setenv("WARDEN_TOPOLOGY", "")

	writeFile(t, filepath.Join(dir, "topology.yaml"), testTopology)
	writeFile(t, filepath.Join(dir, "warden.toml"), "[executor]\nbinary = \"true\"\n"+extraConfig)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// runCmd executes the root command with args and returns stdout.
func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "warden "), "got %q", out)
}

func TestRootRejectsUnknownLogFormat(t *testing.T) {
	setupHome(t, "")
	_, err := runCmd(t, "", "--log-format", "xml", "version")
	assert.Error(t, err)
}
