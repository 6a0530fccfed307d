package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/topology"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Executor.Binary)
	assert.Equal(t, "event", cfg.Health.Escalation.Mode)
	assert.Equal(t, 300, cfg.Risk.MaxDiffLines, "risk defaults not applied")
}

func TestLoadConfig_Sections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.toml")
	writeFile(t, path, `
[tracker]
repo = "acme/widgets"

[executor]
binary = "agent"
model = "fast"
args = ["--quiet"]
timeout = "10m"

[health]
interval = "1m"

[[health.endpoints]]
name = "api"
url = "http://localhost:8080/health"

[[health.routes]]
subsystem = "api"
playbooks = ["restart-api"]

[health.escalation]
mode = "direct"
role = "operator"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", cfg.Tracker.Repo)

	ec := cfg.executorConfig()
	assert.Equal(t, "agent", ec.Binary)
	assert.Equal(t, "fast", ec.Model)
	assert.Equal(t, 10*time.Minute, ec.Timeout)
	assert.Len(t, ec.ExtraArgs, 1)

	require.Len(t, cfg.Health.Endpoints, 1)
	assert.Equal(t, "api", cfg.Health.Endpoints[0].Name)
	require.Len(t, cfg.Health.Routes, 1)
	assert.Equal(t, []string{"restart-api"}, cfg.Health.Routes[0].Playbooks)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "[executor]\nbinnary = \"x\"\n", "binnary"},
		{"bad timeout", "[executor]\ntimeout = \"soon\"\n", "executor.timeout"},
		{"negative interval", "[health]\ninterval = \"-1m\"\n", "health.interval"},
		{"bad mode", "[health.escalation]\nmode = \"pager\"\n", "health.escalation.mode"},
		{"direct without role", "[health.escalation]\nmode = \"direct\"\n", "role is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "warden.toml")
			writeFile(t, path, tt.content)
			_, err := loadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRiskConfig_ReviewBound(t *testing.T) {
	topo, err := topology.Parse([]byte(strings.Replace(testTopology, "review_rounds_max: 3", "review_rounds_max: 6", 1)))
	require.NoError(t, err)

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.riskConfig(topo).ReviewRoundsMax)
	assert.Zero(t, cfg.riskConfig(nil).ReviewRoundsMax, "engine default applies without a topology")

	path := filepath.Join(t.TempDir(), "warden.toml")
	writeFile(t, path, "[risk]\nreview_rounds_max = 4\n")
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.riskConfig(topo).ReviewRoundsMax)
}
