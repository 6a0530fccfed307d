package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"warden/pkg/executor"
	"warden/pkg/health"
	"warden/pkg/risk"
	"warden/pkg/topology"
)

// Config is the contents of warden.toml. Every section is optional.
type Config struct {
	Paths    PathsConfig    `toml:"paths"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Executor ExecutorConfig `toml:"executor"`
	Risk     risk.Config    `toml:"risk"`
	Health   HealthConfig   `toml:"health"`
}

// PathsConfig overrides the resolved state paths.
type PathsConfig struct {
	Topology string `toml:"topology"`
	StateDB  string `toml:"state_db"`
	Inbox    string `toml:"inbox"`
}

// TrackerConfig selects the GitHub repository used as work tracker.
type TrackerConfig struct {
	Repo string `toml:"repo"` // owner/name; empty uses the current checkout
}

// ExecutorConfig configures the agent subprocess.
type ExecutorConfig struct {
	Binary  string   `toml:"binary"`
	Model   string   `toml:"model"`
	Args    []string `toml:"args"`
	Workdir string   `toml:"workdir"`
	Timeout string   `toml:"timeout"` // default node timeout, e.g. "30m"
}

// HealthConfig configures pull checks and remediation.
type HealthConfig struct {
	Interval   string                  `toml:"interval"` // pull check period under `warden run`; empty disables
	Endpoints  []health.Endpoint       `toml:"endpoints"`
	Routes     []health.Route          `toml:"routes"`
	Playbooks  []health.PlaybookConfig `toml:"playbooks"`
	Escalation EscalationConfig        `toml:"escalation"`
}

// EscalationConfig names the node that receives unresolved problems. In
// "event" mode the escalation is emitted as a health-escalation event and
// routed by the topology; in "direct" mode the node is invoked directly.
type EscalationConfig struct {
	Mode string `toml:"mode"` // "event" (default) or "direct"
	Role string `toml:"role"`
	Job  string `toml:"job"`
}

func (c Config) withDefaults() Config {
	out := c
	if out.Executor.Binary == "" {
		out.Executor.Binary = "claude"
	}
	if out.Health.Escalation.Mode == "" {
		out.Health.Escalation.Mode = "event"
	}
	return out
}

// loadConfig reads path over the defaults. A missing file yields the
// defaults; unknown keys are an error. risk.review_rounds_max stays zero
// unless the file sets it, so riskConfig can take it from the topology.
func loadConfig(path string) (Config, error) {
	cfg := Config{Risk: risk.DefaultConfig()}
	cfg.Risk.ReviewRoundsMax = 0
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg.withDefaults(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("config %s: %s", path, strict.String())
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) validate() error {
	for _, d := range []struct{ key, val string }{
		{"executor.timeout", c.Executor.Timeout},
		{"health.interval", c.Health.Interval},
	} {
		if d.val == "" {
			continue
		}
		if v, err := time.ParseDuration(d.val); err != nil || v <= 0 {
			return fmt.Errorf("%s: %q is not a positive duration", d.key, d.val)
		}
	}
	switch c.Health.Escalation.Mode {
	case "", "event", "direct":
	default:
		return fmt.Errorf("health.escalation.mode: %q is not event or direct", c.Health.Escalation.Mode)
	}
	if c.Health.Escalation.Mode == "direct" && c.Health.Escalation.Role == "" {
		return errors.New("health.escalation.role is required in direct mode")
	}
	return nil
}

// riskConfig returns the risk section with review_rounds_max defaulted to
// the topology's bound, so the skip tier and the review controller agree.
// topo may be nil, leaving the engine default.
func (c Config) riskConfig(topo *topology.Topology) risk.Config {
	rc := c.Risk
	if rc.ReviewRoundsMax <= 0 && topo != nil {
		rc.ReviewRoundsMax = topo.ReviewRoundsMax()
	}
	return rc
}

// executorConfig converts the executor section.
func (c Config) executorConfig() executor.Config {
	timeout, _ := time.ParseDuration(c.Executor.Timeout)
	return executor.Config{
		Binary:    c.Executor.Binary,
		Model:     c.Executor.Model,
		ExtraArgs: c.Executor.Args,
		Workdir:   c.Executor.Workdir,
		Timeout:   timeout,
	}
}

// applyPaths lets [paths] override the environment-resolved locations.
func (c Config) applyPaths(p *Paths) {
	if c.Paths.Topology != "" {
		p.TopologyPath = c.Paths.Topology
	}
	if c.Paths.StateDB != "" {
		p.StateDBPath = c.Paths.StateDB
	}
	if c.Paths.Inbox != "" {
		p.InboxDir = c.Paths.Inbox
	}
}
