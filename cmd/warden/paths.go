package main

import (
	"fmt"
	"os"
	"path/filepath"

	"warden/pkg/protocol"
)

// Paths holds all resolved warden state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home         string // ~/.warden or WARDEN_HOME
	ConfigPath   string // warden.toml or WARDEN_CONFIG
	StateDBPath  string // state.db or WARDEN_DB_PATH
	TopologyPath string // topology.yaml or WARDEN_TOPOLOGY
	InboxDir     string // inbox/ (respects WARDEN_HOME)
}

// ResolvePaths returns all warden paths, respecting env var overrides.
// Environment variables:
//   - WARDEN_HOME: base directory for all warden state (default: ~/.warden)
//   - WARDEN_CONFIG: configuration file (default: $WARDEN_HOME/warden.toml)
//   - WARDEN_DB_PATH: state database (default: $WARDEN_HOME/state.db)
//   - WARDEN_TOPOLOGY: topology document (default: $WARDEN_HOME/topology.yaml)
//
// Specific env vars override both the default and the WARDEN_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveWardenHome()
	if err != nil {
		return nil, err
	}
	return &Paths{
		Home:         home,
		ConfigPath:   resolvePathWithEnv("WARDEN_CONFIG", home, "warden.toml"),
		StateDBPath:  resolvePathWithEnv("WARDEN_DB_PATH", home, "state.db"),
		TopologyPath: resolvePathWithEnv("WARDEN_TOPOLOGY", home, "topology.yaml"),
		InboxDir:     filepath.Join(home, protocol.InboxDir),
	}, nil
}

// resolveWardenHome returns WARDEN_HOME or ~/.warden.
func resolveWardenHome() (string, error) {
	if v := os.Getenv("WARDEN_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.WardenDir), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
