package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logFormat  string
	verbose    bool
}

// newRootCmd creates the root warden command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:           "warden",
		Short:         "Agent orchestration control plane",
		Long:          "warden routes events to short-lived agent invocations under a loop guard,\nper-node concurrency and daily caps, and bounded review cycles.",
		Version:       fmt.Sprintf("warden %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd, g)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default $WARDEN_HOME/warden.toml)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newValidateCmd(&g),
		newRenderCmd(&g),
		newDispatchCmd(&g),
		newRunCmd(&g),
		newRiskCmd(&g),
		newReviewCmd(&g),
		newHealthCmd(&g),
		newSimilarCmd(&g),
		newGapsCmd(&g),
		newCapsCmd(&g),
		newClaimCmd(&g),
		newLogsCmd(&g),
		newVersionCmd(),
	)

	return cmd
}

// setupLogging installs the process-wide slog handler on stderr.
func setupLogging(cmd *cobra.Command, g globalFlags) error {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	w := cmd.ErrOrStderr()
	var h slog.Handler
	switch g.logFormat {
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown --log-format %q (want text or json)", g.logFormat)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// resolve returns the state paths and configuration for a command.
func (g *globalFlags) resolve() (*Paths, Config, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, Config{}, fmt.Errorf("resolve paths: %w", err)
	}
	if g.configPath != "" {
		paths.ConfigPath = g.configPath
	}
	cfg, err := loadConfig(paths.ConfigPath)
	if err != nil {
		return nil, Config{}, err
	}
	cfg.applyPaths(paths)
	return paths, cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the warden version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warden %s\n", version.String())
		},
	}
}

// stdinOr opens path, or stdin for "-".
func stdinOr(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
