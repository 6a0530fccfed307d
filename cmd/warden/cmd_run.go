package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"warden/pkg/governor"
	"warden/pkg/health"
)

// countRetention is how long daily invocation counts are kept.
const countRetention = 30 * 24 * time.Hour

// newRunCmd creates the "warden run" subcommand: the long-running daemon.
func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher daemon",
		Long: "Runs cron-scheduled nodes, dispatches wire events dropped into the inbox\n" +
			"directory, and, when [health] interval is set, runs periodic pull health checks.\n" +
			"Stops on SIGINT/SIGTERM after in-flight invocations finish.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close()

			if n, err := a.store.Prune(ctx, time.Now().Add(-countRetention)); err != nil {
				slog.Warn("prune invocation counts", "error", err)
			} else if n > 0 {
				slog.Info("pruned invocation counts", "rows", n)
			}

			if a.cfg.Health.Interval != "" && len(a.cfg.Health.Endpoints) > 0 {
				router, err := a.healthRouter()
				if err != nil {
					return err
				}
				interval, _ := time.ParseDuration(a.cfg.Health.Interval)
				checker := health.NewChecker(a.cfg.Health.Endpoints, nil, 0)
				go healthLoop(ctx, checker, router, interval)
			}

			slog.Info("warden starting", "topology", a.paths.TopologyPath, "db", a.paths.StateDBPath)
			err = a.disp.Run(ctx)
			logGroups(context.WithoutCancel(ctx), a.gov)
			return err
		},
	}
}

// logGroups reports the day's counts for every group seen by this run.
func logGroups(ctx context.Context, gov *governor.Governor) {
	groups, err := gov.Snapshot(ctx)
	if err != nil {
		slog.Warn("governor snapshot", "error", err)
		return
	}
	for _, grp := range groups {
		slog.Info("node summary", "node", grp.Key, "completed_today", grp.CompletedToday, "active", grp.Active)
	}
}

// healthLoop runs a pull check every interval and remediates what it finds.
func healthLoop(ctx context.Context, c *health.Checker, r *health.Router, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := c.Check(ctx)
			for _, a := range r.Handle(ctx, health.PullSignal(report)) {
				slog.Info("health remediation", "problem", a.Finding.Problem, "subsystem", a.Finding.Subsystem,
					"state", a.State, "playbooks", a.PlaybooksTried, "error", a.Err)
			}
		}
	}
}
