package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"warden/pkg/health"
)

// newHealthCmd creates the "warden health" command group.
func newHealthCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Pull health checks and push alerts",
	}
	cmd.AddCommand(newHealthCheckCmd(g), newHealthAlertCmd(g))
	return cmd
}

func newHealthCheckCmd(g *globalFlags) *cobra.Command {
	var (
		reportFile string
		remediate  bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe configured endpoints and print the health report",
		Long: "Probes every [[health.endpoints]] entry (or reads a report with --report, - for stdin)\n" +
			"and prints {checked_at, overall, subsystems}. With --remediate, non-green findings are\n" +
			"routed to playbooks and escalated when none resolves them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, conf, err := g.resolve()
			if err != nil {
				return err
			}

			var report health.Report
			if reportFile != "" {
				data, err := stdinOr(cmd, reportFile)
				if err != nil {
					return err
				}
				if report, err = health.ParseReport(data); err != nil {
					return err
				}
			} else {
				if len(conf.Health.Endpoints) == 0 {
					return errors.New("no [[health.endpoints]] configured; use --report")
				}
				report = health.NewChecker(conf.Health.Endpoints, nil, 0).Check(cmd.Context())
			}

			if asJSON && !remediate {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			p := newPrinter(cmd.OutOrStdout())
			if !asJSON {
				printReport(p, report)
			}
			if !remediate {
				return nil
			}
			return remediateSignal(cmd.Context(), g, p, health.PullSignal(report), asJSON)
		},
	}

	cmd.Flags().StringVar(&reportFile, "report", "", "health report JSON instead of probing, - for stdin")
	cmd.Flags().BoolVar(&remediate, "remediate", false, "run playbooks for non-green findings")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHealthAlertCmd(g *globalFlags) *cobra.Command {
	var (
		raw    string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "alert <alert-rule>",
		Short: "Remediate a pushed monitoring alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig := health.PushSignal(health.Alert{Rule: args[0], Raw: raw})
			return remediateSignal(cmd.Context(), g, newPrinter(cmd.OutOrStdout()), sig, asJSON)
		},
	}

	cmd.Flags().StringVar(&raw, "raw", "", "raw alert text passed along as diagnostics")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// remediateSignal routes sig and reports each attempt. An escalation that
// could not be delivered makes the command fail.
func remediateSignal(ctx context.Context, g *globalFlags, p *printer, sig health.Signal, asJSON bool) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	router, err := a.healthRouter()
	if err != nil {
		return err
	}
	attempts := router.Handle(ctx, sig)
	a.disp.Wait()

	var failed []string
	for _, at := range attempts {
		if at.Err != nil {
			failed = append(failed, at.Err.Error())
		}
	}
	if asJSON {
		if err := writeJSON(p.w, attemptsJSON(attempts)); err != nil {
			return err
		}
	} else {
		if len(attempts) == 0 {
			p.println(p.good("healthy: nothing to do"))
		}
		for _, at := range attempts {
			name := at.Finding.Subsystem
			if name == "" {
				name = at.Finding.AlertRule
			}
			p.printf("%s %s (%s) playbooks=[%s]\n", p.level(string(at.State)), name, at.Finding.Problem, strings.Join(at.PlaybooksTried, ", "))
			if at.Err != nil {
				p.printf("  %s\n", p.bad(at.Err.Error()))
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("escalation failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

// attemptsJSON adds the error text, which Attempt does not marshal.
func attemptsJSON(attempts []health.Attempt) []map[string]any {
	out := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		m := map[string]any{
			"finding":         a.Finding,
			"state":           a.State,
			"playbooks_tried": a.PlaybooksTried,
			"resolved":        a.Resolved,
			"escalated":       a.Escalated,
			"diagnostics":     a.Diagnostics,
		}
		if a.Err != nil {
			m["error"] = a.Err.Error()
		}
		out = append(out, m)
	}
	return out
}

func printReport(p *printer, r health.Report) {
	p.printf("%s %s  %s\n", p.title("overall"), p.level(string(r.Overall)), p.muted(r.CheckedAt.Format("2006-01-02 15:04:05Z")))
	names := make([]string, 0, len(r.Subsystems))
	for name := range r.Subsystems {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := r.Subsystems[name]
		line := fmt.Sprintf("  %-20s %s", name, p.level(string(s.Status)))
		if s.Problem != "" {
			line += " " + s.Problem
		}
		if s.Detail != "" {
			line += " " + p.muted(s.Detail)
		}
		p.println(line)
	}
}
