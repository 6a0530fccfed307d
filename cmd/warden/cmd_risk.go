package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warden/pkg/review"
	"warden/pkg/risk"
	"warden/pkg/topology"
	"warden/pkg/worktracker"
)

// riskConfig holds configuration for the risk command.
type riskConfig struct {
	statsFile string
	repo      string
	base      string
	head      string
	author    string
	ci        string
	body      string
	round     int
	json      bool
}

// newRiskCmd creates the "warden risk" subcommand.
func newRiskCmd(g *globalFlags) *cobra.Command {
	var cfg riskConfig

	cmd := &cobra.Command{
		Use:   "risk [pr-number]",
		Short: "Assess the risk of a change",
		Long: "Assesses a pull request fetched with gh, a stats document (--stats, - for stdin),\n" +
			"or a local commit range (--repo/--base/--head). Missing facts fail closed to high.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, conf, err := g.resolve()
			if err != nil {
				return err
			}

			stats, err := cfg.gather(cmd, args, conf)
			if err != nil {
				return err
			}
			if cfg.round >= 0 {
				stats.Round = &cfg.round
			} else if stats.Round == nil && stats.PRNumber > 0 {
				stats.Round = reviewRound(cmd.Context(), paths.StateDBPath, stats.PRNumber)
			}

			report := risk.NewReport(stats.PRNumber, risk.Assess(stats, conf.riskConfig(riskTopology(paths))), time.Now())
			if cfg.json {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printRisk(newPrinter(cmd.OutOrStdout()), report)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.statsFile, "stats", "", "stats JSON document, - for stdin")
	cmd.Flags().StringVar(&cfg.repo, "repo", "", "local repository for a commit-range assessment")
	cmd.Flags().StringVar(&cfg.base, "base", "main", "base revision (with --repo)")
	cmd.Flags().StringVar(&cfg.head, "head", "HEAD", "head revision (with --repo)")
	cmd.Flags().StringVar(&cfg.author, "author", "", "author login (with --repo)")
	cmd.Flags().StringVar(&cfg.ci, "ci", "", "CI status passing|failing|pending (with --repo)")
	cmd.Flags().StringVar(&cfg.body, "body", "", "change description (with --repo)")
	cmd.Flags().IntVar(&cfg.round, "round", -1, "review round; default reads the review cycle state")
	cmd.Flags().BoolVar(&cfg.json, "json", false, "print the report as JSON")
	return cmd
}

func (c riskConfig) gather(cmd *cobra.Command, args []string, conf Config) (risk.Stats, error) {
	switch {
	case c.statsFile != "":
		data, err := stdinOr(cmd, c.statsFile)
		if err != nil {
			return risk.Stats{}, err
		}
		var stats risk.Stats
		if err := json.Unmarshal(data, &stats); err != nil {
			return risk.Stats{}, fmt.Errorf("decode stats: %w", err)
		}
		return stats, nil

	case c.repo != "":
		stats, err := risk.GitStats(c.repo, c.base, c.head)
		if err != nil {
			return risk.Stats{}, err
		}
		draft := false
		stats.Draft = &draft
		stats.Author = c.author
		stats.CI = risk.CIStatus(strings.ToLower(c.ci))
		stats.Body = c.body
		if n := risk.LinkedIssue(c.body); n > 0 {
			stats.LinkedIssue = &n
		}
		if len(args) == 1 {
			stats.PRNumber, _ = strconv.Atoi(args[0])
		}
		return stats, nil

	case len(args) == 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return risk.Stats{}, fmt.Errorf("invalid pr number %q", args[0])
		}
		gh := worktracker.NewGitHubCLI(&worktracker.ExecCommandRunner{}, conf.Tracker.Repo)
		return gh.PRStats(cmd.Context(), n)
	}
	return risk.Stats{}, errors.New("give a pr number, --stats or --repo")
}

// riskTopology loads the topology for its review bound. Risk works without
// one, so a missing or invalid topology only falls back to the default.
func riskTopology(paths *Paths) *topology.Topology {
	topo, err := topology.Load(paths.TopologyPath)
	if err != nil {
		slog.Debug("risk: no topology, using default review bound", "path", paths.TopologyPath, "error", err)
		return nil
	}
	return topo
}

// reviewRound reads the current round of pr from the review store. A PR
// with no recorded cycle is in round 0; an unreadable store leaves the
// round unknown so the assessment fails closed.
func reviewRound(ctx context.Context, dbPath string, pr int) *int {
	db, err := openDB(ctx, dbPath)
	if err != nil {
		return nil
	}
	defer db.Close()

	round, err := review.New(review.NewSQLiteStore(db), nil, nil, 0).Round(ctx, pr)
	if err != nil {
		return nil
	}
	return &round
}

func printRisk(p *printer, r risk.Report) {
	auto := p.bad("no")
	if r.AutoApprovable {
		auto = p.good("yes")
	}
	title := "change"
	if r.PRNumber > 0 {
		title = fmt.Sprintf("PR #%d", r.PRNumber)
	}
	p.printf("%s  risk %s  auto-approve %s\n", p.title(title), p.level(string(r.RiskLevel)), auto)
	p.printf("%s\n", p.muted(fmt.Sprintf("  %d lines, %d files (%d code, %d test), round %d",
		r.Stats.DiffLines, r.Stats.FilesChanged, r.Stats.CodeFiles, r.Stats.TestFiles, r.Stats.Round)))
	for _, f := range r.Flags {
		p.printf("  %-8s %-24s %s\n", p.level(string(f.Risk)), f.Flag, f.Detail)
	}
}
