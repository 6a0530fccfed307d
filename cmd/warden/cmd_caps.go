package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"warden/pkg/governor"
	"warden/pkg/topology"
)

// capRow is one line of the caps report.
type capRow struct {
	Node      string `json:"node"`
	Date      string `json:"date"`
	Completed int    `json:"completed"`
	DailyCap  int    `json:"daily_cap"` // 0 = unlimited
}

// newCapsCmd creates the "warden caps" subcommand: completed invocations
// per node for one UTC day.
func newCapsCmd(g *globalFlags) *cobra.Command {
	var (
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "caps [node-key]",
		Short: "Show completed invocations against daily caps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().UTC()
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				day = d
			}

			paths, _, err := g.resolve()
			if err != nil {
				return err
			}
			topo, err := topology.Load(paths.TopologyPath)
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), paths.StateDBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			gov := governor.New(governor.NewSQLiteStore(db))

			nodes := topo.Nodes
			if len(args) == 1 {
				n, err := topo.Node(args[0])
				if err != nil {
					return err
				}
				nodes = []topology.Node{n}
			}

			rows := make([]capRow, 0, len(nodes))
			for _, n := range nodes {
				done, err := gov.CompletedOn(cmd.Context(), n.Key(), day)
				if err != nil {
					return err
				}
				rows = append(rows, capRow{Node: n.Key(), Date: governor.Day(day), Completed: done, DailyCap: n.DailyCap})
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			p := newPrinter(cmd.OutOrStdout())
			p.println(p.title("invocations on " + governor.Day(day) + " (UTC)"))
			for _, r := range rows {
				limit := "unlimited"
				used := fmt.Sprintf("%d", r.Completed)
				if r.DailyCap > 0 {
					limit = fmt.Sprintf("%d", r.DailyCap)
					if r.Completed >= r.DailyCap {
						used = p.bad(used)
					}
				}
				p.printf("  %-24s %s / %s\n", r.Node, used, limit)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "UTC date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
