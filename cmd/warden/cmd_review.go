package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"warden/pkg/review"
)

// newReviewCmd creates the "warden review" subcommand.
func newReviewCmd(g *globalFlags) *cobra.Command {
	var (
		depth  int
		active bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "review [pr-number [approve|close|request_changes]]",
		Short: "Show or advance a review cycle",
		Long: "With a PR number only, prints the review cycle. With an action, applies it:\n" +
			"request_changes advances one round and dispatches fix-needed; approve and close\n" +
			"end the cycle. request_changes on the last round is refused and must become\n" +
			"approve or close. --active lists every open cycle.",
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()
			p := newPrinter(cmd.OutOrStdout())

			if active || len(args) == 0 {
				cycles, err := review.NewSQLiteStore(a.db).Active(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), cycles)
				}
				if len(cycles) == 0 {
					p.println("no active review cycles")
				}
				for _, c := range cycles {
					p.printf("PR #%-6d round %d/%d  %s\n", c.PR, c.Round, a.topo.ReviewRoundsMax()-1, p.muted(c.UpdatedAt.Format("2006-01-02 15:04")))
				}
				return nil
			}

			pr, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pr number %q", args[0])
			}
			ctrl := a.reviewController()

			if len(args) == 1 {
				c, err := ctrl.Cycle(cmd.Context(), pr)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), c)
				}
				p.printf("PR #%d round %d  terminal=%t  outcome=%s\n", c.PR, c.Round, c.Terminal, c.Outcome)
				return nil
			}

			action, err := review.ParseAction(args[1])
			if err != nil {
				return err
			}
			tr, applyErr := ctrl.Apply(cmd.Context(), pr, action, depth)
			a.disp.Wait()

			var forced *review.ForcedDecisionError
			if errors.As(applyErr, &forced) {
				p.printf("%s %v\n", p.bad("refused"), forced)
				return applyErr
			}
			if tr.Action == "" {
				return applyErr
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), tr); err != nil {
					return err
				}
			} else {
				p.printf("PR #%d %s: round %d -> %d, outcome %s\n", pr, action, tr.From.Round, tr.To.Round, tr.To.Outcome)
				if tr.Emitted != "" {
					p.printf("  dispatched %s\n", tr.Emitted)
				}
				if tr.FollowUp != "" {
					p.printf("  follow-up %s\n", tr.FollowUp)
				}
			}
			return applyErr
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "chain depth of the event that carried the decision")
	cmd.Flags().BoolVar(&active, "active", false, "list active review cycles")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
