package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"warden/pkg/worktracker"
)

// newClaimCmd creates the "warden claim" subcommand: take an issue for the
// current account using claim-then-verify.
func newClaimCmd(g *globalFlags) *cobra.Command {
	var comment string

	cmd := &cobra.Command{
		Use:   "claim <issue-number>",
		Short: "Claim a work item, verifying no other agent holds it",
		Long: "Assigns the issue to the authenticated account, re-reads it and keeps the claim\n" +
			"only when that account is the sole assignee. A lost race withdraws the assignment\n" +
			"and exits nonzero.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			_, conf, err := g.resolve()
			if err != nil {
				return err
			}
			gh := worktracker.NewGitHubCLI(&worktracker.ExecCommandRunner{}, conf.Tracker.Repo)

			ok, err := gh.Claim(cmd.Context(), n)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			if !ok {
				p.printf("%s #%d is held by another assignee\n", p.warn("lost"), n)
				return fmt.Errorf("issue #%d already claimed", n)
			}
			p.printf("%s #%d\n", p.good("claimed"), n)
			if comment != "" {
				return gh.Comment(cmd.Context(), n, comment)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&comment, "comment", "", "comment to post once the claim holds")
	return cmd
}
