package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"warden/pkg/eventlog"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	node       string
	eventType  string
	invocation string
	since      time.Duration
	tail       int
	follow     bool
	json       bool
}

// newLogsCmd creates the "warden logs" subcommand.
func newLogsCmd(g *globalFlags) *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the decision log",
		Long:  "Displays dispatcher, governor and health decisions from the event log,\noldest first. Filter by node, type or invocation, and optionally follow new events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, _, err := g.resolve()
			if err != nil {
				return err
			}
			r, err := eventlog.NewReader(paths.StateDBPath)
			if err != nil {
				return err
			}
			defer r.Close()

			opts := eventlog.QueryOpts{
				Node:         cfg.node,
				EventType:    cfg.eventType,
				InvocationID: cfg.invocation,
				Limit:        cfg.tail,
			}
			if cfg.since > 0 {
				after := time.Now().Add(-cfg.since)
				opts.After = &after
			}

			p := newPrinter(cmd.OutOrStdout())
			events, err := r.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			slices.Reverse(events)
			if cfg.json {
				return writeJSON(cmd.OutOrStdout(), events)
			}

			if len(events) == 0 && !cfg.follow {
				p.println("no events found")
			}
			for _, e := range events {
				printEvent(p, e)
			}
			if !cfg.follow {
				return nil
			}
			return followEvents(cmd.Context(), r, p, opts, events)
		},
	}

	cmd.Flags().StringVar(&cfg.node, "node", "", "filter by node key")
	cmd.Flags().StringVar(&cfg.eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&cfg.invocation, "invocation", "", "filter by invocation id")
	cmd.Flags().DurationVar(&cfg.since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show (0 = all)")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().BoolVar(&cfg.json, "json", false, "print JSON")
	return cmd
}

// followEvents polls for events newer than the last one shown.
func followEvents(ctx context.Context, r *eventlog.Reader, p *printer, opts eventlog.QueryOpts, shown []eventlog.Event) error {
	if len(shown) > 0 {
		opts.AfterID = shown[len(shown)-1].ID
	}
	opts.OldestFirst = true
	opts.Limit = 0

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			events, err := r.Query(ctx, opts)
			if err != nil {
				return err
			}
			for _, e := range events {
				printEvent(p, e)
				opts.AfterID = e.ID
			}
		}
	}
}

func printEvent(p *printer, e eventlog.Event) {
	line := fmt.Sprintf("%s %-22s %-10s", p.muted(e.CreatedAt.Format("2006-01-02 15:04:05")), e.Type, e.Source)
	if e.Node != "" {
		line += " node=" + e.Node
	}
	if e.InvocationID != "" {
		line += " inv=" + e.InvocationID
	}
	if e.Payload != "" {
		line += " " + p.muted(e.Payload)
	}
	p.println(line)
}
