package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"warden/pkg/dispatcher"
	"warden/pkg/protocol"
)

// dispatchConfig holds configuration for the dispatch command.
type dispatchConfig struct {
	file    string
	event   string
	payload string
	depth   int
	trigger string
	json    bool
}

// newDispatchCmd creates the "warden dispatch" subcommand: route one event
// and wait for the invocations it starts.
func newDispatchCmd(g *globalFlags) *cobra.Command {
	var cfg dispatchConfig

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch one event and wait for its invocations",
		Long: "Routes a single event through the loop guard, conditions and governor, then waits\n" +
			"for every invocation it started (including follow-ups) to finish.\n\n" +
			"The event comes from --file (a wire event, - for stdin), from --event/--payload/--depth,\n" +
			"or --trigger runs a node's scheduled invocation directly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer a.Close()

			var res dispatcher.Result
			if cfg.trigger != "" {
				res, err = a.disp.Trigger(cmd.Context(), cfg.trigger)
				if err != nil {
					return err
				}
			} else {
				ev, err := cfg.buildEvent(cmd)
				if err != nil {
					return err
				}
				res = a.disp.Dispatch(cmd.Context(), ev)
			}
			a.disp.Wait()

			if cfg.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResult(newPrinter(cmd.OutOrStdout()), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "wire event file, - for stdin")
	cmd.Flags().StringVarP(&cfg.event, "event", "e", "", "event type")
	cmd.Flags().StringVar(&cfg.payload, "payload", "", "client payload as a JSON object")
	cmd.Flags().IntVar(&cfg.depth, "depth", 0, "chain depth")
	cmd.Flags().StringVar(&cfg.trigger, "trigger", "", "run the scheduled invocation of this node key")
	cmd.Flags().BoolVar(&cfg.json, "json", false, "print the result as JSON")
	return cmd
}

func (c dispatchConfig) buildEvent(cmd *cobra.Command) (protocol.Event, error) {
	switch {
	case c.file != "" && c.event != "":
		return protocol.Event{}, errors.New("--file and --event are mutually exclusive")
	case c.file != "":
		data, err := stdinOr(cmd, c.file)
		if err != nil {
			return protocol.Event{}, err
		}
		return protocol.DecodeEvent(data)
	case c.event != "":
		var extra map[string]any
		if c.payload != "" {
			if err := json.Unmarshal([]byte(c.payload), &extra); err != nil {
				return protocol.Event{}, fmt.Errorf("--payload: %w", err)
			}
		}
		return protocol.NewEvent(c.event, c.depth, extra), nil
	}
	return protocol.Event{}, errors.New("one of --file, --event or --trigger is required")
}

func printResult(p *printer, res dispatcher.Result) {
	if res.Accepted {
		p.printf("%s %d invocation(s)\n", p.good("accepted"), len(res.Invocations))
	} else {
		p.printf("%s %s\n", p.warn("rejected"), res.Reason)
	}
	for _, l := range res.Invocations {
		p.printf("  %s %s\n", l.Node, p.muted(l.InvocationID))
	}
	for _, s := range res.Skipped {
		p.printf("  %s %s\n", p.muted("skipped "+s.Node+":"), s.Reason)
	}
}
