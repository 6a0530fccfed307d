package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"warden/pkg/topology"
)

// newValidateCmd creates the "warden validate" subcommand. It exits nonzero
// on any inconsistency, so it can gate a build.
func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [topology.yaml]",
		Short: "Check a topology document for consistency",
		Long:  "Loads the topology, checks schedules, targets, producers and edge conditions,\nand reports every problem found. Exits nonzero when the topology is invalid.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := topologyArg(g, args)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())

			topo, err := topology.Load(path)
			if err != nil {
				var ve *topology.ValidationError
				if !errors.As(err, &ve) {
					return err
				}
				p.printf("%s %s\n", p.bad("invalid"), path)
				for _, prob := range ve.Problems {
					p.printf("  %s\n", prob.String())
				}
				return fmt.Errorf("%s: %d problems", path, len(ve.Problems))
			}

			p.printf("%s %s: %d nodes, %d events, %d scheduled\n",
				p.good("ok"), path, len(topo.Nodes), len(topo.Events), len(topo.Scheduled()))
			return nil
		},
	}
}

// topologyArg returns the explicit topology path or the configured one.
func topologyArg(g *globalFlags, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	paths, _, err := g.resolve()
	if err != nil {
		return "", err
	}
	return paths.TopologyPath, nil
}

// newRenderCmd creates the "warden render" subcommand.
func newRenderCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "render [topology.yaml]",
		Short: "Render the dispatch graph as Mermaid or Graphviz DOT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := topologyArg(g, args)
			if err != nil {
				return err
			}
			topo, err := topology.Load(path)
			if err != nil {
				return err
			}
			return topo.Render(cmd.OutOrStdout(), topology.Format(format))
		},
	}

	cmd.Flags().StringVar(&format, "format", string(topology.FormatMermaid), "output format: mermaid or dot")
	return cmd
}
