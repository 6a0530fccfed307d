package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"warden/pkg/similarity"
	"warden/pkg/worktracker"
)

// newSimilarCmd creates the "warden similar" subcommand (duplicate check).
func newSimilarCmd(g *globalFlags) *cobra.Command {
	var (
		itemsFile string
		threshold int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "similar <title>",
		Short: "Find existing work items that duplicate a proposed title",
		Long: "Scores the title against open tracker issues (or --items, a JSON array of\n" +
			"{id, title}) and lists every item at or above the threshold.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadItems(cmd, g, itemsFile)
			if err != nil {
				return err
			}
			matches := similarity.FindDuplicates(args[0], items, threshold)
			if asJSON {
				if matches == nil {
					matches = []similarity.Match{}
				}
				return writeJSON(cmd.OutOrStdout(), matches)
			}

			p := newPrinter(cmd.OutOrStdout())
			if len(matches) == 0 {
				p.printf("%s no item scores %d or more\n", p.good("unique"), threshold)
				return nil
			}
			p.printf("%s %d possible duplicate(s)\n", p.warn("duplicate"), len(matches))
			for _, m := range matches {
				p.printf("  %3d  %-8s %s\n", m.Score, m.Item.ID, m.Item.Title)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&itemsFile, "items", "", "JSON array of {id, title}, - for stdin; default open tracker issues")
	cmd.Flags().IntVar(&threshold, "threshold", similarity.DuplicateThreshold, "minimum score to report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// newGapsCmd creates the "warden gaps" subcommand (roadmap coverage).
func newGapsCmd(g *globalFlags) *cobra.Command {
	var (
		itemsFile string
		threshold int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "gaps <roadmap-file>",
		Short: "List roadmap entries not covered by any work item",
		Long: "Reads one roadmap entry per line (markdown list markers are stripped) and reports\n" +
			"the entries whose best-matching work item scores below the threshold.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := stdinOr(cmd, args[0])
			if err != nil {
				return err
			}
			items, err := loadItems(cmd, g, itemsFile)
			if err != nil {
				return err
			}
			gaps := similarity.Gaps(parseRoadmap(data), items, threshold)
			if asJSON {
				if gaps == nil {
					gaps = []similarity.Gap{}
				}
				return writeJSON(cmd.OutOrStdout(), gaps)
			}

			p := newPrinter(cmd.OutOrStdout())
			if len(gaps) == 0 {
				p.println(p.good("every roadmap entry is covered"))
				return nil
			}
			for _, gap := range gaps {
				best := "-"
				if gap.BestMatch != "" {
					best = fmt.Sprintf("%s (%d)", gap.BestMatch, gap.BestScore)
				}
				p.printf("%s %s  %s\n", p.warn("gap"), gap.Entry, p.muted("best: "+best))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&itemsFile, "items", "", "JSON array of {id, title}; default open tracker issues")
	cmd.Flags().IntVar(&threshold, "threshold", similarity.GapThreshold, "minimum score that counts as covered")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// loadItems reads items from path, or lists open tracker issues.
func loadItems(cmd *cobra.Command, g *globalFlags, path string) ([]similarity.Item, error) {
	if path != "" {
		data, err := stdinOr(cmd, path)
		if err != nil {
			return nil, err
		}
		var items []similarity.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return items, nil
	}

	_, conf, err := g.resolve()
	if err != nil {
		return nil, err
	}
	issues, err := worktracker.NewGitHubCLI(&worktracker.ExecCommandRunner{}, conf.Tracker.Repo).OpenIssues(cmd.Context(), "")
	if err != nil {
		return nil, err
	}
	items := make([]similarity.Item, 0, len(issues))
	for _, is := range issues {
		items = append(items, similarity.Item{ID: "#" + strconv.Itoa(is.Number), Title: is.Title})
	}
	return items, nil
}

// parseRoadmap returns one entry per non-blank line, without list markers
// or headings.
func parseRoadmap(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, marker := range []string{"- [ ] ", "- [x] ", "- ", "* ", "+ "} {
			if rest, ok := strings.CutPrefix(line, marker); ok {
				line = strings.TrimSpace(rest)
				break
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
