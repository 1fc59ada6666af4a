package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/batch"
	"github.com/japaniel/occumatch/pkg/fusion"
)

func newMatchCmd(a *app) *cobra.Command {
	var (
		ids     []string
		pending bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match stored postings and persist the results",
		Long: `Match runs the configured strategy over stored postings. Use --ids for
specific postings or --pending for every posting that has no result at the
configured matching version yet. Reruns overwrite results in place.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pending == (len(ids) > 0) {
				return fmt.Errorf("exactly one of --ids or --pending is required")
			}
			conn, err := a.openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			strategy, _, err := a.buildStrategy(conn)
			if err != nil {
				return err
			}
			runner := batch.NewRunner(conn, strategy, a.log)
			runner.Version = a.cfg.Matching.Version
			runner.Workers = a.cfg.Batch.Workers
			runner.BatchSize = a.cfg.Batch.BatchSize
			runner.FlushInterval = a.cfg.Batch.FlushInterval
			runner.OnProgress = func(current, total int) {
				a.log.Debug("progress", zap.Int("current", current), zap.Int("total", total))
			}

			var sum batch.Summary
			if pending {
				sum, err = runner.RunPending(cmd.Context(), limit)
			} else {
				sum, err = runner.Run(cmd.Context(), ids)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma separated posting ids")
	cmd.Flags().BoolVar(&pending, "pending", false, "match postings with no result at the matching version")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of pending postings (0 means all)")
	return cmd
}

func printSummary(w io.Writer, s batch.Summary) {
	if s.RunID == "" {
		fmt.Fprintln(w, "nothing to match")
		return
	}
	fmt.Fprintf(w, "run %s (%s): %s, %d/%d processed, %d failed\n",
		s.RunID, s.MatchingVersion, s.Status, s.Processed, s.Total, s.Failed)
	states := make([]string, 0, len(s.States))
	for st := range s.States {
		states = append(states, string(st))
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, st := range states {
		parts = append(parts, fmt.Sprintf("%s=%d", st, s.States[fusion.State(st)]))
	}
	if len(parts) > 0 {
		fmt.Fprintln(w, "  "+strings.Join(parts, " "))
	}
}
