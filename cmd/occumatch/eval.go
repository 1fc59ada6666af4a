package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/eval"
)

func newEvalCmd(a *app) *cobra.Command {
	var (
		gold     string
		baseline string
		out      string
		format   string
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the configured strategy against a gold set",
		Long: `Run matches every gold case, stores the run and prints the metrics. The
report is compared with --baseline (a report file or a stored run id) or,
without it, with the latest stored run over the same gold set. Regressions
against an explicit baseline make the command fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q", format)
			}
			if gold == "" {
				gold = a.cfg.Eval.GoldSet
			}
			conn, err := a.openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			strategy, res, err := a.buildStrategy(conn)
			if err != nil {
				return err
			}
			gs, err := eval.LoadGoldSet(gold, res.Snapshot)
			if err != nil {
				return err
			}

			h := &eval.Harness{
				Strategy:    strategy,
				Version:     a.cfg.Matching.Version,
				Fingerprint: a.cfg.Fingerprint(),
				Workers:     a.cfg.Batch.Workers,
				Log:         a.log,
			}
			rep, err := h.Evaluate(cmd.Context(), gs)
			if err != nil {
				return err
			}

			before, name, ok, err := eval.Baseline(conn, baseline, rep)
			if err != nil {
				return err
			}
			if ok {
				rep.Baseline = name
				rep.Changes = eval.Compare(before, rep.Outcomes)
			}
			if err := eval.Save(conn, rep); err != nil {
				return err
			}

			if out != "" {
				if err := writeReport(out, rep); err != nil {
					return err
				}
				a.log.Info("report written", zap.String("file", out))
			}
			if format == "json" {
				err = rep.WriteJSON(cmd.OutOrStdout())
			} else {
				err = rep.WriteText(cmd.OutOrStdout())
			}
			if err != nil {
				return err
			}

			if baseline != "" && rep.Regressions() > 0 {
				return fmt.Errorf("%d regressions against %s", rep.Regressions(), rep.Baseline)
			}
			return nil
		},
	}
	run.Flags().StringVar(&gold, "gold", "", "gold set file (default is eval.gold-set)")
	run.Flags().StringVar(&baseline, "baseline", "", "report file or stored run id to compare with")
	run.Flags().StringVarP(&out, "out", "o", "", "write the JSON report to this file")
	run.Flags().StringVar(&format, "format", "text", "output format: text or json")

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure matching quality against a labeled gold set",
	}
	cmd.AddCommand(run)
	return cmd
}

func writeReport(path string, rep eval.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rep.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
