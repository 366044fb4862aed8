package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/monitoring"
	"github.com/tradehub/tradehub-cli/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run unify, normalize and rank once for each strategy",
	Long: "Runs every enabled strategy (or the ones named with --strategy) through the pipeline once. " +
		"Strategies are isolated from each other; the command exits non-zero when any of them failed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		names, _ := cmd.Flags().GetStringSlice("strategy")
		strategies, err := lookupStrategies(names)
		if err != nil {
			return err
		}
		if len(strategies) == 0 {
			return eris.New("run: no strategies enabled")
		}

		ledger, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck

		orch := orchestrator.New(cfg, ledger, orchestrator.WithAlerter(monitoring.NewAlerter(cfg.Monitoring)))
		results := orch.RunAll(ctx, strategies)

		formatRunResults(os.Stdout, results)
		if orchestrator.Fatal(results) {
			return eris.New("run: one or more strategies failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSlice("strategy", nil, "strategies to run (default: all enabled)")
	rootCmd.AddCommand(runCmd)
}

// formatRunResults writes one line per strategy run to out.
func formatRunResults(out io.Writer, results []*model.RunResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STRATEGY\tSTATUS\tSTAGES\tSUGGESTIONS\tFRESHNESS\tERROR")
	for _, r := range results {
		status := model.RunStatusComplete
		if r.Fatal() {
			status = model.RunStatusFailed
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Strategy, status, stageLine(r.Stages), r.Suggestions, r.Freshness, r.Error)
	}
	_ = w.Flush()
}

// stageLine renders stage outcomes compactly, e.g. "unify:ok normalize:warning".
func stageLine(stages []model.StageResult) string {
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		parts = append(parts, fmt.Sprintf("%s:%s", s.Stage, s.Status))
	}
	return strings.Join(parts, " ")
}
