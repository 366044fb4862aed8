package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/normalize"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
)

// stageSummary is the one-line JSON each stage command prints on stdout.
type stageSummary struct {
	Stage    model.Stage    `json:"stage"`
	Strategy model.Strategy `json:"strategy"`
	Counts   map[string]int `json:"counts,omitempty"`
	Path     string         `json:"path,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

func writeSummary(w io.Writer, s stageSummary) error {
	return json.NewEncoder(w).Encode(s)
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// -- unify --

var unifyCmd = &cobra.Command{
	Use:   "unify <source> [source ...]",
	Short: "Merge screener exports into the unified L1 table",
	Long: "Reads the source exports in order (the first is primary), merges rows by contract key and writes " +
		"the L1 copies plus unified.csv under <outdir>/<screener>. With no sources the configured ones are used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		screener, _ := cmd.Flags().GetString("screener")
		outdir, _ := cmd.Flags().GetString("outdir")
		encoding, _ := cmd.Flags().GetString("encoding")

		spec, err := model.Lookup(screener)
		if err != nil {
			return err
		}
		lay := layout()
		if outdir != "" {
			lay.L1Dir = outdir
		}
		if encoding == "" {
			encoding = cfg.Pipeline.SourceEncoding
		}
		sources := args
		if len(sources) == 0 {
			sources = cfg.ForStrategy(spec.Name).Sources
		}

		res, err := unify.Run(cmd.Context(), spec, lay, sources, tabular.Options{Encoding: encoding})
		if err != nil {
			return eris.Wrap(err, "unify")
		}
		return writeSummary(os.Stdout, stageSummary{
			Stage:    model.StageUnify,
			Strategy: spec.Name,
			Counts:   res.Counts(),
			Path:     lay.Unified(spec.Name),
		})
	},
}

// -- normalize --

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Coerce unified records and apply the freshness gate",
	Long: "Reads <l1>/<screener>/unified.csv for each screener and writes normalized.csv. Records older than " +
		"--max-age-minutes are rejected unless --allow-stale is set. Stale rejection is reported, not fatal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		screeners, _ := cmd.Flags().GetStringSlice("screener")
		strategies, err := lookupStrategies(screeners)
		if err != nil {
			return err
		}

		for _, s := range strategies {
			settings := cfg.ForStrategy(s)
			opts := normalize.Options{MaxAge: settings.MaxAge, AllowStale: settings.AllowStale}
			if cmd.Flags().Changed("max-age-minutes") {
				m, _ := cmd.Flags().GetInt("max-age-minutes")
				opts.MaxAge = minutes(m)
			}
			if cmd.Flags().Changed("allow-stale") {
				opts.AllowStale, _ = cmd.Flags().GetBool("allow-stale")
			}

			res, err := normalize.Run(cmd.Context(), model.MustLookup(s), layout(), opts)
			if err != nil {
				return eris.Wrapf(err, "normalize %s", s)
			}
			summary := stageSummary{
				Stage:    model.StageNormalize,
				Strategy: s,
				Counts:   res.Counts(),
				Path:     layout().Normalized(s),
			}
			if err := res.Err(); err != nil {
				summary.Warnings = []string{err.Error()}
			}
			if err := writeSummary(os.Stdout, summary); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	unifyCmd.Flags().String("screener", "", "strategy name (csp, covered_call, pmcc, ...)")
	unifyCmd.Flags().String("outdir", "", "L1 root; main.csv, custom.csv and unified.csv land in <outdir>/<screener>/ (default: paths.l1_dir)")
	unifyCmd.Flags().String("encoding", "", "source encoding: utf-8 or windows-1252 (default from config)")
	_ = unifyCmd.MarkFlagRequired("screener")

	normalizeCmd.Flags().Int("max-age-minutes", 15, "reject records older than this; 0 disables the gate")
	normalizeCmd.Flags().Bool("allow-stale", false, "keep stale records, tagged stale")
	normalizeCmd.Flags().StringSlice("screener", nil, "strategies to normalize (default: all enabled)")

	rootCmd.AddCommand(unifyCmd)
	rootCmd.AddCommand(normalizeCmd)
}
