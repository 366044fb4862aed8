package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/normalize"
	"github.com/tradehub/tradehub-cli/internal/rank"
	"github.com/tradehub/tradehub-cli/internal/suggest"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/unify"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Score candidates and publish the suggestion file",
	Long: "Ranks one screener and atomically writes <outdir>/<screener>_suggestions.json.\n\n" +
		"Input is, in order of precedence: --in-main/--in-custom (raw exports, unified and gated in memory), " +
		"--infile (a normalized artifact), or the screener's normalized.csv under the L1 root. With " +
		"--allow-fallback an empty normalized set falls back to the unified table and every suggestion is " +
		"tagged fallback.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		screener, _ := cmd.Flags().GetString("screener")
		spec, err := model.Lookup(screener)
		if err != nil {
			return err
		}

		settings := cfg.ForStrategy(spec.Name)
		opts := rank.Options{
			TopK:          settings.TopK,
			IVRMin:        settings.IVRMin,
			DTEMin:        settings.DTEMin,
			DTEMax:        settings.DTEMax,
			AllowFallback: settings.AllowFallback,
		}
		flags := cmd.Flags()
		if flags.Changed("top") {
			opts.TopK, _ = flags.GetInt("top")
		}
		if flags.Changed("ivr-min") {
			opts.IVRMin, _ = flags.GetFloat64("ivr-min")
		}
		if flags.Changed("dte-min") {
			opts.DTEMin, _ = flags.GetInt("dte-min")
		}
		if flags.Changed("dte-max") {
			opts.DTEMax, _ = flags.GetInt("dte-max")
		}
		if flags.Changed("allow-fallback") {
			opts.AllowFallback, _ = flags.GetBool("allow-fallback")
		}

		gate := normalize.Options{MaxAge: settings.MaxAge, AllowStale: settings.AllowStale}
		in, err := rankInput(ctx, cmd, spec, gate, opts.AllowFallback)
		if err != nil {
			return err
		}

		outdir, _ := flags.GetString("outdir")
		if outdir == "" {
			outdir = cfg.Paths.OutputDir
		}
		pub := suggest.NewStore(suggest.Options{Dir: outdir, WriteYAML: cfg.Suggestions.WriteYAML})

		res, path, err := rank.Run(ctx, spec, layout(), in, pub, opts)
		if err != nil {
			return eris.Wrap(err, "rank")
		}
		summary := stageSummary{Stage: model.StageRank, Strategy: spec.Name, Counts: res.Counts(), Path: path}
		if res.Source == rank.SourceFallback {
			summary.Warnings = []string{"ranked from unified fallback input"}
		}
		return writeSummary(os.Stdout, summary)
	},
}

// rankInput resolves the candidate set from the command's input flags.
func rankInput(ctx context.Context, cmd *cobra.Command, spec *model.StrategySpec, gate normalize.Options, allowFallback bool) (rank.Input, error) {
	inMain, _ := cmd.Flags().GetString("in-main")
	inCustom, _ := cmd.Flags().GetString("in-custom")
	infile, _ := cmd.Flags().GetString("infile")

	var in rank.Input
	switch {
	case inMain != "":
		paths := []string{inMain}
		if inCustom != "" {
			paths = append(paths, inCustom)
		}
		tables, err := unify.ReadSources(ctx, spec, paths, tabular.Options{Encoding: cfg.Pipeline.SourceEncoding})
		if err != nil {
			return in, eris.Wrap(err, "rank")
		}
		u, err := unify.Unify(spec, tables)
		if err != nil {
			return in, eris.Wrap(err, "rank")
		}
		norm := normalize.Normalize(spec, u.Records, gate)
		in.Normalized = norm.Records
		if len(in.Normalized) == 0 && allowFallback {
			in.Unified = u.Records
		}
	case infile != "":
		recs, _, err := normalize.Load(ctx, spec, infile)
		if err != nil {
			return in, eris.Wrap(err, "rank")
		}
		in.Normalized = recs
		if len(recs) == 0 && allowFallback {
			sibling := filepath.Join(filepath.Dir(infile), "unified.csv")
			if tabular.Exists(sibling) {
				if in.Unified, err = unify.Load(ctx, spec, sibling); err != nil {
					return in, eris.Wrap(err, "rank")
				}
			}
		}
	default:
		var err error
		if in, err = rank.Load(ctx, spec, layout(), allowFallback); err != nil {
			return in, eris.Wrap(err, "rank")
		}
	}
	return in, nil
}

func init() {
	rankCmd.Flags().String("screener", "", "strategy name")
	rankCmd.Flags().String("infile", "", "normalized artifact to rank")
	rankCmd.Flags().String("in-main", "", "primary screener export")
	rankCmd.Flags().String("in-custom", "", "secondary screener export")
	rankCmd.Flags().String("outdir", "", "suggestion output directory (default from config)")
	rankCmd.Flags().Int("top", 10, "number of suggestions to keep")
	rankCmd.Flags().Float64("ivr-min", 0, "minimum IV rank as a fraction (0 disables)")
	rankCmd.Flags().Int("dte-min", 0, "minimum days to expiration")
	rankCmd.Flags().Int("dte-max", 0, "maximum days to expiration (0 disables)")
	rankCmd.Flags().Bool("allow-fallback", false, "rank the unified table when no normalized input survives")
	_ = rankCmd.MarkFlagRequired("screener")
	rankCmd.MarkFlagsMutuallyExclusive("infile", "in-main")

	rootCmd.AddCommand(rankCmd)
}
