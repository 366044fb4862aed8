package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/tabular"
	"github.com/tradehub/tradehub-cli/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report drift between a unified table and its sources",
	Long: "Compares row counts, key quality and field values of the unified table against the main and " +
		"custom views. Findings are warnings and never change the exit status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		screener, _ := cmd.Flags().GetString("screener")
		unifiedPath, _ := cmd.Flags().GetString("unified")
		mainPath, _ := cmd.Flags().GetString("main")
		customPath, _ := cmd.Flags().GetString("custom")

		spec, err := model.Lookup(screener)
		if err != nil {
			return err
		}
		lay := layout()
		if unifiedPath == "" {
			unifiedPath = lay.Unified(spec.Name)
		}
		if mainPath == "" {
			mainPath = lay.Main(spec.Name)
		}
		sources := []string{mainPath}
		if customPath == "" && tabular.Exists(lay.Custom(spec.Name)) {
			customPath = lay.Custom(spec.Name)
		}
		if customPath != "" {
			sources = append(sources, customPath)
		}

		rep, err := validate.Paths(cmd.Context(), spec, unifiedPath, sources,
			tabular.Options{Encoding: cfg.Pipeline.SourceEncoding},
			validate.Options{
				RowDeltaTolerance:   cfg.Validation.RowDeltaTolerance,
				FieldDriftTolerance: cfg.Validation.FieldDriftTolerance,
			})
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	validateCmd.Flags().String("screener", "", "strategy name")
	validateCmd.Flags().String("unified", "", "unified table (default: <l1>/<screener>/unified.csv)")
	validateCmd.Flags().String("main", "", "primary source view (default: <l1>/<screener>/main.csv)")
	validateCmd.Flags().String("custom", "", "secondary source view (default: <l1>/<screener>/custom.csv when present)")
	_ = validateCmd.MarkFlagRequired("screener")

	rootCmd.AddCommand(validateCmd)
}
