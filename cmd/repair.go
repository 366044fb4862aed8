package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tradehub/tradehub-cli/internal/repair"
)

var repairCmd = &cobra.Command{
	Use:   "repair [--dirs dir1 [dir2 ...]]",
	Short: "Repair published suggestion files in place",
	Long: "Backfills missing ids, ranks and freshness tags, fixes count, migrates legacy layouts and " +
		"quarantines entries that cannot be repaired. Running it twice changes nothing the second time.",
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, _ := cmd.Flags().GetStringSlice("dirs")
		dirs = append(dirs, args...)
		if len(dirs) == 0 {
			dirs = []string{cfg.Paths.OutputDir}
		}

		r := repair.New(repair.Options{
			QuarantineDir: cfg.Paths.QuarantineDir,
			WriteYAML:     cfg.Suggestions.WriteYAML,
		})
		rep, err := r.Run(cmd.Context(), dirs)
		if err != nil {
			return eris.Wrap(err, "repair")
		}

		formatRepairReport(os.Stdout, rep)
		if n := rep.Failed(); n > 0 {
			return eris.Errorf("repair: %d file(s) could not be repaired", n)
		}
		return nil
	},
}

func init() {
	repairCmd.Flags().StringSlice("dirs", nil, "directories holding *_suggestions.json; further directories may follow as arguments (default: paths.output_dir)")
	rootCmd.AddCommand(repairCmd)
}

// formatRepairReport writes one line per file to out.
func formatRepairReport(out io.Writer, rep *repair.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSTRATEGY\tCHANGED\tBACKFILLED\tDROPPED\tERROR")
	for _, f := range rep.Files {
		changed := "no"
		if f.Changed {
			changed = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			f.Path, f.Strategy, changed, f.Backfilled, f.Dropped, f.Error)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d file(s), %d repaired, %d entries dropped, %d failed\n",
		len(rep.Files), rep.Changed(), rep.Dropped(), rep.Failed())
}
