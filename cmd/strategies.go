package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tradehub/tradehub-cli/internal/model"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the strategy registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatStrategies(os.Stdout, model.Strategies(), cfg.Enabled())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

// formatStrategies writes the registry with each strategy's key fields and
// rank filters to out.
func formatStrategies(out io.Writer, all, enabled []model.Strategy) {
	on := make(map[model.Strategy]bool, len(enabled))
	for _, s := range enabled {
		on[s] = true
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTITLE\tID PREFIX\tKEY FIELDS\tFILTERS\tENABLED")
	for _, s := range all {
		spec := model.MustLookup(s)
		filters := "-"
		if len(spec.Filters) > 0 {
			filters = strings.Join(spec.Filters, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			spec.Name, spec.Title, spec.IDPrefix, strings.Join(spec.KeyFields, ","), filters, on[s])
	}
	_ = w.Flush()
}
