package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradehub/tradehub-cli/internal/config"
	"github.com/tradehub/tradehub-cli/internal/model"
	"github.com/tradehub/tradehub-cli/internal/store"
	"github.com/tradehub/tradehub-cli/internal/tabular"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tradehub",
	Short: "Options screener pipeline",
	Long:  "Unifies screener exports, applies a freshness gate, ranks candidates and publishes per-strategy suggestion files.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openLedger opens the configured run ledger. The "none" driver returns a
// ledger that records nothing.
func openLedger(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open run ledger")
	}
	return st, nil
}

func layout() tabular.Layout {
	return tabular.Layout{L1Dir: cfg.Paths.L1Dir, L2Dir: cfg.Paths.L2Dir}
}

// lookupStrategies resolves names to strategies, defaulting to every enabled
// strategy when names is empty.
func lookupStrategies(names []string) ([]model.Strategy, error) {
	if len(names) == 0 {
		return cfg.Enabled(), nil
	}
	out := make([]model.Strategy, 0, len(names))
	for _, n := range names {
		spec, err := model.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, spec.Name)
	}
	return out, nil
}
