package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradehub/tradehub-cli/internal/config"
	"github.com/tradehub/tradehub-cli/internal/monitoring"
	"github.com/tradehub/tradehub-cli/internal/orchestrator"
	"github.com/tradehub/tradehub-cli/internal/poll"
	"github.com/tradehub/tradehub-cli/internal/repair"
)

var watchPort int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll on a market-hours cadence until interrupted",
	Long: "Runs every enabled strategy on the active interval inside the configured window and on the " +
		"off-peak interval outside it. Repair and validate sweeps run on their cron schedules and a " +
		"read-only status server exposes health, metrics, runs and suggestion files. Stops on SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("component", "watch"))

		names, _ := cmd.Flags().GetStringSlice("strategy")
		strategies, err := lookupStrategies(names)
		if err != nil {
			return err
		}
		if len(strategies) == 0 {
			return eris.New("watch: no strategies enabled")
		}

		loc, err := time.LoadLocation(cfg.Poll.Timezone)
		if err != nil {
			return eris.Wrapf(err, "watch: timezone %q", cfg.Poll.Timezone)
		}

		ledger, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck

		metrics := monitoring.NewMetrics()
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		orch := orchestrator.New(cfg, ledger,
			orchestrator.WithMetrics(metrics),
			orchestrator.WithAlerter(alerter),
		)

		driver := poll.New(pollConfig(cfg.Poll, loc), func(ctx context.Context, mode poll.Mode) error {
			results := orch.RunAll(ctx, strategies)
			err := ctx.Err()
			metrics.ObserveIteration(string(mode), err)
			if err != nil {
				return eris.Wrap(err, "watch: iteration interrupted")
			}
			failed := 0
			for _, r := range results {
				if r.Fatal() {
					failed++
				}
			}
			log.Info("watch: iteration",
				zap.String("mode", string(mode)),
				zap.Int("strategies", len(results)),
				zap.Int("failed", failed),
			)
			return nil
		})

		sched := cron.New(cron.WithSeconds(), cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})))
		m := &maintenance{
			ctx:        ctx,
			orch:       orch,
			repairer:   repair.New(repair.Options{QuarantineDir: cfg.Paths.QuarantineDir, WriteYAML: cfg.Suggestions.WriteYAML}),
			dirs:       []string{cfg.Paths.OutputDir},
			strategies: strategies,
			metrics:    metrics,
			alerter:    alerter,
			log:        log,
		}
		if err := m.register(sched, cfg.Maintenance.RepairCron, cfg.Maintenance.ValidateCron); err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()

		checker := monitoring.NewChecker(monitoring.NewCollector(ledger), alerter, cfg.Monitoring)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return driver.Run(gctx) })
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		port := watchPort
		if port == 0 {
			port = cfg.Server.Port
		}
		if port > 0 {
			srv := &http.Server{
				Addr: fmt.Sprintf(":%d", port),
				Handler: buildRouter(serverDeps{
					metrics:     metrics,
					ledger:      ledger,
					suggestions: orch.Suggestions(),
					driver:      driver.Stats,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				log.Info("watch: status server listening", zap.Int("port", port))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return eris.Wrap(err, "watch: status server")
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		err = g.Wait()
		log.Info("watch: stopped")
		return err
	},
}

func init() {
	watchCmd.Flags().StringSlice("strategy", nil, "strategies to poll (default: all enabled)")
	watchCmd.Flags().IntVar(&watchPort, "port", 0, "status server port (default from config; 0 in config disables)")
	rootCmd.AddCommand(watchCmd)
}

// pollConfig converts the poll section into driver cadence.
func pollConfig(c config.PollConfig, loc *time.Location) poll.Config {
	return poll.Config{
		Window: poll.Window{
			Location:  loc,
			StartHour: c.ActiveStartHour,
			EndHour:   c.ActiveEndHour,
		},
		ActiveInterval:   time.Duration(c.ActiveIntervalSecs) * time.Second,
		OffPeakInterval:  time.Duration(c.OffPeakIntervalSecs) * time.Second,
		Cooldown:         time.Duration(c.CooldownSecs) * time.Second,
		IterationTimeout: time.Duration(c.IterationTimeoutSecs) * time.Second,
	}
}
