package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ohmynofan/luckywheel-bot/internal/app"
	"github.com/ohmynofan/luckywheel-bot/internal/config"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/metrics"
)

var (
	metricsAddr string
	userID      int64

	application *app.App
	stopMetrics context.CancelFunc
	stopSignals context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:          "luckywheel-bot",
	Short:        "Lucky-wheel account automation",
	Long:         `Registers accounts and claims lucky-wheel bonuses on the supported sites, with per-user trial codes and quotas.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logger.Init(cfg.LogFile); err != nil {
			pterm.Warning.Printfln("File logging disabled: %v", err)
		}

		if metricsAddr == "" {
			metricsAddr = cfg.MetricsAddr
		}
		var m *metrics.Metrics
		if metricsAddr != "" {
			m = metrics.New()
			var ctx context.Context
			ctx, stopMetrics = context.WithCancel(context.Background())
			go func() {
				if err := m.Serve(ctx, metricsAddr); err != nil {
					pterm.Error.Printfln("Metrics server: %v", err)
				}
			}()
		}

		a, err := app.New(cmd.Context(), cfg, m)
		if err != nil {
			return err
		}
		application = a
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		if application != nil {
			errs = append(errs, application.Close())
		}
		if stopMetrics != nil {
			stopMetrics()
		}
		stopSignals()
		errs = append(errs, logger.Close())
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides METRICS_ADDR)")
	rootCmd.PersistentFlags().Int64VarP(&userID, "user", "u", 0, "requester id")

	var ctx context.Context
	ctx, stopSignals = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd.SetContext(ctx)
}
