package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"meshnode/config"
	"meshnode/daemon"
	"meshnode/internal/buildinfo"
	"meshnode/internal/clockcheck"
	"meshnode/internal/logging"
	"meshnode/internal/node"
	"meshnode/internal/report"
	"meshnode/internal/telemetry"
	"meshnode/internal/transport/memory"
)

func runCmd(debug *bool) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.Configure(logLevel(cfg.Log.Level, *debug), cfg.Log.Format); err != nil {
				return err
			}

			metrics := telemetry.NewMetrics(prometheus.NewRegistry())
			metrics.SetBuildInfo(buildinfo.Version)

			tr, err := node.BuildTransport(cfg, memory.NewHub())
			if err != nil {
				return err
			}
			rl, err := node.BuildRelay(cfg, slog.Default())
			if err != nil {
				return err
			}

			report.ConfigureColor(os.Stdout)
			reporter, err := report.New(cfg.Report.Format, os.Stdout)
			if err != nil {
				return err
			}

			opts := []node.Option{
				node.WithMetrics(metrics),
				node.WithReporter(reporter),
			}
			if cfg.NTP.Enabled {
				opts = append(opts, node.WithClockCheck(
					clockcheck.NewChecker(cfg.NTP.Pool, cfg.NTP.Interval, cfg.NTP.Threshold)))
			}
			n := node.New(cfg, tr, rl, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := daemon.Run(ctx, n, metrics, cfg.Metrics.Listen); err != nil {
				return fmt.Errorf("run node %s: %w", n.Self(), err)
			}
			slog.Info("Node stopped.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the node config file")
	return cmd
}

const defaultConfigPath = "/etc/meshnode/meshnode.yaml"
