package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"meshnode/internal/buildinfo"
	"meshnode/internal/logging"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:           "meshnode",
		Short:         "LoRa mesh presence node",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(runCmd(&debug))
	cmd.AddCommand(configCmd())
	cmd.AddCommand(simulateCmd(&debug))
	return cmd
}

// logLevel returns the configured level unless --debug overrides it.
func logLevel(configured string, debug bool) string {
	if debug {
		return logging.LevelDebug
	}
	return configured
}
