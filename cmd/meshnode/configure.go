package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"meshnode"
	"meshnode/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check node configuration",
	}
	cmd.AddCommand(configCheckCmd())
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: node %s, %s radio, heartbeat every %s, dead after %s\n",
				configPath, cfg.Node.ID, cfg.Radio.Kind, cfg.Liveness.BroadcastPeriod, cfg.Liveness.DeadThreshold)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the node config file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		configPath string
		id         uint8
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", configPath, err)
			}

			cfg := config.Default()
			cfg.Node.ID = meshnode.NodeID(id)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to write")
	cmd.Flags().Uint8Var(&id, "id", 0, "Node id (1-254)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
