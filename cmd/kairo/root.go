package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ex-kairo/internal/driver"
)

// newRootCommand creates the kairo command tree.
func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "kairo",
		Short: "A hot-reloadable command and interaction module runtime",
		Long: `kairo loads command, inhibitor, component, and listener modules from a
directory of Lua scripts and dispatches interactions to them through its
drivers.

Examples:
  kairo run                       Start the runtime with config/kairo.json
  kairo run --config prod.json    Start with an explicit config file
  kairo check                     Load every module once and list them`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is config/kairo.json, then bin/config/kairo.json)")

	root.AddCommand(newRunCommand(&configFile))
	root.AddCommand(newCheckCommand(&configFile))

	return root
}

func newRunCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the kernel, drivers, and module watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if path != "" {
				logger.Info("config loaded", "path", path)
			}

			registry, err := driver.NewBuiltinRegistry()
			if err != nil {
				return fmt.Errorf("new builtin driver registry: %w", err)
			}
			if err := serve(cmd.Context(), cfg, logger, registry); err != nil {
				logger.Error("kairo exited with error", "error", err)
				return err
			}

			return nil
		},
	}
}

func newCheckCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every module once and report failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg, cmd.ErrOrStderr(), cmd.ErrOrStderr())

			return check(cmd.Context(), cfg, logger, cmd.OutOrStdout())
		},
	}
}
