package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caetera/spectronaut-webui/internal/build"
	"github.com/caetera/spectronaut-webui/internal/config"
	"github.com/caetera/spectronaut-webui/internal/controller"
	"github.com/caetera/spectronaut-webui/internal/registry"
	"github.com/caetera/spectronaut-webui/internal/server"
)

type serverFlags struct {
	configPath string
	port       uint16
	debug      bool
}

func rootCmd() *cobra.Command {
	flags := &serverFlags{}

	c := &cobra.Command{
		Use:     "snweb",
		Short:   "Web UI backend for running Spectronaut analysis batches",
		Example: "snweb --debug --port 8080",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cmd.Flags(), flags)
		},
	}

	c.Flags().
		StringVar(&flags.configPath, "config", "", "Path to config file (default ~/.spectronaut-webui/config.json)")
	c.Flags().Uint16Var(&flags.port, "port", 8080, "HTTP port, overrides the config file")
	c.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logs")

	c.AddCommand(initConfigCmd())

	return c
}

func initConfigCmd() *cobra.Command {
	var path string

	c := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(path); err != nil {
				return err
			}

			target := path
			if target == "" {
				target, _ = config.DefaultPath()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", target)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit spectronaut_command, spectronaut_key, default_dir, and port as needed.")
			fmt.Fprintf(cmd.OutOrStdout(), "The %s environment variable overrides the stored license key.\n", config.EnvLicenseKey)

			return nil
		},
	}

	c.Flags().StringVar(&path, "config", "", "Where to write the config file")

	return c
}

func runServer(ctx context.Context, flagSet *pflag.FlagSet, flags *serverFlags) error {
	level := slog.LevelInfo
	if flags.debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(flags.configPath, logger)
	if err != nil {
		return err
	}

	// Flags given explicitly on the command line win over the config file.
	if flagSet.Changed("port") {
		cfg.Port = flags.port
	}
	cfg.Debug = flags.debug

	if cfg.LicenseKey == "" {
		logger.Warn("no license key configured; runs will skip activation")
	}

	builder := build.NewBuilder(logger)

	ctrl := controller.New(builder, logger, controller.Options{
		Command:    cfg.Command,
		LicenseKey: cfg.LicenseKey,
	})

	return server.New(cfg, registry.New(), ctrl, logger).Run(ctx)
}
