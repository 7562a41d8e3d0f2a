package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"ChannelMonitor/internal/app"
	"ChannelMonitor/internal/config"
	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "channelmonitor",
		Short:         "Forward keyword-matching posts from public Telegram channels",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $"+config.EnvPrefix+"CONFIG or config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start monitoring (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMonitor(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the configuration and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCheck(cmd, configPath)
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print the persisted channel cursors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runState(cmd, configPath)
			},
		},
	)

	return root
}

func runMonitor(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewWithWriter(cmd.OutOrStdout(), cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}

	if err := application.Run(cmd.Context()); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}

func runCheck(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "configuration ok")
	fmt.Fprintf(out, "channels: %d\n", len(cfg.Monitoring.Channels))
	for _, ch := range cfg.Monitoring.Channels {
		scope := "global keywords"
		if ch.Keywords != nil {
			scope = "own keywords"
		}
		fmt.Fprintf(out, "  %s (%s)\n", ch.Name, scope)
	}
	fmt.Fprintf(out, "recipients: %d\n", len(cfg.Monitoring.ForwardTo))
	fmt.Fprintf(out, "state backend: %s\n", cfg.State.Backend)
	return nil
}

func runState(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, closeFn, err := app.OpenStore(cmd.Context(), cfg.State)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	cursors, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	channels := make([]string, 0, len(cursors))
	for ch := range cursors {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	out := cmd.OutOrStdout()
	if len(channels) == 0 {
		fmt.Fprintln(out, "no cursors stored")
		return nil
	}
	for _, ch := range channels {
		fmt.Fprintf(out, "%s\t%d\n", ch, cursors[domain.ChannelID(ch)])
	}
	return nil
}
