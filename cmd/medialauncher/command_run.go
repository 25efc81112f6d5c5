package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/medialauncher/launcher/browser"
	"github.com/tomyedwab/medialauncher/launcher/console"
	"github.com/tomyedwab/medialauncher/launcher/deps"
	"github.com/tomyedwab/medialauncher/launcher/events"
	"github.com/tomyedwab/medialauncher/launcher/history"
	"github.com/tomyedwab/medialauncher/launcher/logging"
	"github.com/tomyedwab/medialauncher/launcher/processes"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check dependencies, start the server and open the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLauncher(cmd, opts)
		},
	}
}

func runLauncher(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := logging.Component("Launcher")

	l, err := resolveLayout(cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("installRoot", l.InstallRoot()).Bool("packaged", l.Packaged()).Msg("Resolved install layout")

	bus := events.NewBus()

	var observer processes.SessionObserver
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path, logging.NewSlogLogger())
		if err != nil {
			logger.Warn().Err(err).Msg("Session history disabled")
		} else {
			defer store.Close()
			if cfg.History.Retention > 0 {
				if n, err := store.DeleteOlderThan(cfg.History.Retention); err != nil {
					logger.Warn().Err(err).Msg("Failed to prune session history")
				} else if n > 0 {
					logger.Info().Int64("removed", n).Dur("retention", cfg.History.Retention).Msg("Pruned session history")
				}
			}
			observer = history.NewRecorder(store)
		}
	}

	// A nil opener makes the supervisor print the URL instead.
	var opener processes.BrowserOpener
	if cfg.Browser.Enabled {
		opener = browser.NewOpener()
	}

	sup, err := processes.NewSupervisor(processes.Config{
		Layout:           l,
		Verifier:         deps.NewChecker(deps.Config{Notifier: bus}),
		Browser:          opener,
		Notifier:         bus,
		Observer:         observer,
		BasePort:         cfg.Server.BasePort,
		ScanWidth:        cfg.Server.ScanWidth,
		HealthEndpoint:   cfg.Server.HealthEndpoint,
		BrowserPath:      cfg.Server.BrowserPath,
		Retry:            retryPolicy(cfg),
		GracePeriod:      cfg.Shutdown.GracePeriod,
		ForceKillTimeout: cfg.Shutdown.ForceKillTimeout,
		AutoStart:        true,
	})
	if err != nil {
		return err
	}

	con, err := console.New(console.Config{
		Controller: sup,
		Events:     bus.Events(),
		In:         cmd.InOrStdin(),
		Out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Launch(ctx); err != nil {
		return err
	}
	runErr := con.Run(ctx)
	if err := sup.Close(); err != nil {
		logger.Error().Err(err).Msg("Server did not shut down cleanly")
	}

	// Show whatever the shutdown reported after the console stopped printing.
	bus.Close()
	for ev := range bus.Events() {
		fmt.Fprintln(cmd.OutOrStdout(), console.FormatEvent(ev))
	}

	if runErr != nil {
		return runErr
	}
	if sup.State() == processes.StateFailed {
		return fmt.Errorf("server failed, see the output above")
	}
	return nil
}
