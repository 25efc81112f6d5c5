package main

import (
	"fmt"
	"os"

	"github.com/tomyedwab/medialauncher/launcher/config"
	"github.com/tomyedwab/medialauncher/launcher/layout"
	"github.com/tomyedwab/medialauncher/launcher/logging"
	"github.com/tomyedwab/medialauncher/launcher/processes"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	port       int
	dev        bool
	logLevel   string
	noBrowser  bool
}

// load reads the configuration, applies flag overrides and sets up logging.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := o.apply(cfg); err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}

// apply overrides cfg with the flags that were set.
func (o *options) apply(cfg *config.Config) error {
	if o.port > 0 {
		cfg.Server.BasePort = o.port
	}
	if o.dev {
		cfg.Layout.Packaged = "false"
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.noBrowser {
		cfg.Browser.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func resolveLayout(cfg *config.Config) (layout.RuntimeLayout, error) {
	opts := layout.Options{
		InstallRoot:  cfg.Layout.InstallRoot,
		ServerScript: cfg.Server.ServerScript,
	}
	switch cfg.Layout.Packaged {
	case "true":
		opts.Packaged = true
	case "auto":
		if exe, err := os.Executable(); err == nil {
			opts.Packaged = layout.DetectPackaged(exe)
		}
	}
	return layout.NewResolver(opts).Resolve()
}

func retryPolicy(cfg *config.Config) processes.RetryPolicy {
	return processes.RetryPolicy{
		MaxAttempts:       cfg.Health.MaxAttempts,
		PerAttemptTimeout: cfg.Health.PerAttemptTimeout,
		InterAttemptDelay: cfg.Health.InterAttemptDelay,
		InitialDelay:      cfg.Health.InitialDelay,
	}
}
