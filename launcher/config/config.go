// Package config loads launcher settings from defaults, an optional YAML file
// and MEDIALAUNCHER_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "MEDIALAUNCHER_CONFIG"

// EnvPrefix is the prefix for environment overrides, e.g.
// MEDIALAUNCHER_SERVER__BASE_PORT=4000. A double underscore separates levels.
const EnvPrefix = "MEDIALAUNCHER_"

const configFileName = "medialauncher.yaml"

// Config is the complete launcher configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Health   HealthConfig   `koanf:"health"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
	Layout   LayoutConfig   `koanf:"layout"`
	History  HistoryConfig  `koanf:"history"`
	Logging  LoggingConfig  `koanf:"logging"`
	Browser  BrowserConfig  `koanf:"browser"`
}

// ServerConfig describes how the backend is reached once it is running.
type ServerConfig struct {
	BasePort       int    `koanf:"base_port" validate:"min=1,max=65535"`
	ScanWidth      int    `koanf:"scan_width" validate:"min=1,max=1000"`
	HealthEndpoint string `koanf:"health_endpoint" validate:"required,startswith=/"`
	BrowserPath    string `koanf:"browser_path" validate:"required,startswith=/"`
	ServerScript   string `koanf:"server_script" validate:"required"`
}

// HealthConfig is the readiness retry budget.
type HealthConfig struct {
	MaxAttempts       int           `koanf:"max_attempts" validate:"min=1"`
	PerAttemptTimeout time.Duration `koanf:"per_attempt_timeout" validate:"gt=0"`
	InterAttemptDelay time.Duration `koanf:"inter_attempt_delay" validate:"gte=0"`
	InitialDelay      time.Duration `koanf:"initial_delay" validate:"gte=0"`
}

// ShutdownConfig bounds the two-phase stop.
type ShutdownConfig struct {
	GracePeriod      time.Duration `koanf:"grace_period" validate:"gt=0"`
	ForceKillTimeout time.Duration `koanf:"force_kill_timeout" validate:"gt=0"`
}

// LayoutConfig controls how the install root is found.
type LayoutConfig struct {
	// InstallRoot overrides autodetection when set.
	InstallRoot string `koanf:"install_root"`
	// Packaged is "auto", "true" or "false".
	Packaged string `koanf:"packaged" validate:"oneof=auto true false"`
}

// HistoryConfig controls the session history database.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required_if=Enabled true"`
	// Retention drops sessions older than this at launch. Zero keeps all.
	Retention time.Duration `koanf:"retention" validate:"gte=0"`
}

// LoggingConfig configures diagnostic logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// BrowserConfig controls the automatic browser open.
type BrowserConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns the built-in defaults. The values follow the packaged
// Windows bundle: port 3000 scanning 100 ports, health on /api/system-info.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BasePort:       3000,
			ScanWidth:      100,
			HealthEndpoint: "/api/system-info",
			BrowserPath:    "/real",
			ServerScript:   "local-server.cjs",
		},
		Health: HealthConfig{
			MaxAttempts:       30,
			PerAttemptTimeout: time.Second,
			InterAttemptDelay: time.Second,
			InitialDelay:      0,
		},
		Shutdown: ShutdownConfig{
			GracePeriod:      5 * time.Second,
			ForceKillTimeout: 3 * time.Second,
		},
		Layout: LayoutConfig{
			Packaged: "auto",
		},
		History: HistoryConfig{
			Enabled:   true,
			Path:      defaultHistoryPath(),
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Browser: BrowserConfig{
			Enabled: true,
		},
	}
}

// Load builds the configuration. An explicit path must exist; otherwise the
// first file found among the default locations is used, if any.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the port range as a whole.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q constraint (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}
	if last := c.Server.BasePort + c.Server.ScanWidth - 1; last > 65535 {
		return fmt.Errorf("server port range %d-%d exceeds 65535", c.Server.BasePort, last)
	}
	return nil
}

// envTransformFunc maps MEDIALAUNCHER_SERVER__BASE_PORT to server.base_port.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile() string {
	if envPath := os.Getenv(PathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	candidates := []string{configFileName}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "medialauncher", configFileName))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "medialauncher", "history.db")
}
