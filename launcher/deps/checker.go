// Package deps verifies that the bundled runtime, media tool and application
// sources are present, installing the application's packages when needed.
package deps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomyedwab/medialauncher/launcher/events"
	"github.com/tomyedwab/medialauncher/launcher/layout"
	"github.com/tomyedwab/medialauncher/launcher/logging"
)

const defaultTailLines = 20

// Status is the overall verification result.
type Status int

const (
	// StatusReady means everything is in place.
	StatusReady Status = iota
	// StatusDegraded means the backend can run without some optional features.
	StatusDegraded
)

func (s Status) String() string {
	if s == StatusDegraded {
		return "degraded"
	}
	return "ready"
}

// Outcome is the result of a successful verification.
type Outcome struct {
	Status Status
	// MediaToolMissing disables thumbnailing and transcoding in the backend.
	MediaToolMissing bool
	// Installed is set when packages were installed during this verification.
	Installed bool
}

// DependencyInstallError means the package manager failed.
type DependencyInstallError struct {
	ExitCode int      // -1 when the package manager could not be run
	Output   []string // last lines of installer output
	Err      error
}

func (e *DependencyInstallError) Error() string {
	msg := "dependency install failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Output) > 0 {
		msg += "\n--- installer output ---\n" + strings.Join(e.Output, "\n")
	}
	return msg
}

func (e *DependencyInstallError) Unwrap() error { return e.Err }

// Config holds options for a Checker.
type Config struct {
	Notifier events.Notifier // Optional, defaults to events.Discard
	Logger   *zerolog.Logger // Optional, defaults to the global logger
	// InstallArgs are passed to the package manager. Defaults to
	// "install --production".
	InstallArgs []string
	// TailLines is how much installer output an error carries. Defaults to 20.
	TailLines int
}

// Checker verifies a RuntimeLayout. It is safe to call repeatedly.
type Checker struct {
	notifier    events.Notifier
	logger      zerolog.Logger
	installArgs []string
	tailLines   int
}

// NewChecker creates a Checker.
func NewChecker(cfg Config) *Checker {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.Discard
	}
	logger := logging.Component("DependencyChecker")
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "DependencyChecker").Logger()
	}
	args := cfg.InstallArgs
	if len(args) == 0 {
		args = []string{"install", "--production"}
	}
	tail := cfg.TailLines
	if tail <= 0 {
		tail = defaultTailLines
	}
	return &Checker{
		notifier:    notifier,
		logger:      logger,
		installArgs: args,
		tailLines:   tail,
	}
}

// Verify checks, in order, the runtime executable, the media tool, the
// application directory and the installed packages. Missing packages are
// installed before returning. A missing media tool only degrades the outcome.
func (c *Checker) Verify(ctx context.Context, l layout.RuntimeLayout) (Outcome, error) {
	outcome := Outcome{Status: StatusReady}

	if !fileExists(l.RuntimeExecutable()) {
		return outcome, &layout.LayoutError{What: "runtime executable", Candidates: []string{l.RuntimeExecutable()}}
	}

	if !l.MediaToolPresent() {
		c.logger.Warn().Str("path", l.MediaToolExecutable()).Msg("Media tool not found, continuing without it")
		c.notifier.Log(events.StreamLauncher, "ffmpeg not found: thumbnails and transcoding are disabled")
		outcome.Status = StatusDegraded
		outcome.MediaToolMissing = true
	}

	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	if !dirExists(l.AppDirectory()) {
		return outcome, &layout.LayoutError{What: "application directory", Candidates: []string{l.AppDirectory()}}
	}

	if !dirExists(l.DependencyDir()) {
		c.logger.Info().Str("dir", l.AppDirectory()).Msg("Dependencies missing, installing")
		c.notifier.Log(events.StreamLauncher, "Installing dependencies (first run)...")
		if err := c.InstallDependencies(ctx, l); err != nil {
			return outcome, err
		}
		outcome.Installed = true
	}

	if err := ctx.Err(); err != nil {
		return outcome, err
	}
	c.logger.Debug().Str("status", outcome.Status.String()).Msg("Dependency check complete")
	return outcome, nil
}

// InstallDependencies runs the package manager in the application directory,
// streaming its output line by line to the notifier.
func (c *Checker) InstallDependencies(ctx context.Context, l layout.RuntimeLayout) error {
	pm, err := c.packageManager(l)
	if err != nil {
		return &DependencyInstallError{ExitCode: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, pm, c.installArgs...)
	cmd.Dir = l.AppDirectory()
	cmd.Env = l.Environ(os.Environ())

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &DependencyInstallError{ExitCode: -1, Err: fmt.Errorf("failed to get stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &DependencyInstallError{ExitCode: -1, Err: fmt.Errorf("failed to get stderr pipe: %w", err)}
	}

	c.logger.Info().Str("command", cmd.String()).Msg("Running package install")
	if err := cmd.Start(); err != nil {
		return &DependencyInstallError{ExitCode: -1, Err: fmt.Errorf("failed to start %s: %w", pm, err)}
	}

	tail := newTail(c.tailLines)
	var g errgroup.Group
	g.Go(func() error { return c.stream(stdout, events.StreamStdout, tail) })
	g.Go(func() error { return c.stream(stderr, events.StreamStderr, tail) })
	if err := g.Wait(); err != nil {
		c.logger.Warn().Err(err).Msg("Error reading installer output")
	}

	if err := cmd.Wait(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		c.logger.Error().Err(err).Int("exitCode", code).Msg("Package install failed")
		return &DependencyInstallError{ExitCode: code, Output: tail.lines(), Err: err}
	}

	c.notifier.Log(events.StreamLauncher, "Dependencies installed")
	return nil
}

// packageManager prefers the bundled package manager and falls back to one on
// PATH, as development trees usually have no bundled runtime.
func (c *Checker) packageManager(l layout.RuntimeLayout) (string, error) {
	if pm := l.PackageManagerExecutable(); fileExists(pm) {
		return pm, nil
	}
	for _, name := range []string{"npm", "npm.cmd"} {
		if pm, err := exec.LookPath(name); err == nil {
			c.logger.Debug().Str("path", pm).Msg("Using package manager from PATH")
			return pm, nil
		}
	}
	return "", fmt.Errorf("package manager not found at %s or on PATH", l.PackageManagerExecutable())
}

func (c *Checker) stream(r io.Reader, stream events.Stream, tail *tailBuffer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		c.notifier.Log(stream, line)
	}
	return scanner.Err()
}

type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []string
}

func newTail(n int) *tailBuffer {
	return &tailBuffer{max: n}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, line)
	if len(t.data) > t.max {
		t.data = t.data[len(t.data)-t.max:]
	}
}

func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.data...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
