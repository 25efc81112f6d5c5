package processes

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomyedwab/medialauncher/launcher/deps"
	"github.com/tomyedwab/medialauncher/launcher/events"
	"github.com/tomyedwab/medialauncher/launcher/layout"
	"github.com/tomyedwab/medialauncher/launcher/logging"
)

const (
	defaultBasePort         = 3000
	defaultScanWidth        = 100
	defaultHealthEndpoint   = "/api/system-info"
	defaultBrowserPath      = "/real"
	defaultGracePeriod      = 5 * time.Second
	defaultForceKillTimeout = 3 * time.Second
	defaultOutputLines      = 500
	defaultTailLines        = 20
)

// PortAllocator finds a free port in [basePort, basePort+scanWidth).
type PortAllocator interface {
	Allocate(basePort, scanWidth int) (int, error)
}

// DependencyVerifier checks that the backend can be started.
type DependencyVerifier interface {
	Verify(ctx context.Context, l layout.RuntimeLayout) (deps.Outcome, error)
}

// BrowserOpener shows a URL to the user.
type BrowserOpener interface {
	Open(url string) error
}

// SessionObserver is told when a backend process is spawned and when its
// session ends. Calls are made outside the supervisor's lock.
type SessionObserver interface {
	SessionStarted(s SessionSnapshot)
	SessionEnded(s SessionSnapshot, err error)
}

// Config holds configuration options for the Supervisor.
type Config struct {
	Layout   layout.RuntimeLayout
	Verifier DependencyVerifier // Required
	Ports    PortAllocator      // Optional, defaults to NewPortManager()
	Health   HealthPoller       // Optional, defaults to HTTPHealthPoller
	Browser  BrowserOpener      // Optional, nil only announces the URL
	Notifier events.Notifier    // Optional, defaults to events.Discard
	Observer SessionObserver    // Optional
	Logger   *zerolog.Logger    // Optional, defaults to the global logger

	BasePort         int           // Optional, defaults to 3000
	ScanWidth        int           // Optional, defaults to 100
	HealthEndpoint   string        // Optional, defaults to /api/system-info
	BrowserPath      string        // Optional, defaults to /real
	Retry            RetryPolicy   // Zero fields take the DefaultRetryPolicy values
	GracePeriod      time.Duration // Optional, defaults to 5s
	ForceKillTimeout time.Duration // Optional, defaults to 3s
	OutputLines      int           // Lines of output kept per session, defaults to 500
	TailLines        int           // Lines of output attached to errors, defaults to 20

	// AutoStart starts the backend as soon as dependencies are verified.
	AutoStart bool
}

// Supervisor owns the lifecycle of the single backend process. Launch
// verifies dependencies, Start spawns and health checks the backend, Stop
// shuts it down. All blocking work runs on goroutines the Supervisor owns;
// Stop is the only method that waits, and it is bounded.
type Supervisor struct {
	mu          sync.Mutex
	state       State
	verified    bool
	outcome     deps.Outcome
	session     *serverSession
	checkCancel context.CancelFunc
	closed      bool

	layout   layout.RuntimeLayout
	verifier DependencyVerifier
	ports    PortAllocator
	health   HealthPoller
	browser  BrowserOpener
	notifier events.Notifier
	observer SessionObserver
	logger   zerolog.Logger

	basePort       int
	scanWidth      int
	healthEndpoint string
	browserPath    string
	retry          RetryPolicy
	grace          time.Duration
	forceTimeout   time.Duration
	outputLines    int
	tailLines      int
	autoStart      bool

	wg sync.WaitGroup
}

// NewSupervisor creates a Supervisor in the IDLE state.
func NewSupervisor(config Config) (*Supervisor, error) {
	if config.Verifier == nil {
		return nil, fmt.Errorf("DependencyVerifier is required")
	}

	logger := logging.Component("Supervisor")
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "Supervisor").Logger()
	}

	ports := config.Ports
	if ports == nil {
		ports = NewPortManager()
	}
	health := config.Health
	if health == nil {
		health = NewHTTPHealthPoller(&logger)
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = events.Discard
	}

	s := &Supervisor{
		state:          StateIdle,
		layout:         config.Layout,
		verifier:       config.Verifier,
		ports:          ports,
		health:         health,
		browser:        config.Browser,
		notifier:       notifier,
		observer:       config.Observer,
		logger:         logger,
		basePort:       orDefault(config.BasePort, defaultBasePort),
		scanWidth:      orDefault(config.ScanWidth, defaultScanWidth),
		healthEndpoint: orDefault(config.HealthEndpoint, defaultHealthEndpoint),
		browserPath:    orDefault(config.BrowserPath, defaultBrowserPath),
		retry:          config.Retry.withDefaults(),
		grace:          orDefault(config.GracePeriod, defaultGracePeriod),
		forceTimeout:   orDefault(config.ForceKillTimeout, defaultForceKillTimeout),
		outputLines:    orDefault(config.OutputLines, defaultOutputLines),
		tailLines:      orDefault(config.TailLines, defaultTailLines),
		autoStart:      config.AutoStart,
	}
	return s, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// legalTransitions lists every edge of the lifecycle. Anything else is a bug.
var legalTransitions = map[State][]State{
	StateIdle:     {StateChecking, StateReady},
	StateChecking: {StateReady, StateFailed},
	StateReady:    {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateIdle},
	StateFailed:   {StateIdle},
}

// transitionLocked moves to the given state if the edge is legal and
// announces it. s.mu must be held.
func (s *Supervisor) transitionLocked(to State) bool {
	from := s.state
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			s.state = to
			s.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("State changed")
			s.notifier.ReportStatus(to)
			return true
		}
	}
	s.logger.Error().Str("from", from.String()).Str("to", to.String()).Msg("Illegal state transition ignored")
	return false
}

// resetLocked returns a terminal supervisor to IDLE. s.mu must be held.
func (s *Supervisor) resetLocked() {
	if s.state.Terminal() {
		s.session = nil
		s.transitionLocked(StateIdle)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a snapshot of the active session, if there is one.
func (s *Supervisor) Session() (SessionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return SessionSnapshot{}, false
	}
	return s.snapshotLocked(s.session), true
}

func (s *Supervisor) snapshotLocked(sess *serverSession) SessionSnapshot {
	snap := SessionSnapshot{
		ID:        sess.id,
		PID:       sess.pid(),
		Port:      sess.port,
		State:     s.state,
		StartedAt: sess.startedAt,
	}
	if sess.port > 0 {
		snap.URL = s.browserURL(sess.port)
	}
	return snap
}

func (s *Supervisor) browserURL(port int) string {
	return fmt.Sprintf("http://localhost:%d%s", port, s.browserPath)
}

// Launch begins dependency verification in the background. It is accepted in
// IDLE, or after a previous session ended, and returns ErrStartRejected
// otherwise.
func (s *Supervisor) Launch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStartRejected
	}
	s.resetLocked()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug().Str("state", state.String()).Msg("Launch rejected")
		return ErrStartRejected
	}
	s.transitionLocked(StateChecking)
	checkCtx, cancel := context.WithCancel(ctx)
	s.checkCancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runCheck(ctx, checkCtx)
	}()
	return nil
}

func (s *Supervisor) runCheck(ctx, checkCtx context.Context) {
	outcome, err := s.verifier.Verify(checkCtx, s.layout)

	s.mu.Lock()
	s.checkCancel = nil
	if s.state != StateChecking {
		s.mu.Unlock()
		return
	}
	if checkCtx.Err() != nil {
		// Stop or Close landed during the check; its result no longer counts.
		s.verified = false
		s.transitionLocked(StateFailed)
		s.mu.Unlock()
		s.logger.Info().Msg("Dependency check cancelled")
		return
	}
	if err != nil {
		s.verified = false
		s.transitionLocked(StateFailed)
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("Dependency check failed")
		s.notifier.ReportError(err)
		return
	}
	s.verified = true
	s.outcome = outcome
	s.transitionLocked(StateReady)
	s.mu.Unlock()

	s.logger.Info().Str("status", outcome.Status.String()).Bool("mediaToolMissing", outcome.MediaToolMissing).Msg("Dependencies verified")
	if s.autoStart {
		if err := s.Start(ctx); err != nil {
			s.logger.Debug().Err(err).Msg("Automatic start skipped")
		}
	}
}

// Start spawns the backend. It is accepted in READY, or after a previous
// session ended when dependencies were already verified; in every other state
// it returns ErrStartRejected and changes nothing. The start sequence runs in
// the background and ends in RUNNING or FAILED.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStartRejected
	}
	if s.state.Terminal() && s.verified {
		s.resetLocked()
	}
	if s.state == StateIdle && s.verified {
		s.transitionLocked(StateReady)
	}
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug().Str("state", state.String()).Msg("Start rejected")
		return ErrStartRejected
	}

	startCtx, cancel := context.WithCancel(ctx)
	sess := &serverSession{
		id:               uuid.NewString(),
		startedAt:        time.Now(),
		output:           NewLogBuffer(s.outputLines),
		cancel:           cancel,
		startDone:        make(chan struct{}),
		ended:            make(chan struct{}),
		mediaToolMissing: s.outcome.MediaToolMissing,
	}
	s.session = sess
	s.transitionLocked(StateStarting)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(sess.startDone)
		s.runStart(startCtx, sess)
	}()
	return nil
}

func (s *Supervisor) runStart(ctx context.Context, sess *serverSession) {
	logger := s.logger.With().Str("session", sess.id).Logger()

	port, err := s.ports.Allocate(s.basePort, s.scanWidth)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to allocate port")
		s.failStart(sess, err)
		return
	}
	s.mu.Lock()
	sess.port = port
	s.mu.Unlock()
	logger.Info().Int("port", port).Msg("Allocated port for backend")

	if ctx.Err() != nil {
		return
	}

	proc, err := s.spawn(sess, port)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start backend")
		s.failStart(sess, &ProcessStartError{ExitCode: -1, Err: err})
		return
	}

	s.mu.Lock()
	sess.proc = proc
	snap := s.snapshotLocked(sess)
	s.mu.Unlock()
	logger.Info().Int("pid", proc.pid).Int("port", port).Msg("Backend started, waiting for health check")
	s.notifier.Log(events.StreamLauncher, fmt.Sprintf("Backend started (pid %d) on port %d", proc.pid, port))
	if s.observer != nil {
		s.observer.SessionStarted(snap)
	}

	if ctx.Err() != nil {
		return
	}

	baseURL := "http://localhost:" + strconv.Itoa(port)
	result := s.health.Poll(ctx, baseURL, s.healthEndpoint, s.retry, proc.alive)
	if ctx.Err() != nil {
		// Stop was requested; it takes over from here.
		return
	}

	if !result.Healthy && proc.alive() {
		logger.Warn().Int("attempts", result.Attempts).Err(result.LastErr).Msg("Health check budget exhausted, killing backend")
		s.kill(proc)
		s.failStart(sess, &HealthCheckTimeoutError{
			Port:     port,
			Attempts: result.Attempts,
			LastErr:  result.LastErr,
			Output:   sess.output.Tail(s.tailLines),
		})
		return
	}

	s.mu.Lock()
	if sess.stopping || s.session != sess {
		s.mu.Unlock()
		return
	}
	if !proc.alive() {
		s.mu.Unlock()
		code, exitErr := proc.exitStatus()
		logger.Error().Int("exitCode", code).Msg("Backend exited before becoming healthy")
		s.failStart(sess, &ProcessStartError{
			ExitCode: code,
			Output:   sess.output.Tail(s.tailLines),
			Err:      errors.Join(errProcessGone, exitErr),
		})
		return
	}
	s.transitionLocked(StateRunning)
	s.mu.Unlock()

	logger.Info().Int("attempts", result.Attempts).Dur("latency", result.Latency).Msg("Backend healthy")
	s.openOnce(sess)
}

// spawn starts the backend with its output drained into the session.
func (s *Supervisor) spawn(sess *serverSession, port int) (*backendProcess, error) {
	extra := []string{
		"PORT=" + strconv.Itoa(port),
		"NODE_ENV=production",
	}
	if !sess.mediaToolMissing {
		extra = append(extra, "FFMPEG_PATH="+s.layout.MediaToolExecutable())
	}

	cmd := exec.Command(s.layout.RuntimeExecutable(), s.layout.ServerScript())
	cmd.Dir = s.layout.AppDirectory()
	cmd.Env = s.layout.Environ(os.Environ(), extra...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	s.logger.Debug().Str("command", cmd.String()).Str("dir", cmd.Dir).Msg("Starting backend")
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	proc := newBackendProcess(cmd)
	go s.watch(sess, proc, stdout, stderr)
	return proc, nil
}

// watch drains both output streams, then reaps the process. Stream closure
// followed by the reap is how an unexpected exit is detected.
func (s *Supervisor) watch(sess *serverSession, proc *backendProcess, stdout, stderr io.ReadCloser) {
	var g errgroup.Group
	g.Go(func() error { return s.drain(sess, proc.pid, events.StreamStdout, stdout) })
	g.Go(func() error { return s.drain(sess, proc.pid, events.StreamStderr, stderr) })
	if err := g.Wait(); err != nil {
		s.logger.Warn().Int("pid", proc.pid).Err(err).Msg("Error reading backend output")
	}

	proc.exited(proc.cmd.Wait())
	s.handleExit(sess, proc)
}

func (s *Supervisor) drain(sess *serverSession, pid int, stream events.Stream, r io.ReadCloser) error {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sess.output.Add(string(stream), line)
		s.notifier.Log(stream, line)
		s.logger.Debug().Int("pid", pid).Str("stream", string(stream)).Msg(line)
	}
	return scanner.Err()
}

// handleExit turns an exit of a RUNNING backend into a crash. Exits during
// start-up or stop are handled by those paths.
func (s *Supervisor) handleExit(sess *serverSession, proc *backendProcess) {
	code, exitErr := proc.exitStatus()
	s.logger.Info().Int("pid", proc.pid).Int("exitCode", code).Msg("Backend exited")

	s.mu.Lock()
	if s.session != sess || sess.stopping || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	sess.stopping = true
	s.transitionLocked(StateStopping)
	crash := &ProcessCrashError{
		PID:      proc.pid,
		ExitCode: code,
		Output:   sess.output.Tail(s.tailLines),
		Err:      exitErr,
	}
	s.transitionLocked(StateFailed)
	snap := s.endLocked(sess)
	s.mu.Unlock()

	s.logger.Error().Int("pid", proc.pid).Int("exitCode", code).Msg("Backend crashed")
	s.notifier.ReportError(crash)
	if s.observer != nil {
		s.observer.SessionEnded(snap, crash)
	}
}

// failStart ends a session that never reached RUNNING. A concurrent Stop
// owns the session instead, so nothing is done in that case.
func (s *Supervisor) failStart(sess *serverSession, err error) {
	s.mu.Lock()
	if sess.stopping || s.session != sess {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StateFailed)
	snap := s.endLocked(sess)
	s.mu.Unlock()

	s.notifier.ReportError(err)
	if s.observer != nil {
		s.observer.SessionEnded(snap, err)
	}
}

// endLocked releases the process handle and marks the session finished.
// The terminal state stays visible until the next Launch or Start.
func (s *Supervisor) endLocked(sess *serverSession) SessionSnapshot {
	snap := s.snapshotLocked(sess)
	sess.proc = nil
	s.session = nil
	close(sess.ended)
	return snap
}

func (s *Supervisor) kill(proc *backendProcess) {
	if err := proc.ForceStop(); err != nil {
		s.logger.Warn().Int("pid", proc.pid).Err(err).Msg("Failed to kill backend")
	}
	timer := time.NewTimer(s.forceTimeout)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
		s.logger.Warn().Int("pid", proc.pid).Msg("Backend still alive after kill")
	}
}

// Stop shuts the backend down: terminate, wait GracePeriod, kill, wait
// ForceKillTimeout. It returns once the session has ended and is a no-op when
// nothing is running. A Stop during start-up cancels the health check first.
// The returned error only reports a process that outlived the forced kill;
// the supervisor still ends in STOPPED.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateChecking:
		cancel := s.checkCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case StateStopping:
		sess := s.session
		s.mu.Unlock()
		if sess != nil {
			s.waitEnded(sess)
		}
		return nil
	case StateStarting, StateRunning:
	default:
		s.mu.Unlock()
		return nil
	}

	sess := s.session
	sess.stopping = true
	wasStarting := s.state == StateStarting
	s.transitionLocked(StateStopping)
	s.mu.Unlock()

	sess.cancel()
	if wasStarting {
		// The start sequence observes the cancellation between steps.
		<-sess.startDone
	}

	s.mu.Lock()
	proc := sess.proc
	s.mu.Unlock()

	var stopErr error
	if proc != nil {
		start := time.Now()
		outcome, err := Shutdown(proc, s.grace, s.forceTimeout)
		s.logger.Info().Int("pid", proc.pid).Str("outcome", outcome.String()).Dur("elapsed", time.Since(start)).Msg("Backend stopped")
		if err != nil {
			s.logger.Error().Int("pid", proc.pid).Err(err).Msg("Backend did not exit")
			stopErr = err
		}
	}

	s.mu.Lock()
	s.transitionLocked(StateStopped)
	snap := s.endLocked(sess)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SessionEnded(snap, stopErr)
	}
	return stopErr
}

func (s *Supervisor) waitEnded(sess *serverSession) {
	timer := time.NewTimer(s.grace + s.forceTimeout)
	defer timer.Stop()
	select {
	case <-sess.ended:
	case <-timer.C:
	}
}

// Restart stops a running or starting backend and starts it again on a
// freshly allocated port.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Stop before restart did not complete cleanly")
	}
	return s.Start(ctx)
}

func (s *Supervisor) openOnce(sess *serverSession) {
	sess.opened.Do(func() {
		url := s.browserURL(sess.port)
		if s.browser == nil {
			s.notifier.Log(events.StreamLauncher, "Server ready, visit "+url)
			return
		}
		if err := s.browser.Open(url); err != nil {
			s.logger.Warn().Str("url", url).Err(err).Msg("Failed to open browser")
			s.notifier.Log(events.StreamLauncher, "Could not open a browser, visit "+url)
			return
		}
		s.notifier.Log(events.StreamLauncher, "Opened "+url)
	})
}

// OpenBrowser opens the running backend's page again on request.
func (s *Supervisor) OpenBrowser() error {
	s.mu.Lock()
	if s.state != StateRunning || s.session == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	url := s.browserURL(s.session.port)
	s.mu.Unlock()

	if s.browser == nil {
		return fmt.Errorf("no browser configured, visit %s", url)
	}
	return s.browser.Open(url)
}

// Close stops the backend, cancels a pending dependency check and waits for
// the supervisor's workers to finish. Launch and Start are rejected afterwards.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.checkCancel != nil {
		s.checkCancel()
	}
	s.mu.Unlock()

	err := s.Stop()
	s.wg.Wait()
	// A start sequence that was already running when Close began may have
	// reached RUNNING while we waited.
	if err2 := s.Stop(); err == nil {
		err = err2
	}
	return err
}
