package processes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStartRejected is returned by Start when the supervisor is not in a
	// state that accepts a start. Nothing has been changed.
	ErrStartRejected = errors.New("start rejected")

	// ErrNotRunning is returned by operations that need a running session.
	ErrNotRunning = errors.New("no running session")

	// ErrStopTimeout means the process outlived both the graceful and the
	// forced stop phases.
	ErrStopTimeout = errors.New("process did not exit after forced stop")
)

// PortExhaustionError means every port in the scanned range was taken.
type PortExhaustionError struct {
	BasePort  int
	ScanWidth int
}

func (e *PortExhaustionError) Error() string {
	return fmt.Sprintf("no free port in range %d-%d", e.BasePort, e.BasePort+e.ScanWidth-1)
}

// ProcessStartError means the backend could not be spawned, or exited before
// it became healthy.
type ProcessStartError struct {
	ExitCode int      // -1 when the process never ran
	Output   []string // last lines of output
	Err      error
}

func (e *ProcessStartError) Error() string {
	msg := "backend failed to start"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	return msg + formatTail(e.Output)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }

// HealthCheckTimeoutError means the health budget ran out while the process
// was still alive. The process is killed before this is reported.
type HealthCheckTimeoutError struct {
	Port     int
	Attempts int
	LastErr  error
	Output   []string
}

func (e *HealthCheckTimeoutError) Error() string {
	msg := fmt.Sprintf("backend on port %d not healthy after %d attempts", e.Port, e.Attempts)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg + formatTail(e.Output)
}

func (e *HealthCheckTimeoutError) Unwrap() error { return e.LastErr }

// ProcessCrashError means a running backend exited without being asked to.
type ProcessCrashError struct {
	PID      int
	ExitCode int
	Output   []string
	Err      error
}

func (e *ProcessCrashError) Error() string {
	return fmt.Sprintf("backend (pid %d) exited unexpectedly with code %d", e.PID, e.ExitCode) + formatTail(e.Output)
}

func (e *ProcessCrashError) Unwrap() error { return e.Err }

func formatTail(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return "\n--- last output ---\n" + strings.Join(lines, "\n")
}
