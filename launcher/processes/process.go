package processes

import (
	"errors"
	"os/exec"
	"sync"
	"time"
)

// State is the supervisor's lifecycle state.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota
	// StateChecking means dependencies are being verified.
	StateChecking
	// StateReady means dependencies are in place and Start is allowed.
	StateReady
	// StateStarting means the backend was spawned and is being health checked.
	StateStarting
	// StateRunning means the backend answered its health check.
	StateRunning
	// StateStopping means the backend is being shut down.
	StateStopping
	// StateStopped means the backend was stopped on request.
	StateStopped
	// StateFailed means verification, startup or the running backend failed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateChecking:
		return "CHECKING"
	case StateReady:
		return "READY"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "INVALID"
	}
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// LogEntry is one line of backend output.
type LogEntry struct {
	ID        int64
	Timestamp time.Time
	Stream    string // "stdout" or "stderr"
	Message   string
}

// LogBuffer keeps the most recent output lines of a session so failures can
// be reported with context.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	nextID   int64
}

// NewLogBuffer creates a LogBuffer holding at most capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogBuffer{
		entries:  make([]LogEntry, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// Add appends a line, dropping the oldest when full.
func (lb *LogBuffer) Add(stream, message string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.entries) >= lb.capacity {
		copy(lb.entries, lb.entries[1:])
		lb.entries = lb.entries[:len(lb.entries)-1]
	}
	lb.entries = append(lb.entries, LogEntry{
		ID:        lb.nextID,
		Timestamp: time.Now(),
		Stream:    stream,
		Message:   message,
	})
	lb.nextID++
}

// Latest returns up to count of the most recent entries, oldest first.
func (lb *LogBuffer) Latest(count int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if count <= 0 || len(lb.entries) == 0 {
		return nil
	}
	start := max(len(lb.entries)-count, 0)
	result := make([]LogEntry, len(lb.entries)-start)
	copy(result, lb.entries[start:])
	return result
}

// Tail returns the messages of the most recent count entries.
func (lb *LogBuffer) Tail(count int) []string {
	entries := lb.Latest(count)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Message
	}
	return lines
}

// backendProcess owns the os/exec handle of a running backend. Only the
// supervisor holds one.
type backendProcess struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

func newBackendProcess(cmd *exec.Cmd) *backendProcess {
	return &backendProcess{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// Done is closed once the process has exited and its output is drained.
func (p *backendProcess) Done() <-chan struct{} {
	return p.done
}

func (p *backendProcess) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// exited records the result of cmd.Wait and closes done.
func (p *backendProcess) exited(err error) {
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	p.exitCode = code
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

func (p *backendProcess) exitStatus() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exitErr
}

// RequestGracefulStop asks the backend to terminate.
func (p *backendProcess) RequestGracefulStop() error {
	if !p.alive() {
		return nil
	}
	return terminateProcess(p.cmd.Process)
}

// ForceStop kills the backend and anything it spawned.
func (p *backendProcess) ForceStop() error {
	if !p.alive() {
		return nil
	}
	return killProcess(p.cmd.Process)
}

// SessionSnapshot is a read-only copy of the current session.
type SessionSnapshot struct {
	ID        string
	PID       int
	Port      int
	State     State
	StartedAt time.Time
	URL       string
}

// serverSession is the supervisor's record of the one active session. Fields
// other than the channels and output are guarded by the supervisor's lock.
type serverSession struct {
	id               string
	port             int
	startedAt        time.Time
	proc             *backendProcess
	output           *LogBuffer
	mediaToolMissing bool
	stopping         bool // Stop owns the session from here on

	cancel    func()        // cancels the start sequence
	startDone chan struct{} // closed when the start sequence returns
	ended     chan struct{} // closed when the session reaches a terminal state
	opened    sync.Once
}

func (s *serverSession) pid() int {
	if s.proc == nil {
		return 0
	}
	return s.proc.pid
}
