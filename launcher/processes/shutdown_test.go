package processes

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeHandle exits on a graceful request, on a force request, or never,
// depending on its flags.
type fakeHandle struct {
	mu         sync.Mutex
	exitOnTerm bool
	exitOnKill bool
	termErr    error
	termCalls  int
	killCalls  int
	done       chan struct{}
	once       sync.Once
}

func newFakeHandle(exitOnTerm, exitOnKill bool) *fakeHandle {
	return &fakeHandle{exitOnTerm: exitOnTerm, exitOnKill: exitOnKill, done: make(chan struct{})}
}

func (h *fakeHandle) exit() { h.once.Do(func() { close(h.done) }) }

func (h *fakeHandle) RequestGracefulStop() error {
	h.mu.Lock()
	h.termCalls++
	h.mu.Unlock()
	if h.termErr != nil {
		return h.termErr
	}
	if h.exitOnTerm {
		go func() {
			time.Sleep(20 * time.Millisecond)
			h.exit()
		}()
	}
	return nil
}

func (h *fakeHandle) ForceStop() error {
	h.mu.Lock()
	h.killCalls++
	h.mu.Unlock()
	if h.exitOnKill {
		h.exit()
	}
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func TestShutdownGraceful(t *testing.T) {
	h := newFakeHandle(true, true)
	outcome, err := Shutdown(h, time.Second, time.Second)
	if err != nil || outcome != StoppedGracefully {
		t.Fatalf("Shutdown = %v, %v; want graceful, nil", outcome, err)
	}
	if h.killCalls != 0 {
		t.Errorf("ForceStop called %d times, want 0", h.killCalls)
	}
}

func TestShutdownEscalates(t *testing.T) {
	h := newFakeHandle(false, true)
	start := time.Now()
	outcome, err := Shutdown(h, 100*time.Millisecond, time.Second)
	if err != nil || outcome != StoppedForcibly {
		t.Fatalf("Shutdown = %v, %v; want forced, nil", outcome, err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("escalated before the grace period, after %v", elapsed)
	}
	if h.termCalls != 1 || h.killCalls != 1 {
		t.Errorf("term/kill calls = %d/%d, want 1/1", h.termCalls, h.killCalls)
	}
}

func TestShutdownBoundedWhenKillIgnored(t *testing.T) {
	h := newFakeHandle(false, false)
	grace, force := 100*time.Millisecond, 150*time.Millisecond

	start := time.Now()
	outcome, err := Shutdown(h, grace, force)
	elapsed := time.Since(start)

	if outcome != StopAbandoned || !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Shutdown = %v, %v; want abandoned, ErrStopTimeout", outcome, err)
	}
	if elapsed > grace+force+200*time.Millisecond {
		t.Errorf("Shutdown took %v, bound is %v", elapsed, grace+force)
	}
}

func TestShutdownGracefulRequestFails(t *testing.T) {
	h := newFakeHandle(true, true)
	h.termErr = errors.New("no such process group")

	start := time.Now()
	outcome, err := Shutdown(h, 5*time.Second, time.Second)
	if err != nil || outcome != StoppedForcibly {
		t.Fatalf("Shutdown = %v, %v; want forced, nil", outcome, err)
	}
	if time.Since(start) > time.Second {
		t.Error("a failed graceful request should skip the grace period")
	}
}

func TestShutdownAlreadyExited(t *testing.T) {
	h := newFakeHandle(false, false)
	h.exit()
	outcome, err := Shutdown(h, time.Second, time.Second)
	if err != nil || outcome != StoppedGracefully {
		t.Fatalf("Shutdown = %v, %v; want graceful, nil", outcome, err)
	}
	if h.termCalls != 0 {
		t.Errorf("RequestGracefulStop called on an exited handle")
	}
}
