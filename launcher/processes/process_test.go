package processes

import (
	"fmt"
	"testing"
)

func TestLogBufferKeepsMostRecent(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := 1; i <= 5; i++ {
		lb.Add("stdout", fmt.Sprintf("line %d", i))
	}

	entries := lb.Latest(10)
	if len(entries) != 3 {
		t.Fatalf("Latest returned %d entries, want 3", len(entries))
	}
	if entries[0].ID != 3 || entries[2].ID != 5 {
		t.Errorf("IDs = %d..%d, want 3..5", entries[0].ID, entries[2].ID)
	}
	if got := fmt.Sprint(lb.Tail(2)); got != "[line 4 line 5]" {
		t.Errorf("Tail(2) = %s", got)
	}
	if lb.Latest(0) != nil {
		t.Error("Latest(0) should be nil")
	}
}

func TestStateTerminal(t *testing.T) {
	for s := StateIdle; s <= StateFailed; s++ {
		want := s == StateStopped || s == StateFailed
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
	if State(99).String() != "INVALID" {
		t.Errorf("unknown state string = %q", State(99).String())
	}
}

// TestLegalTransitionsCoverEveryState checks every state has a way out
func TestLegalTransitionsCoverEveryState(t *testing.T) {
	for s := StateIdle; s <= StateFailed; s++ {
		if len(legalTransitions[s]) == 0 {
			t.Errorf("%s has no outgoing transitions", s)
		}
	}
	for _, to := range legalTransitions[StateRunning] {
		if to == StateFailed {
			t.Error("RUNNING must pass through STOPPING before FAILED")
		}
	}
}
