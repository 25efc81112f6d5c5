package history

import (
	"time"

	"github.com/tomyedwab/medialauncher/launcher/processes"
)

// Recorder writes supervisor sessions to a Store. Write failures are logged
// and never reach the supervisor.
type Recorder struct {
	store *Store
	now   func() time.Time
}

var _ processes.SessionObserver = (*Recorder)(nil)

// NewRecorder creates a Recorder backed by store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// SessionStarted records a freshly spawned backend.
func (r *Recorder) SessionStarted(s processes.SessionSnapshot) {
	if err := r.store.RecordStart(s.ID, s.Port, s.PID, s.StartedAt, s.State.String()); err != nil {
		r.store.logger.Warn("Failed to record session start", "session", s.ID, "error", err)
	}
}

// SessionEnded records how a session finished.
func (r *Recorder) SessionEnded(s processes.SessionSnapshot, err error) {
	if recErr := r.store.RecordEnd(s.ID, s.Port, s.PID, s.StartedAt, r.now(), s.State.String(), err); recErr != nil {
		r.store.logger.Warn("Failed to record session end", "session", s.ID, "error", recErr)
	}
}
