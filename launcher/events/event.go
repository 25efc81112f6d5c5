// Package events carries status changes, backend output and errors from the
// launcher's workers to whatever presents them.
package events

import (
	"fmt"
	"time"
)

// Kind identifies the payload an Event carries.
type Kind int

const (
	KindStatusChanged Kind = iota
	KindLogLine
	KindErrorReported
)

func (k Kind) String() string {
	switch k {
	case KindStatusChanged:
		return "status"
	case KindLogLine:
		return "log"
	case KindErrorReported:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Stream names the origin of a log line.
type Stream string

const (
	StreamStdout   Stream = "stdout"
	StreamStderr   Stream = "stderr"
	StreamLauncher Stream = "launcher"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind
	Time time.Time

	// KindStatusChanged
	State string

	// KindLogLine
	Stream Stream
	Line   string

	// KindErrorReported
	Err error
}

// Notifier is how workers talk to the user. Implementations must not block
// the caller.
type Notifier interface {
	Log(stream Stream, line string)
	ReportStatus(state fmt.Stringer)
	ReportError(err error)
}

// Discard is a Notifier that drops everything.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Log(Stream, string)        {}
func (discard) ReportStatus(fmt.Stringer) {}
func (discard) ReportError(error)         {}
