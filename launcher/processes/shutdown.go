package processes

import (
	"errors"
	"time"
)

// Stoppable is anything that can be stopped in two phases.
type Stoppable interface {
	RequestGracefulStop() error
	ForceStop() error
	// Done is closed once the target has fully exited.
	Done() <-chan struct{}
}

// StopOutcome describes how a Shutdown ended.
type StopOutcome int

const (
	// StoppedGracefully means the target exited within the grace period.
	StoppedGracefully StopOutcome = iota
	// StoppedForcibly means the target had to be force stopped.
	StoppedForcibly
	// StopAbandoned means the target was still alive after the force timeout.
	StopAbandoned
)

func (o StopOutcome) String() string {
	switch o {
	case StoppedGracefully:
		return "graceful"
	case StoppedForcibly:
		return "forced"
	default:
		return "abandoned"
	}
}

// Shutdown asks h to stop, waits up to grace, then forces it and waits up to
// forceTimeout. It returns within grace+forceTimeout regardless of how h
// behaves. A failed graceful request skips straight to the forced phase.
func Shutdown(h Stoppable, grace, forceTimeout time.Duration) (StopOutcome, error) {
	select {
	case <-h.Done():
		return StoppedGracefully, nil
	default:
	}

	gracefulErr := h.RequestGracefulStop()
	if gracefulErr == nil {
		timer := time.NewTimer(grace)
		select {
		case <-h.Done():
			timer.Stop()
			return StoppedGracefully, nil
		case <-timer.C:
		}
	}

	forceErr := h.ForceStop()
	timer := time.NewTimer(forceTimeout)
	defer timer.Stop()
	select {
	case <-h.Done():
		return StoppedForcibly, nil
	case <-timer.C:
	}
	return StopAbandoned, errors.Join(ErrStopTimeout, gracefulErr, forceErr)
}
