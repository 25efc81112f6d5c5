package events

import (
	"fmt"
	"sync"
	"time"
)

// Bus is a Notifier that queues every notification, in publish order, onto a
// single channel. Publishing never blocks: the queue is unbounded and a
// goroutine hands events to the consumer as fast as it reads them.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
	now    func() time.Time
}

// NewBus creates a Bus and starts its delivery goroutine. Call Close to stop it.
func NewBus() *Bus {
	b := &Bus{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		now:  time.Now,
	}
	go b.pump()
	return b
}

// Events returns the channel the consumer reads from. It is closed after
// Close once every queued event has been delivered.
func (b *Bus) Events() <-chan Event {
	return b.out
}

// Publish queues ev. Events published after Close are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) Log(stream Stream, line string) {
	b.Publish(Event{Kind: KindLogLine, Stream: stream, Line: line})
}

func (b *Bus) ReportStatus(state fmt.Stringer) {
	b.Publish(Event{Kind: KindStatusChanged, State: state.String()})
}

func (b *Bus) ReportError(err error) {
	if err == nil {
		return
	}
	b.Publish(Event{Kind: KindErrorReported, Err: err})
}

// Close stops accepting events. Already queued events are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) pump() {
	defer close(b.out)
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		closed := b.closed
		b.mu.Unlock()

		for _, ev := range batch {
			b.out <- ev
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.wake
	}
}
