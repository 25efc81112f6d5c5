// Package console is the launcher's terminal front end. It prints supervisor
// events as they arrive and maps single key presses to supervisor commands.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/tomyedwab/medialauncher/launcher/events"
	"github.com/tomyedwab/medialauncher/launcher/logging"
	"github.com/tomyedwab/medialauncher/launcher/processes"
)

// Controller is the part of the supervisor the console drives.
type Controller interface {
	State() processes.State
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	OpenBrowser() error
}

const ctrlC = 3

// Console handles interactive user input and event display.
type Console struct {
	ctrl   Controller
	events <-chan events.Event
	in     io.Reader
	logger zerolog.Logger

	outMu sync.Mutex
	out   io.Writer
	raw   bool // terminal is in raw mode, lines need \r\n

	confirmQuit bool

	// Stop and Restart run off the key loop; one at a time.
	busy atomic.Bool
	ops  sync.WaitGroup
}

// Config holds configuration options for the Console.
type Config struct {
	Controller Controller          // Required
	Events     <-chan events.Event // Optional, nothing is printed when nil
	In         io.Reader           // Optional, defaults to os.Stdin
	Out        io.Writer           // Optional, defaults to os.Stdout
}

// New creates a Console.
func New(config Config) (*Console, error) {
	if config.Controller == nil {
		return nil, errors.New("Controller is required")
	}
	in := config.In
	if in == nil {
		in = os.Stdin
	}
	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		ctrl:   config.Controller,
		events: config.Events,
		in:     in,
		out:    out,
		logger: logging.Component("Console"),
	}, nil
}

// Run shows instructions, then prints events and handles keys until the user
// quits or ctx is cancelled. The backend is always stopped before Run
// returns.
func (c *Console) Run(ctx context.Context) error {
	if restore := c.enterRawMode(); restore != nil {
		defer restore()
	}

	var wg sync.WaitGroup
	displayDone := make(chan struct{})
	if c.events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.display(displayDone)
		}()
	}

	c.showInstructions()
	readDone := make(chan struct{})
	defer close(readDone)
	keys := c.readKeys(readDone)

	defer func() {
		c.println("Stopping server...")
		// A restart still in flight could start the backend again after
		// the final stop.
		c.ops.Wait()
		if err := c.ctrl.Stop(); err != nil {
			c.println(fmt.Sprintf("Stop did not complete cleanly: %v", err))
		}
		close(displayDone)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				// No more input (stdin closed); keep serving until cancelled.
				keys = nil
				continue
			}
			if c.HandleKey(ctx, key) {
				return nil
			}
		}
	}
}

// display prints events until stop is closed. Events still queued when stop
// closes are dropped; the bus owner drains them on Close.
func (c *Console) display(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.println(FormatEvent(ev))
		}
	}
}

func (c *Console) readKeys(done <-chan struct{}) <-chan byte {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := c.in.Read(buf)
			if n > 0 {
				select {
				case keys <- buf[0]:
				case <-done:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Debug().Err(err).Msg("Stopped reading keys")
				}
				return
			}
		}
	}()
	return keys
}

// HandleKey executes the command bound to key and reports whether the
// console should exit.
func (c *Console) HandleKey(ctx context.Context, key byte) bool {
	if key == '\n' || key == '\r' {
		return false
	}
	if c.confirmQuit {
		c.confirmQuit = false
		if key == 'y' || key == 'Y' {
			return true
		}
		c.println("Quit cancelled.")
		return false
	}

	switch key {
	case 's', 'S':
		if err := c.ctrl.Start(ctx); err != nil {
			c.println(fmt.Sprintf("Cannot start while %s.", strings.ToLower(c.ctrl.State().String())))
		}
	case 'x', 'X':
		c.background(func() {
			if err := c.ctrl.Stop(); err != nil {
				c.println(fmt.Sprintf("Stop did not complete cleanly: %v", err))
			}
		})
	case 'r', 'R':
		c.background(func() {
			if err := c.ctrl.Restart(ctx); err != nil {
				c.println(fmt.Sprintf("Restart failed: %v", err))
			}
		})
	case 'o', 'O':
		if err := c.ctrl.OpenBrowser(); err != nil {
			c.println(fmt.Sprintf("Cannot open browser: %v", err))
		}
	case 'q', 'Q':
		if state := c.ctrl.State(); state == processes.StateStarting || state == processes.StateRunning {
			c.confirmQuit = true
			c.println(fmt.Sprintf("The server is %s. Stop it and quit? [y/N]", strings.ToLower(state.String())))
			return false
		}
		return true
	case ctrlC:
		return true
	case 'h', 'H', '?':
		c.showInstructions()
	}
	return false
}

// background runs a blocking supervisor command so the key loop keeps
// serving. Keys arriving while one is in flight are refused.
func (c *Console) background(op func()) {
	if !c.busy.CompareAndSwap(false, true) {
		c.println("Still working on the previous command.")
		return
	}
	c.ops.Add(1)
	go func() {
		defer c.ops.Done()
		defer c.busy.Store(false)
		op()
	}()
}

func (c *Console) showInstructions() {
	c.println("Media Explorer launcher")
	c.println("  s start   x stop   r restart   o open browser   q quit")
}

func (c *Console) println(line string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.raw {
		line = strings.ReplaceAll(line, "\n", "\r\n")
		fmt.Fprint(c.out, line+"\r\n")
		return
	}
	fmt.Fprintln(c.out, line)
}

// enterRawMode puts a terminal stdin into raw mode so single key presses are
// delivered without Enter. It returns nil when input is not a terminal.
func (c *Console) enterRawMode() func() {
	f, ok := c.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to set raw mode, keys need Enter")
		return nil
	}
	c.outMu.Lock()
	c.raw = true
	c.outMu.Unlock()
	return func() {
		c.outMu.Lock()
		c.raw = false
		c.outMu.Unlock()
		term.Restore(fd, state)
	}
}
