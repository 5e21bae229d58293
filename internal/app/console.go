package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/livecast/internal/coordinator"
	"github.com/MrWong99/livecast/internal/transcript"
)

// ErrQuit is returned by [Console.Run] when the listener asks to quit.
var ErrQuit = errors.New("app: quit requested")

// Session is the listener-facing surface the console drives.
type Session interface {
	PlayPause() error
	SkipBack() error
	SkipForward() error
	AskText(question string) error
	StartRecording() error
	StopRecording() error
	Snapshot() coordinator.Snapshot
}

const consoleHelp = `commands:
  p           play / pause
  b | f       skip back / forward
  ask <text>  ask a typed question
  rec | stop  record / submit a spoken question
  t           print the transcript
  s           print the session state
  q           quit
`

// Console reads line commands and prints transcript changes.
type Console struct {
	sess Session
	in   io.Reader
	out  io.Writer
}

// NewConsole creates a console reading from in and writing to out.
func NewConsole(sess Session, in io.Reader, out io.Writer) *Console {
	return &Console{sess: sess, in: in, out: &lockedWriter{w: out}}
}

// Run processes commands until ctx is cancelled, the input ends, or the
// listener quits. End of input returns nil; quitting returns [ErrQuit].
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprint(c.out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			if err != nil {
				return fmt.Errorf("app: read commands: %w", err)
			}
			return nil
		case line := <-lines:
			if err := c.Exec(line); err != nil {
				if errors.Is(err, ErrQuit) || errors.Is(err, coordinator.ErrStopped) {
					return err
				}
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "p", "play", "pause":
		return c.sess.PlayPause()
	case "b", "back":
		return c.sess.SkipBack()
	case "f", "fwd", "forward":
		return c.sess.SkipForward()
	case "ask":
		if arg == "" {
			return errors.New("usage: ask <question>")
		}
		return c.sess.AskText(arg)
	case "rec", "record":
		return c.sess.StartRecording()
	case "stop":
		return c.sess.StopRecording()
	case "t", "transcript":
		c.printTurns(c.sess.Snapshot().Transcript)
		return nil
	case "s", "state":
		c.printState(c.sess.Snapshot())
		return nil
	case "h", "help", "?":
		fmt.Fprint(c.out, consoleHelp)
		return nil
	case "q", "quit", "exit":
		return ErrQuit
	}
	return fmt.Errorf("unknown command %q (h for help)", cmd)
}

// Follow prints transcript views as they arrive until updates is closed or
// ctx is cancelled. Only turns not printed before are written, unless the
// view was replaced by a shorter one.
func (c *Console) Follow(ctx context.Context, updates <-chan []transcript.Turn) {
	var printed []transcript.Turn
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-updates:
			if !ok {
				return
			}
			start := len(printed)
			if !prefixEqual(printed, view) {
				fmt.Fprintln(c.out, "── transcript ──")
				start = 0
			}
			c.printTurns(view[start:])
			printed = view
		}
	}
}

func (c *Console) printTurns(turns []transcript.Turn) {
	for _, t := range turns {
		fmt.Fprintln(c.out, t.String())
	}
}

func (c *Console) printState(s coordinator.Snapshot) {
	fmt.Fprintf(c.out, "state=%s session=%s loading=%t recording=%t queued=%d consumed=%d\n",
		s.State, s.Session, s.Loading, s.Recording, s.Queued, s.Consumed)
	if s.Error != "" {
		fmt.Fprintf(c.out, "error: %s\n", s.Error)
	}
}

func prefixEqual(prefix, view []transcript.Turn) bool {
	return len(prefix) <= len(view) && slices.Equal(prefix, view[:len(prefix)])
}

// lockedWriter serialises writes from the command loop and the follower.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
