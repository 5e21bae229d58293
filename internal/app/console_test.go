package app

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livecast/internal/coordinator"
	"github.com/MrWong99/livecast/internal/transcript"
)

type recordingSession struct {
	calls []string
	snap  coordinator.Snapshot
	err   error
}

func (s *recordingSession) record(call string) error {
	s.calls = append(s.calls, call)
	return s.err
}

func (s *recordingSession) PlayPause() error { return s.record("playpause") }
func (s *recordingSession) SkipBack() error { return s.record("back") }
func (s *recordingSession) SkipForward() error { return s.record("forward") }
func (s *recordingSession) StartRecording() error { return s.record("rec") }
func (s *recordingSession) StopRecording() error { return s.record("stop") }
func (s *recordingSession) AskText(q string) error {
	return s.record("ask:" + q)
}
func (s *recordingSession) Snapshot() coordinator.Snapshot { return s.snap }

func TestConsole_Exec(t *testing.T) {
	tests := []struct {
		line     string
		want     []string
		wantErr  error
		errMatch string
	}{
		{line: "p", want: []string{"playpause"}},
		{line: "  P  ", want: []string{"playpause"}},
		{line: "b", want: []string{"back"}},
		{line: "f", want: []string{"forward"}},
		{line: "ask why is the sky blue?", want: []string{"ask:why is the sky blue?"}},
		{line: "ask", errMatch: "usage"},
		{line: "rec", want: []string{"rec"}},
		{line: "stop", want: []string{"stop"}},
		{line: "", want: nil},
		{line: "q", wantErr: ErrQuit},
		{line: "dance", errMatch: "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			sess := &recordingSession{}
			var out bytes.Buffer
			err := NewConsole(sess, strings.NewReader(""), &out).Exec(tt.line)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.errMatch != "":
				if err == nil || !strings.Contains(err.Error(), tt.errMatch) {
					t.Errorf("err = %v, want containing %q", err, tt.errMatch)
				}
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			}
			if !slices.Equal(sess.calls, tt.want) {
				t.Errorf("calls = %v, want %v", sess.calls, tt.want)
			}
		})
	}
}

func TestConsole_PrintsStateAndTranscript(t *testing.T) {
	sess := &recordingSession{snap: coordinator.Snapshot{
		State:      "PLAYING",
		Session:    "OPEN",
		Error:      "interruption: Could not understand audio",
		Transcript: []transcript.Turn{{Speaker: "Host", Text: "Welcome back."}},
	}}
	var out bytes.Buffer
	c := NewConsole(sess, strings.NewReader(""), &out)

	if err := c.Exec("s"); err != nil {
		t.Fatalf("Exec(s): %v", err)
	}
	if err := c.Exec("t"); err != nil {
		t.Fatalf("Exec(t): %v", err)
	}
	got := out.String()
	for _, want := range []string{"state=PLAYING", "session=OPEN", "error: interruption: Could not understand audio", "Host: Welcome back."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestConsole_RunStopsOnQuit(t *testing.T) {
	sess := &recordingSession{}
	var out bytes.Buffer
	c := NewConsole(sess, strings.NewReader("p\nbogus\nf\nq\nb\n"), &out)

	err := c.Run(context.Background())
	if !errors.Is(err, ErrQuit) {
		t.Fatalf("Run = %v, want ErrQuit", err)
	}
	if want := []string{"playpause", "forward"}; !slices.Equal(sess.calls, want) {
		t.Errorf("calls = %v, want %v", sess.calls, want)
	}
	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Errorf("output missing unknown command error:\n%s", out.String())
	}
}

func TestConsole_RunEndOfInput(t *testing.T) {
	sess := &recordingSession{}
	var out bytes.Buffer
	if err := NewConsole(sess, strings.NewReader("p\n"), &out).Run(context.Background()); err != nil {
		t.Errorf("Run = %v, want nil at end of input", err)
	}
}

func TestConsole_RunStopsWhenSessionStopped(t *testing.T) {
	sess := &recordingSession{err: coordinator.ErrStopped}
	var out bytes.Buffer
	err := NewConsole(sess, strings.NewReader("p\n"), &out).Run(context.Background())
	if !errors.Is(err, coordinator.ErrStopped) {
		t.Errorf("Run = %v, want ErrStopped", err)
	}
}

func TestConsole_Follow(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&recordingSession{}, strings.NewReader(""), &out)

	updates := make(chan []transcript.Turn, 3)
	host := transcript.Turn{Speaker: "Host", Text: "Hello."}
	guest := transcript.Turn{Speaker: "Guest", Text: "Hi."}
	final := transcript.Turn{Speaker: "Host", Text: "Goodbye."}
	updates <- []transcript.Turn{host}
	updates <- []transcript.Turn{host, guest}
	updates <- []transcript.Turn{final}
	close(updates)

	done := make(chan struct{})
	go func() {
		c.Follow(context.Background(), updates)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after the channel closed")
	}

	want := "Host: Hello.\nGuest: Hi.\n── transcript ──\nHost: Goodbye.\n"
	if got := out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
