package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livecast/internal/channel"
	"github.com/MrWong99/livecast/internal/transcript"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a WebSocket server that hands each accepted conn to
// handler. It is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("server read: %v", err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("server unmarshal %q: %v", data, err)
	}
	return m
}

func write(t *testing.T, conn *websocket.Conn, typ websocket.MessageType, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, typ, data); err != nil {
		t.Errorf("server write: %v", err)
	}
}

// recorder collects everything dispatched by a client.
type recorder struct {
	mu       sync.Mutex
	segments [][]byte
	updates  []transcript.Update
	closed   chan error
}

func newRecorder(c *channel.Client) *recorder {
	r := &recorder{closed: make(chan error, 1)}
	c.OnSegment(func(data []byte) {
		r.mu.Lock()
		r.segments = append(r.segments, data)
		r.mu.Unlock()
	})
	c.OnControl(func(u transcript.Update) {
		r.mu.Lock()
		r.updates = append(r.updates, u)
		r.mu.Unlock()
	})
	c.OnClosed(func(err error) { r.closed <- err })
	return r
}

func (r *recorder) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("closed handler not invoked")
		return nil
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestOpen_SendsInitOnce(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 2)
	srv := startServer(t, func(conn *websocket.Conn) {
		got <- readMessage(t, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	c := channel.New(wsURL(srv))
	rec := newRecorder(c)
	if err := c.Open(context.Background(), "black holes", 5); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	msg := <-got
	if msg["type"] != "init" || msg["topic"] != "black holes" || msg["duration"] != float64(5) {
		t.Errorf("init = %v", msg)
	}
	if err := rec.waitClosed(t); err != nil {
		t.Errorf("normal close reported %v", err)
	}
	if c.State() != channel.StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}

	if err := c.Open(context.Background(), "again", 1); !errors.Is(err, channel.ErrAlreadyOpened) {
		t.Errorf("second Open = %v, want ErrAlreadyOpened", err)
	}
}

func TestReadLoop_ClassifiesFrames(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn)
		write(t, conn, websocket.MessageBinary, []byte("ID3 audio one"))
		write(t, conn, websocket.MessageText, []byte(`{"status":"initial","conversation":["Host: welcome","Guest: thanks"]}`))
		write(t, conn, websocket.MessageText, []byte(`not json`))
		write(t, conn, websocket.MessageText, []byte(`{"status":"delta","message":{"speaker":"Host","text":"so"}}`))
		write(t, conn, websocket.MessageBinary, []byte("ID3 audio two"))
		conn.Close(websocket.StatusNormalClosure, "done")
	})

	c := channel.New(wsURL(srv))
	rec := newRecorder(c)
	if err := c.Open(context.Background(), "t", 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	if err := rec.waitClosed(t); err != nil {
		t.Fatalf("closed with %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.segments) != 2 || string(rec.segments[0]) != "ID3 audio one" || string(rec.segments[1]) != "ID3 audio two" {
		t.Errorf("segments = %q", rec.segments)
	}
	if len(rec.updates) != 2 {
		t.Fatalf("updates = %+v, want 2 (malformed frame dropped)", rec.updates)
	}
	if rec.updates[0].Status != transcript.StatusInitial || len(rec.updates[0].Conversation) != 2 {
		t.Errorf("initial update = %+v", rec.updates[0])
	}
	if rec.updates[0].Conversation[1] != (transcript.Turn{Speaker: "Guest", Text: "thanks"}) {
		t.Errorf("string turn parsed as %+v", rec.updates[0].Conversation[1])
	}
	if m := rec.updates[1].Message; rec.updates[1].Status != transcript.StatusDelta || m == nil || m.Text != "so" {
		t.Errorf("delta update = %+v", rec.updates[1])
	}
}

func TestSignal(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 2)
	release := make(chan struct{})
	srv := startServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn)
		got <- readMessage(t, conn)
		got <- readMessage(t, conn)
		<-release
	})

	c := channel.New(wsURL(srv))
	if err := c.Signal(context.Background(), "ready_for_next"); !errors.Is(err, channel.ErrNotOpen) {
		t.Errorf("Signal before Open = %v, want ErrNotOpen", err)
	}
	if err := c.Open(context.Background(), "t", 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 2 {
		if err := c.Signal(context.Background(), "ready_for_next"); err != nil {
			t.Fatalf("Signal: %v", err)
		}
	}
	for range 2 {
		if msg := <-got; msg["type"] != "ready_for_next" {
			t.Errorf("signal = %v", msg)
		}
	}
	close(release)

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := c.Signal(context.Background(), "ready_for_next"); !errors.Is(err, channel.ErrNotOpen) {
		t.Errorf("Signal after Close = %v, want ErrNotOpen", err)
	}
}

func TestTransportError_Fails(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn)
		conn.Close(websocket.StatusInternalError, "generation crashed")
	})

	c := channel.New(wsURL(srv))
	rec := newRecorder(c)
	if err := c.Open(context.Background(), "t", 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	err := rec.waitClosed(t)
	if err == nil {
		t.Fatal("abnormal close reported nil error")
	}
	if websocket.CloseStatus(err) != websocket.StatusInternalError {
		t.Errorf("close status = %v, want internal error", websocket.CloseStatus(err))
	}
	if c.State() != channel.StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
}

func TestOpen_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	c := channel.New(wsURL(srv), channel.WithDialTimeout(time.Second))
	invoked := false
	c.OnClosed(func(error) { invoked = true })
	if err := c.Open(context.Background(), "t", 1); err == nil {
		t.Fatal("expected dial error")
	}
	if c.State() != channel.StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	if invoked {
		t.Error("closed handler invoked for a failed Open")
	}
}

func TestClose_LocalDoesNotInvokeHandler(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn) {
		readMessage(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	c := channel.New(wsURL(srv))
	rec := newRecorder(c)
	if err := c.Open(context.Background(), "t", 1); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-rec.closed:
		t.Errorf("closed handler invoked with %v after local close", err)
	case <-time.After(100 * time.Millisecond):
	}
	if c.State() != channel.StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
}
