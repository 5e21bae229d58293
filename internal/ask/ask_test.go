package ask_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livecast/internal/ask"
)

func newServer(t *testing.T, h http.HandlerFunc) *ask.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := ask.New(srv.URL + "/ask")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_EmptyEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := ask.New(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestAsk_TextQuestion(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ask" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["question"] != "what is a quasar?" {
			t.Errorf("question = %q", body["question"])
		}
		w.Write([]byte(`{"answer":"  A very bright nucleus. "}`))
	})

	ans, err := c.Ask(context.Background(), ask.Request{Question: " what is a quasar? "})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "A very bright nucleus." {
		t.Errorf("answer = %q", ans.Text)
	}
}

func TestAsk_AudioUpload(t *testing.T) {
	t.Parallel()

	clip := []byte("RIFF....WAVEfmt ")
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if hdr.Filename != "audio.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		got, _ := io.ReadAll(f)
		if string(got) != string(clip) {
			t.Errorf("uploaded %q, want %q", got, clip)
		}
		w.Write([]byte(`{"text":"heard you"}`))
	})

	ans, err := c.Ask(context.Background(), ask.Request{Question: "ignored", Audio: clip})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "heard you" {
		t.Errorf("answer = %q", ans.Text)
	}
}

func TestAsk_ServerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "detail", status: http.StatusBadRequest, body: `{"detail":"Could not understand audio"}`, wantMsg: "Could not understand audio"},
		{name: "no detail", status: http.StatusInternalServerError, body: `oops`, wantMsg: "HTTP 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Ask(context.Background(), ask.Request{Question: "q"})
			var se *ask.ServerError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *ServerError", err)
			}
			if se.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", se.StatusCode, tt.status)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
			if !errors.Is(err, ask.ErrRejected) {
				t.Error("ServerError should wrap ErrRejected")
			}
		})
	}
}

func TestAsk_EmptyAndMalformed(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{not json`))
	})

	if _, err := c.Ask(context.Background(), ask.Request{Question: "  "}); !errors.Is(err, ask.ErrEmptyRequest) {
		t.Errorf("blank question err = %v, want ErrEmptyRequest", err)
	}
	if _, err := c.Ask(context.Background(), ask.Request{Question: "q"}); err == nil {
		t.Error("expected parse error for malformed body")
	}
}

func TestAsk_EmptyBodyIsEmptyAnswer(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ans, err := c.Ask(context.Background(), ask.Request{Question: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "" {
		t.Errorf("answer = %q, want empty", ans.Text)
	}
}

func TestAsk_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Ask(ctx, ask.Request{Question: "q"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
