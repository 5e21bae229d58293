// Package ask implements the out-of-band question exchange used during an
// interruption: one HTTP request carrying typed text or a recorded clip,
// answered with a single JSON document.
package ask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/livecast/internal/observe"
)

const (
	defaultTimeout = 60 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var (
	// ErrEmptyRequest is returned when neither a question nor audio is given.
	ErrEmptyRequest = errors.New("ask: question and audio are both empty")

	// ErrRejected is wrapped by [ServerError].
	ErrRejected = errors.New("ask: request rejected")
)

// ServerError is returned for non-2xx responses. Detail carries the server's
// explanation when it sent one.
type ServerError struct {
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("ask: server returned HTTP %d", e.StatusCode)
}

func (e *ServerError) Unwrap() error { return ErrRejected }

// Request is one question. Exactly one of Question or Audio is sent; Audio
// wins when both are present.
type Request struct {
	Question string

	// Audio is a complete WAV file.
	Audio []byte
}

// Answer is the server response to a [Request].
type Answer struct {
	Text string
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// Client posts questions to a fixed endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a client for the ask endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("ask: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Ask sends req and waits for the answer.
func (c *Client) Ask(ctx context.Context, req Request) (Answer, error) {
	kind := "text"
	if len(req.Audio) > 0 {
		kind = "audio"
	}
	ctx, span := observe.StartSpan(ctx, "ask.exchange")
	defer span.End()
	span.SetAttributes(attribute.String("ask.kind", kind))

	ans, err := c.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Warn("ask failed", "kind", kind, "err", err)
		return Answer{}, err
	}
	observe.Logger(ctx).Debug("ask answered", "kind", kind, "answer_len", len(ans.Text))
	return ans, nil
}

func (c *Client) do(ctx context.Context, req Request) (Answer, error) {
	body, contentType, err := encodeRequest(req)
	if err != nil {
		return Answer{}, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Answer{}, fmt.Errorf("ask: create request: %w", err)
	}
	hreq.Header.Set("Content-Type", contentType)
	hreq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return Answer{}, fmt.Errorf("ask: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Answer{}, fmt.Errorf("ask: read response body: %w", err)
	}

	var result struct {
		Answer string `json:"answer"`
		Text   string `json:"text"`
		Detail string `json:"detail"`
	}
	decodeErr := json.Unmarshal(data, &result)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Answer{}, &ServerError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(result.Detail)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Answer{}, nil
	}
	if decodeErr != nil {
		return Answer{}, fmt.Errorf("ask: parse JSON response: %w", decodeErr)
	}

	text := result.Answer
	if text == "" {
		text = result.Text
	}
	return Answer{Text: strings.TrimSpace(text)}, nil
}

// encodeRequest builds a JSON body for text questions and a multipart form
// with a single "file" part for audio.
func encodeRequest(req Request) (io.Reader, string, error) {
	if len(req.Audio) > 0 {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "audio.wav")
		if err != nil {
			return nil, "", fmt.Errorf("ask: create form file: %w", err)
		}
		if _, err := fw.Write(req.Audio); err != nil {
			return nil, "", fmt.Errorf("ask: write audio: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, "", fmt.Errorf("ask: close multipart writer: %w", err)
		}
		return &buf, mw.FormDataContentType(), nil
	}

	q := strings.TrimSpace(req.Question)
	if q == "" {
		return nil, "", ErrEmptyRequest
	}
	data, err := json.Marshal(struct {
		Question string `json:"question"`
	}{q})
	if err != nil {
		return nil, "", fmt.Errorf("ask: marshal question: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}
