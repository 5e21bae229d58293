// Package coordinator runs one listening session: it owns the playback
// machine on a single goroutine and executes the machine's commands against
// the channel, the audio device, the microphone and the ask endpoint.
//
// Every input (frames from the channel, device events, listener commands,
// question results) is funneled into one event channel consumed by [Run].
// Nothing else touches the segment queue or the consumption counter.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/livecast/internal/ask"
	"github.com/MrWong99/livecast/internal/observe"
	"github.com/MrWong99/livecast/internal/playback"
	"github.com/MrWong99/livecast/internal/transcript"
	"github.com/MrWong99/livecast/pkg/audio"
)

// ErrStopped is returned by listener commands once the coordinator has
// shut down.
var ErrStopped = errors.New("coordinator: stopped")

// errRecordingStart is surfaced when the microphone cannot be opened.
var errRecordingStart = errors.New("failed to start recording, please try again")

// DefaultTranscriptDelay is how long transcript changes wait before they are
// published.
const DefaultTranscriptDelay = 500 * time.Millisecond

const eventBuffer = 64

// Channel is the session transport the coordinator drives.
type Channel interface {
	OnSegment(fn func(data []byte))
	OnControl(fn func(u transcript.Update))
	OnClosed(fn func(err error))
	Open(ctx context.Context, topic string, duration int) error
	Signal(ctx context.Context, kind string) error
	Close() error
}

// Asker performs the out-of-band question exchange.
type Asker interface {
	Ask(ctx context.Context, req ask.Request) (ask.Answer, error)
}

// Config describes one session.
type Config struct {
	// Topic and Duration (minutes) are sent in the init message.
	Topic    string
	Duration int

	// Playback tunes the state machine.
	Playback playback.Config

	// TranscriptDelay postpones transcript publication. Zero publishes
	// immediately.
	TranscriptDelay time.Duration

	// HideFirstTurn omits the first transcript turn from the published view.
	HideFirstTurn bool
}

// Snapshot is the observable surface of a session.
type Snapshot struct {
	State      string            `json:"state"`
	Loading    bool              `json:"loading"`
	Error      string            `json:"error,omitempty"`
	Transcript []transcript.Turn `json:"transcript"`

	Recording bool   `json:"recording"`
	Session   string `json:"session"`
	ActiveID  uint64 `json:"active_segment,omitempty"`
	Queued    int    `json:"queued"`
	Consumed  uint64 `json:"consumed"`
	Signals   uint64 `json:"signals"`
}

// Option is a functional option for configuring a [Coordinator].
type Option func(*Coordinator)

// WithRecorder enables voice questions.
func WithRecorder(r audio.Recorder) Option {
	return func(c *Coordinator) { c.rec = r }
}

// WithMetrics sets the metrics sink; the default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger; the default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// internal listener events that need coordinator-side I/O before they reach
// the machine.
type (
	recordStart struct{}
	recordStop  struct{}
)

// Coordinator runs one session. Create it with [New] and drive it with [Run].
type Coordinator struct {
	cfg     Config
	ch      Channel
	player  audio.Player
	asker   Asker
	rec     audio.Recorder
	metrics *observe.Metrics
	log     *slog.Logger

	events   chan any
	stopping chan struct{} // closed when teardown begins; posts fail after
	done     chan struct{}
	started  chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	snap Snapshot
	subs []chan []transcript.Turn

	// Owned by the Run goroutine.
	m          *playback.Machine
	recording  bool
	askStarted time.Time
	depth      int
	published  []transcript.Turn
	publishT   *time.Timer
	publishC   <-chan time.Time
}

// New creates a coordinator for one session. The channel must not be open.
func New(cfg Config, ch Channel, player audio.Player, asker Asker, opts ...Option) *Coordinator {
	if cfg.TranscriptDelay < 0 {
		cfg.TranscriptDelay = 0
	}
	c := &Coordinator{
		cfg:      cfg,
		ch:       ch,
		player:   player,
		asker:    asker,
		log:      slog.Default(),
		events:   make(chan any, eventBuffer),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		started:  make(chan struct{}),
		m:        playback.NewMachine(cfg.Playback),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.log = c.log.With("component", "coordinator")
	c.storeSnapshot()
	return c
}

// ── Listener commands ────────────────────────────────────────────────────────

// PlayPause toggles playback.
func (c *Coordinator) PlayPause() error { return c.post(playback.UserPlayPause{}) }

// SkipBack moves the position back by the skip offset.
func (c *Coordinator) SkipBack() error { return c.post(playback.UserSkip{Forward: false}) }

// SkipForward moves the position forward by the skip offset.
func (c *Coordinator) SkipForward() error { return c.post(playback.UserSkip{Forward: true}) }

// BeginInterruption pauses playback and discards the speculative tail.
func (c *Coordinator) BeginInterruption() error { return c.post(playback.UserInterruptBegin{}) }

// EndInterruption submits the question for the running interruption.
func (c *Coordinator) EndInterruption(p playback.Payload) error {
	return c.post(playback.UserInterruptEnd{Payload: p})
}

// AskText interrupts and submits a typed question in one step.
func (c *Coordinator) AskText(question string) error {
	if err := c.BeginInterruption(); err != nil {
		return err
	}
	return c.EndInterruption(playback.Payload{Question: question})
}

// StartRecording opens the microphone and, once capture runs, begins an
// interruption.
func (c *Coordinator) StartRecording() error { return c.post(recordStart{}) }

// StopRecording ends capture and submits the clip as the question.
func (c *Coordinator) StopRecording() error { return c.post(recordStop{}) }

func (c *Coordinator) post(ev any) error {
	select {
	case <-c.stopping:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.stopping:
		return ErrStopped
	}
}

// ── Observation ──────────────────────────────────────────────────────────────

// Snapshot returns the latest observable state. It is safe for concurrent
// use.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Transcript = append([]transcript.Turn(nil), s.Transcript...)
	return s
}

// Subscribe returns a channel receiving the published transcript view after
// every change. Slow receivers only see the latest view. The channel is
// closed when the coordinator stops.
func (c *Coordinator) Subscribe() <-chan []transcript.Turn {
	ch := make(chan []transcript.Turn, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		close(ch)
		return ch
	default:
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Ready reports nil once the channel session is open.
func (c *Coordinator) Ready(context.Context) error {
	if s := c.Snapshot().Session; s != playback.SessionOpen.String() {
		return fmt.Errorf("session %s", s)
	}
	return nil
}

// Done is closed when Run has returned.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// ── Event loop ───────────────────────────────────────────────────────────────

// Run opens the session and processes events until ctx is cancelled, then
// tears the session down. It returns nil on a clean shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	select {
	case <-c.started:
		return errors.New("coordinator: already running")
	default:
		close(c.started)
	}

	c.ch.OnSegment(func(data []byte) { c.post(playback.SegmentArrived{Data: data}) })
	c.ch.OnControl(func(u transcript.Update) { c.post(playback.ControlArrived{Update: u}) })
	c.ch.OnClosed(func(err error) { c.post(playback.ChannelClosed{Err: err}) })

	c.wg.Add(2)
	go c.pumpDevice()
	go c.open(ctx)

	c.log.Info("session starting", "topic", c.cfg.Topic, "duration", c.cfg.Duration)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			// Unblock producers first: closing the channel waits for its
			// reader, which may be blocked posting a frame.
			close(c.stopping)
			c.handle(ctx, playback.Teardown{})
			return nil
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		case <-c.publishC:
			c.publishTranscript()
		}
	}
}

func (c *Coordinator) open(ctx context.Context) {
	defer c.wg.Done()
	if err := c.ch.Open(ctx, c.cfg.Topic, c.cfg.Duration); err != nil {
		c.post(playback.ChannelClosed{Err: err})
		return
	}
	c.post(playback.ChannelOpened{})
}

// pumpDevice forwards device events until the player or the coordinator
// stops.
func (c *Coordinator) pumpDevice() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopping:
			return
		case ev, ok := <-c.player.Events():
			if !ok {
				return
			}
			var out playback.Event
			switch ev.Kind {
			case audio.EventStarted:
				out = playback.DeviceStarted{SegmentID: ev.SegmentID}
			case audio.EventEnded:
				out = playback.DeviceEnded{SegmentID: ev.SegmentID}
			case audio.EventFailed:
				out = playback.DeviceFailed{SegmentID: ev.SegmentID, Err: ev.Err}
			default:
				continue
			}
			if c.post(out) != nil {
				return
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.publishT != nil {
		c.publishT.Stop()
	}
	if c.recording && c.rec != nil {
		_ = c.rec.Stop()
		c.recording = false
	}
	c.storeSnapshot()

	c.mu.Lock()
	close(c.done)
	for _, s := range c.subs {
		close(s)
	}
	c.subs = nil
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("session stopped")
}

func (c *Coordinator) dispatch(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case recordStart:
		c.startRecording(ctx)
	case recordStop:
		c.stopRecording(ctx)
	case playback.Event:
		if _, ok := e.(playback.SegmentArrived); ok {
			c.metrics.SegmentsReceived.Add(ctx, 1)
		}
		c.handle(ctx, e)
	}
	c.storeSnapshot()
}

func (c *Coordinator) startRecording(ctx context.Context) {
	if c.recording {
		return
	}
	if c.rec == nil {
		c.handle(ctx, playback.CaptureFailed{Err: fmt.Errorf("%w: no microphone configured", errRecordingStart)})
		return
	}
	if err := c.rec.Start(ctx); err != nil {
		c.log.Error("recording start failed", "err", err)
		c.handle(ctx, playback.CaptureFailed{Err: errRecordingStart})
		return
	}
	c.recording = true
	c.handle(ctx, playback.UserInterruptBegin{})
}

func (c *Coordinator) stopRecording(ctx context.Context) {
	if !c.recording {
		return
	}
	c.recording = false
	if err := c.rec.Stop(); err != nil {
		c.log.Warn("recording stop", "err", err)
	}
	clip, err := c.rec.Clip()
	if err != nil {
		c.log.Error("recording clip", "err", err)
	}
	c.handle(ctx, playback.UserInterruptEnd{Payload: playback.Payload{Audio: clip}})
}

// handle feeds ev to the machine and executes the resulting commands.
func (c *Coordinator) handle(ctx context.Context, ev playback.Event) {
	before := c.m.State()

	switch e := ev.(type) {
	case playback.AskSucceeded:
		c.metrics.RecordInterruption(ctx, "answered", time.Since(c.askStarted))
	case playback.AskFailed:
		c.metrics.RecordInterruption(ctx, "failed", time.Since(c.askStarted))
		c.log.Warn("question failed", "err", e.Err)
	}

	for _, cmd := range c.m.Handle(ev) {
		c.exec(ctx, ev, cmd)
	}

	if after := c.m.State(); after != before {
		c.log.Debug("state changed", "from", before, "to", after, "event", fmt.Sprintf("%T", ev))
	}
	if depth := c.m.Queue().Size(); depth != c.depth {
		c.metrics.QueueDepth.Add(ctx, int64(depth-c.depth))
		c.depth = depth
	}
}

func (c *Coordinator) exec(ctx context.Context, ev playback.Event, cmd playback.Command) {
	switch cmd := cmd.(type) {
	case playback.LoadSegment:
		if err := c.player.Load(cmd.Segment); err != nil {
			c.handle(ctx, playback.DeviceFailed{SegmentID: cmd.Segment.ID, Err: err})
		}
	case playback.PauseDevice:
		c.deviceCall("pause", c.player.Pause)
	case playback.ResumeDevice:
		c.deviceCall("resume", c.player.Resume)
	case playback.StopDevice:
		c.deviceCall("stop", c.player.Stop)
	case playback.SeekDevice:
		pos := c.player.Position()
		if cmd.Absolute {
			pos = 0
		}
		target := playback.ClampSeek(pos, cmd.Offset, c.player.Duration())
		c.deviceCall("seek", func() error { return c.player.Seek(target) })
	case playback.SendSignal:
		if err := c.ch.Signal(ctx, cmd.Kind); err != nil {
			c.metrics.RecordSignal(ctx, "error")
			c.log.Warn("signal failed", "kind", cmd.Kind, "err", err)
			return
		}
		c.metrics.RecordSignal(ctx, "ok")
	case playback.SubmitAsk:
		c.submit(ctx, cmd.Payload)
	case playback.ResetCapture:
		if c.rec != nil {
			c.rec.Reset()
		}
	case playback.CloseChannel:
		if err := c.ch.Close(); err != nil {
			c.log.Warn("channel close", "err", err)
		}
	case playback.PublishTranscript:
		c.schedulePublish()
	case playback.ReportPlayed:
		c.metrics.SegmentsPlayed.Add(ctx, 1)
		c.log.Debug("segment played", "segment", cmd.SegmentID)
	case playback.ReportDiscarded:
		c.metrics.RecordDiscarded(ctx, len(cmd.SegmentIDs), discardReason(ev))
		c.log.Debug("segments discarded", "segments", cmd.SegmentIDs, "reason", discardReason(ev))
	case playback.ReportError:
		kind := errorKind(cmd.Err)
		c.metrics.RecordError(ctx, kind)
		c.log.Error("session error", "kind", kind, "err", cmd.Err)
	case playback.DropControl:
		c.log.Warn("dropping control update", "err", cmd.Err)
	}
}

func (c *Coordinator) deviceCall(op string, fn func() error) {
	if err := fn(); err != nil {
		c.log.Warn("device call failed", "op", op, "err", err)
	}
}

// submit runs the question exchange off the event loop and reports back.
func (c *Coordinator) submit(ctx context.Context, p playback.Payload) {
	c.askStarted = time.Now()
	req := ask.Request{Question: p.Question, Audio: p.Audio}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ans, err := c.asker.Ask(ctx, req)
		if err != nil {
			c.post(playback.AskFailed{Err: err})
			return
		}
		c.post(playback.AskSucceeded{Answer: ans.Text})
	}()
}

// ── Transcript publication ───────────────────────────────────────────────────

func (c *Coordinator) schedulePublish() {
	if c.cfg.TranscriptDelay == 0 {
		c.publishTranscript()
		return
	}
	if c.publishC != nil {
		return
	}
	c.publishT = time.NewTimer(c.cfg.TranscriptDelay)
	c.publishC = c.publishT.C
}

func (c *Coordinator) publishTranscript() {
	c.publishC = nil
	c.publishT = nil
	c.published = c.m.VisibleTranscript(c.cfg.HideFirstTurn)
	c.storeSnapshot()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		view := append([]transcript.Turn(nil), c.published...)
		select {
		case <-s:
		default:
		}
		s <- view
	}
}

func (c *Coordinator) storeSnapshot() {
	ms := c.m.Snapshot()
	s := Snapshot{
		State:      ms.State.String(),
		Loading:    ms.Loading,
		Error:      ms.Error,
		Transcript: c.published,
		Recording:  c.recording,
		Session:    ms.Session.String(),
		ActiveID:   ms.ActiveID,
		Queued:     ms.Queued,
		Consumed:   ms.Consumed,
		Signals:    ms.Signals,
	}
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

func discardReason(ev playback.Event) string {
	switch ev.(type) {
	case playback.Teardown:
		return "teardown"
	case playback.DeviceFailed:
		return "device"
	default:
		return "interruption"
	}
}

func errorKind(err error) string {
	var (
		ce *playback.ChannelError
		ie *playback.InterruptionError
		de *playback.DeviceError
	)
	switch {
	case errors.As(err, &ce):
		return "channel"
	case errors.As(err, &ie):
		return "interruption"
	case errors.As(err, &de):
		return "device"
	default:
		return "other"
	}
}
