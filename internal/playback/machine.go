package playback

import (
	"errors"
	"time"

	"github.com/MrWong99/livecast/internal/transcript"
	"github.com/MrWong99/livecast/pkg/audio"
)

// State is the playback state. The machine holds the only copy.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateInterrupted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// SessionState tracks the persistent channel as seen by the machine.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionOpen
	SessionClosed
	SessionFailed
)

// String returns the human-readable name of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "CONNECTING"
	case SessionOpen:
		return "OPEN"
	case SessionClosed:
		return "CLOSED"
	case SessionFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Defaults for [Config].
const (
	DefaultSpeculativeWindow = 2
	DefaultSkipOffset        = 5 * time.Second
	DefaultAnswerSpeaker     = "Answer"
)

var (
	// ErrClosedBeforeAudio is surfaced when the channel ends without having
	// delivered a single segment.
	ErrClosedBeforeAudio = errors.New("conversation ended before any audio arrived")

	// ErrEmptyQuestion is surfaced when an interruption ends without text or
	// recorded audio.
	ErrEmptyQuestion = errors.New("nothing to ask: question is empty")
)

// Config tunes the machine. Zero fields take the package defaults, except
// Threshold where zero is a meaningful value; use [DefaultConfig] as a base.
type Config struct {
	// SpeculativeWindow is how many trailing segments an interruption
	// discards.
	SpeculativeWindow int

	// Threshold is the consumption count from which every natural end
	// releases one backpressure token.
	Threshold int

	// SkipOffset is the step for skip back/forward.
	SkipOffset time.Duration

	// AnswerSpeaker attributes interruption answers in the transcript.
	AnswerSpeaker string
}

// DefaultConfig returns the configuration used when nothing is tuned.
func DefaultConfig() Config {
	return Config{
		SpeculativeWindow: DefaultSpeculativeWindow,
		Threshold:         DefaultThreshold,
		SkipOffset:        DefaultSkipOffset,
		AnswerSpeaker:     DefaultAnswerSpeaker,
	}
}

// Payload is what the listener asks during an interruption: typed text or a
// recorded clip.
type Payload struct {
	Question string
	Audio    []byte
}

// Empty reports whether p carries nothing to ask.
func (p Payload) Empty() bool { return p.Question == "" && len(p.Audio) == 0 }

// ─── Events ───────────────────────────────────────────────────────────────────

// Event is the closed set of inputs to [Machine.Handle].
type Event interface{ isEvent() }

type (
	// SegmentArrived carries one binary frame from the channel.
	SegmentArrived struct{ Data []byte }

	// ControlArrived carries one decoded control frame.
	ControlArrived struct{ Update transcript.Update }

	// ChannelOpened reports that the session is open and init was sent.
	ChannelOpened struct{}

	// ChannelClosed reports the end of the session. Err is nil for a clean
	// close by the server.
	ChannelClosed struct{ Err error }

	// DeviceStarted reports that the device began output of a segment.
	DeviceStarted struct{ SegmentID uint64 }

	// DeviceEnded reports the natural end of a segment.
	DeviceEnded struct{ SegmentID uint64 }

	// DeviceFailed reports that the device could not start a segment.
	DeviceFailed struct {
		SegmentID uint64
		Err       error
	}

	// UserPlayPause toggles between playing and paused.
	UserPlayPause struct{}

	// UserSkip moves the position by the configured offset.
	UserSkip struct{ Forward bool }

	// UserInterruptBegin starts an interruption.
	UserInterruptBegin struct{}

	// UserInterruptEnd submits the question for the running interruption.
	UserInterruptEnd struct{ Payload Payload }

	// CaptureFailed reports that microphone capture could not start.
	CaptureFailed struct{ Err error }

	// AskSucceeded carries the answer to the submitted question.
	AskSucceeded struct{ Answer string }

	// AskFailed reports a failed question exchange.
	AskFailed struct{ Err error }

	// Teardown ends the session for good.
	Teardown struct{}
)

func (SegmentArrived) isEvent()     {}
func (ControlArrived) isEvent()     {}
func (ChannelOpened) isEvent()      {}
func (ChannelClosed) isEvent()      {}
func (DeviceStarted) isEvent()      {}
func (DeviceEnded) isEvent()        {}
func (DeviceFailed) isEvent()       {}
func (UserPlayPause) isEvent()      {}
func (UserSkip) isEvent()           {}
func (UserInterruptBegin) isEvent() {}
func (UserInterruptEnd) isEvent()   {}
func (CaptureFailed) isEvent()      {}
func (AskSucceeded) isEvent()       {}
func (AskFailed) isEvent()          {}
func (Teardown) isEvent()           {}

// ─── Commands ─────────────────────────────────────────────────────────────────

// Command is a side effect the caller of [Machine.Handle] must perform, in
// the order returned.
type Command interface{ isCommand() }

type (
	// LoadSegment hands a segment to the device.
	LoadSegment struct{ Segment *audio.Segment }

	// PauseDevice pauses output, keeping the position.
	PauseDevice struct{}

	// ResumeDevice continues output.
	ResumeDevice struct{}

	// StopDevice unloads the current segment.
	StopDevice struct{}

	// SeekDevice moves the position. When Absolute is set, Offset is the
	// target position; otherwise it is added to the current one. The result
	// is clamped with [ClampSeek].
	SeekDevice struct {
		Offset   time.Duration
		Absolute bool
	}

	// SendSignal sends a flow-control token on the channel.
	SendSignal struct{ Kind string }

	// SubmitAsk runs the out-of-band question exchange and reports back with
	// AskSucceeded or AskFailed.
	SubmitAsk struct{ Payload Payload }

	// ResetCapture discards recorded microphone audio.
	ResetCapture struct{}

	// CloseChannel tears the session down.
	CloseChannel struct{}

	// PublishTranscript announces that the transcript changed.
	PublishTranscript struct{}

	// ReportPlayed announces a natural segment end.
	ReportPlayed struct{ SegmentID uint64 }

	// ReportDiscarded announces segments removed before finishing.
	ReportDiscarded struct{ SegmentIDs []uint64 }

	// ReportError announces a failure placed in the error slot.
	ReportError struct{ Err error }

	// DropControl announces a control frame that could not be applied.
	DropControl struct{ Err error }
)

func (LoadSegment) isCommand()       {}
func (PauseDevice) isCommand()       {}
func (ResumeDevice) isCommand()      {}
func (StopDevice) isCommand()        {}
func (SeekDevice) isCommand()        {}
func (SendSignal) isCommand()        {}
func (SubmitAsk) isCommand()         {}
func (ResetCapture) isCommand()      {}
func (CloseChannel) isCommand()      {}
func (PublishTranscript) isCommand() {}
func (ReportPlayed) isCommand()      {}
func (ReportDiscarded) isCommand()   {}
func (ReportError) isCommand()       {}
func (DropControl) isCommand()       {}

// ClampSeek returns pos+delta clamped to [0, duration].
func ClampSeek(pos, delta, duration time.Duration) time.Duration {
	return min(max(pos+delta, 0), max(duration, 0))
}

// ─── Machine ──────────────────────────────────────────────────────────────────

// priorState is what an interruption saved so a failed question can restore
// it.
type priorState struct {
	state   State
	active  uint64
	started bool
}

// Machine is the playback and interruption state machine for one
// conversation session. It is not safe for concurrent use; a single owner
// feeds it events.
type Machine struct {
	cfg     Config
	queue   *Queue
	counter Counter
	bp      *Backpressure
	tr      transcript.Transcript

	state   State
	session SessionState
	started bool // the active segment reported DeviceStarted

	awaitingFirst bool
	asking        bool
	prior         *priorState
	err           error
	closed        bool
}

// NewMachine returns a machine in [StateIdle] with the session connecting.
func NewMachine(cfg Config) *Machine {
	if cfg.SpeculativeWindow < 0 {
		cfg.SpeculativeWindow = 0
	}
	if cfg.SkipOffset <= 0 {
		cfg.SkipOffset = DefaultSkipOffset
	}
	if cfg.AnswerSpeaker == "" {
		cfg.AnswerSpeaker = DefaultAnswerSpeaker
	}
	return &Machine{
		cfg:           cfg,
		queue:         NewQueue(),
		bp:            NewBackpressure(cfg.Threshold),
		awaitingFirst: true,
	}
}

// Handle applies ev and returns the commands to execute.
func (m *Machine) Handle(ev Event) []Command {
	if m.closed {
		return nil
	}

	switch e := ev.(type) {
	case SegmentArrived:
		return m.onSegment(e)
	case ControlArrived:
		if err := m.tr.Apply(e.Update); err != nil {
			return []Command{DropControl{Err: err}}
		}
		return []Command{PublishTranscript{}}
	case ChannelOpened:
		if m.session == SessionConnecting {
			m.session = SessionOpen
		}
		return nil
	case ChannelClosed:
		return m.onChannelClosed(e)
	case DeviceStarted:
		return m.onStarted(e)
	case DeviceEnded:
		return m.onEnded(e)
	case DeviceFailed:
		return m.onFailed(e)
	case UserPlayPause:
		return m.onPlayPause()
	case UserSkip:
		if m.state != StatePlaying && m.state != StatePaused {
			return nil
		}
		delta := -m.cfg.SkipOffset
		if e.Forward {
			delta = m.cfg.SkipOffset
		}
		return []Command{SeekDevice{Offset: delta}}
	case UserInterruptBegin:
		return m.onInterruptBegin()
	case UserInterruptEnd:
		return m.onInterruptEnd(e)
	case CaptureFailed:
		m.err = &InterruptionError{Err: e.Err}
		return []Command{ReportError{Err: m.err}}
	case AskSucceeded:
		return m.onAskSucceeded(e)
	case AskFailed:
		if !m.asking {
			return nil
		}
		m.asking = false
		m.err = &InterruptionError{Err: e.Err}
		return append([]Command{ReportError{Err: m.err}}, m.resume(false)...)
	case Teardown:
		return m.onTeardown()
	}
	return nil
}

func (m *Machine) onSegment(e SegmentArrived) []Command {
	m.queue.Append(e.Data)
	if m.state == StateIdle {
		return m.startNext()
	}
	return nil
}

// startNext loads the oldest pending segment, or settles in Idle.
func (m *Machine) startNext() []Command {
	seg, ok := m.queue.PopHead()
	if !ok {
		m.state = StateIdle
		return nil
	}
	m.state = StateLoading
	m.started = false
	return []Command{LoadSegment{Segment: seg}}
}

// isActive reports whether id names the segment currently on the device.
func (m *Machine) isActive(id uint64) bool {
	seg, ok := m.queue.Active()
	return ok && seg.ID == id
}

func (m *Machine) onStarted(e DeviceStarted) []Command {
	if !m.isActive(e.SegmentID) || m.started {
		return nil
	}
	m.started = true
	m.awaitingFirst = false
	switch m.state {
	case StateLoading:
		m.state = StatePlaying
	case StateInterrupted:
		// Output began after the interruption paused the device.
		if m.prior != nil && m.prior.active == e.SegmentID {
			m.prior.started = true
		}
		return []Command{PauseDevice{}}
	}
	return nil
}

func (m *Machine) onEnded(e DeviceEnded) []Command {
	if !m.isActive(e.SegmentID) {
		return nil
	}
	m.queue.Finish()
	m.started = false
	consumed := m.counter.Inc()
	cmds := []Command{ReportPlayed{SegmentID: e.SegmentID}}

	if m.state == StateInterrupted {
		// Finished just as the interruption began; consumption stays
		// suspended.
		if m.prior != nil && m.prior.active == e.SegmentID {
			m.prior.active = 0
		}
		return cmds
	}

	if m.session == SessionOpen && m.bp.Observe(consumed) {
		cmds = append(cmds, SendSignal{Kind: SignalReadyForNext})
	}
	return append(cmds, m.startNext()...)
}

func (m *Machine) onFailed(e DeviceFailed) []Command {
	if !m.isActive(e.SegmentID) {
		return nil
	}
	m.queue.Abandon()
	m.started = false
	m.awaitingFirst = false
	m.err = &DeviceError{SegmentID: e.SegmentID, Err: e.Err}
	cmds := []Command{
		ReportError{Err: m.err},
		ReportDiscarded{SegmentIDs: []uint64{e.SegmentID}},
	}
	if m.state == StateInterrupted {
		if m.prior != nil && m.prior.active == e.SegmentID {
			m.prior.active = 0
		}
		return cmds
	}
	m.state = StateIdle
	return cmds
}

func (m *Machine) onPlayPause() []Command {
	switch m.state {
	case StatePlaying:
		m.state = StatePaused
		return []Command{PauseDevice{}}
	case StatePaused:
		m.state = StatePlaying
		return []Command{ResumeDevice{}}
	case StateIdle:
		// Picks up segments left pending after a device failure.
		return m.startNext()
	}
	return nil
}

func (m *Machine) onInterruptBegin() []Command {
	if m.state == StateInterrupted {
		return nil
	}

	var cmds []Command
	active, hasActive := m.queue.Active()
	m.prior = &priorState{state: m.state, started: m.started}
	if hasActive {
		m.prior.active = active.ID
		cmds = append(cmds, PauseDevice{})
	}

	discarded := m.queue.DiscardTail(m.cfg.SpeculativeWindow)
	if hasActive && !m.queue.Contains(active.ID) {
		m.prior.active = 0
		m.started = false
		cmds = append(cmds, StopDevice{})
	}
	m.counter.Sub(len(discarded))
	m.state = StateInterrupted

	if len(discarded) > 0 {
		ids := make([]uint64, len(discarded))
		for i, s := range discarded {
			ids[i] = s.ID
		}
		cmds = append(cmds, ReportDiscarded{SegmentIDs: ids})
	}
	return cmds
}

func (m *Machine) onInterruptEnd(e UserInterruptEnd) []Command {
	if m.state != StateInterrupted || m.asking {
		return nil
	}
	if e.Payload.Empty() {
		m.err = &InterruptionError{Err: ErrEmptyQuestion}
		return append([]Command{ReportError{Err: m.err}}, m.resume(false)...)
	}
	m.asking = true
	m.err = nil
	return []Command{SubmitAsk{Payload: e.Payload}}
}

func (m *Machine) onAskSucceeded(e AskSucceeded) []Command {
	if !m.asking {
		return nil
	}
	m.asking = false
	cmds := []Command{ResetCapture{}}
	if e.Answer != "" {
		m.tr.Append(transcript.Turn{Speaker: m.cfg.AnswerSpeaker, Text: e.Answer})
		cmds = append(cmds, PublishTranscript{})
	}
	cmds = append(cmds, m.resume(true)...)
	if m.session == SessionOpen {
		cmds = append(cmds, SendSignal{Kind: SignalReadyForNext})
	}
	return cmds
}

// resume leaves Interrupted. A surviving active segment restarts from the
// beginning after a successful question and continues from its paused
// position after a failed one; otherwise the next pending segment starts.
func (m *Machine) resume(answered bool) []Command {
	prior := m.prior
	m.prior = nil
	if prior == nil {
		prior = &priorState{state: StateIdle}
	}

	if _, ok := m.queue.Active(); ok {
		m.state = StateLoading
		if m.started {
			m.state = StatePlaying
		}
		if answered {
			return []Command{SeekDevice{Offset: 0, Absolute: true}, ResumeDevice{}}
		}
		if prior.state == StatePaused && m.started {
			m.state = StatePaused
			return nil
		}
		return []Command{ResumeDevice{}}
	}
	return m.startNext()
}

func (m *Machine) onChannelClosed(e ChannelClosed) []Command {
	if m.session == SessionClosed || m.session == SessionFailed {
		return nil
	}
	var surfaced error
	if e.Err != nil {
		m.session = SessionFailed
		surfaced = &ChannelError{Err: e.Err}
	} else {
		m.session = SessionClosed
	}
	if m.queue.Arrived() == 0 {
		m.awaitingFirst = false
		if surfaced == nil {
			surfaced = &ChannelError{Err: ErrClosedBeforeAudio}
		}
	}
	if surfaced == nil {
		return nil
	}
	m.err = surfaced
	return []Command{ReportError{Err: surfaced}}
}

func (m *Machine) onTeardown() []Command {
	var cmds []Command
	if _, ok := m.queue.Active(); ok {
		cmds = append(cmds, StopDevice{})
	}
	if discarded := m.queue.DiscardTail(m.queue.Size()); len(discarded) > 0 {
		ids := make([]uint64, len(discarded))
		for i, s := range discarded {
			ids[i] = s.ID
		}
		cmds = append(cmds, ReportDiscarded{SegmentIDs: ids})
	}
	cmds = append(cmds, CloseChannel{})

	m.state = StateIdle
	m.started = false
	m.asking = false
	m.awaitingFirst = false
	m.prior = nil
	m.closed = true
	return cmds
}

// ─── Observation ──────────────────────────────────────────────────────────────

// Snapshot is the observable surface of the machine.
type Snapshot struct {
	State      State
	Session    SessionState
	Loading    bool
	Error      string
	Transcript []transcript.Turn

	// Diagnostics.
	ActiveID uint64
	Queued   int
	Consumed uint64
	Signals  uint64
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:      m.state,
		Session:    m.session,
		Loading:    m.Loading(),
		Transcript: m.tr.Turns(),
		Queued:     m.queue.Size(),
		Consumed:   m.counter.Value(),
		Signals:    m.bp.Sent(),
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	if seg, ok := m.queue.Active(); ok {
		s.ActiveID = seg.ID
	}
	return s
}

// State returns the playback state.
func (m *Machine) State() State { return m.state }

// Session returns the channel session state.
func (m *Machine) Session() SessionState { return m.session }

// Loading reports whether the listener is waiting on something: the first
// segment, a segment being loaded, or a question being answered.
func (m *Machine) Loading() bool {
	if m.asking || m.state == StateLoading {
		return true
	}
	return m.awaitingFirst && m.session != SessionClosed && m.session != SessionFailed
}

// Err returns the most recent surfaced failure, or nil.
func (m *Machine) Err() error { return m.err }

// Consumed returns the consumption counter.
func (m *Machine) Consumed() uint64 { return m.counter.Value() }

// Queue exposes the segment queue for inspection. Callers must not mutate it.
func (m *Machine) Queue() *Queue { return m.queue }

// Transcript returns a copy of the transcript turns.
func (m *Machine) Transcript() []transcript.Turn { return m.tr.Turns() }

// VisibleTranscript returns the listener-facing transcript view.
func (m *Machine) VisibleTranscript(hideFirst bool) []transcript.Turn {
	return m.tr.Visible(hideFirst)
}
