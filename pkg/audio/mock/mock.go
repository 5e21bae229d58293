// Package mock provides in-memory implementations of [audio.Player] and
// [audio.Recorder] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	p := mock.NewPlayer()
//	p.AutoStart = true
//	p.DurationResult = 10 * time.Second
//	// ... hand p to the code under test ...
//	p.End(1) // simulate the natural end of segment 1
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livecast/pkg/audio"
)

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
// Set the exported Result fields before use; inspect the Call* fields after.
type Player struct {
	mu     sync.Mutex
	events chan audio.PlayerEvent
	closed bool

	// AutoStart makes Load emit [audio.EventStarted] immediately.
	AutoStart bool

	// LoadError is returned by Load. When set, no event is emitted.
	LoadError error

	// DurationResult is returned by Duration while a segment is loaded.
	DurationResult time.Duration

	// Loaded records the IDs of every segment passed to Load, in order.
	Loaded []uint64

	// Seeks records every position passed to Seek.
	Seeks []time.Duration

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	current  uint64
	position time.Duration
	paused   bool
}

var _ audio.Player = (*Player)(nil)

// NewPlayer returns a Player with a buffered event channel.
func NewPlayer() *Player {
	return &Player{events: make(chan audio.PlayerEvent, 64)}
}

// Load implements [audio.Player].
func (p *Player) Load(seg *audio.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Loaded = append(p.Loaded, seg.ID)
	if p.LoadError != nil {
		return p.LoadError
	}
	p.current = seg.ID
	p.position = 0
	p.paused = false
	if p.AutoStart {
		p.emitLocked(audio.PlayerEvent{Kind: audio.EventStarted, SegmentID: seg.ID})
	}
	return nil
}

// Pause implements [audio.Player].
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPause++
	p.paused = true
	return nil
}

// Resume implements [audio.Player].
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountResume++
	p.paused = false
	return nil
}

// Stop implements [audio.Player].
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStop++
	p.current = 0
	p.position = 0
	return nil
}

// Seek implements [audio.Player]. The position is clamped to
// [0, DurationResult].
func (p *Player) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Seeks = append(p.Seeks, pos)
	p.position = min(max(pos, 0), p.DurationResult)
	return nil
}

// Position implements [audio.Player].
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Duration implements [audio.Player].
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == 0 {
		return 0
	}
	return p.DurationResult
}

// Events implements [audio.Player].
func (p *Player) Events() <-chan audio.PlayerEvent { return p.events }

// Close implements [audio.Player]. It is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

// SetPosition moves the simulated playback head, e.g. to emulate elapsed time.
func (p *Player) SetPosition(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

// Current returns the ID of the loaded segment, or 0.
func (p *Player) Current() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Paused reports whether the last transport call was Pause.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Start emits [audio.EventStarted] for segment id.
func (p *Player) Start(id uint64) {
	p.Emit(audio.PlayerEvent{Kind: audio.EventStarted, SegmentID: id})
}

// End emits [audio.EventEnded] for segment id and unloads it.
func (p *Player) End(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == id {
		p.current = 0
	}
	p.emitLocked(audio.PlayerEvent{Kind: audio.EventEnded, SegmentID: id})
}

// Fail emits [audio.EventFailed] for segment id.
func (p *Player) Fail(id uint64, err error) {
	p.Emit(audio.PlayerEvent{Kind: audio.EventFailed, SegmentID: id, Err: err})
}

// Emit delivers ev on the event channel. Events after Close are dropped.
func (p *Player) Emit(ev audio.PlayerEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(ev)
}

func (p *Player) emitLocked(ev audio.PlayerEvent) {
	if p.closed {
		return
	}
	p.events <- ev
}

// LoadedIDs returns a copy of Loaded.
func (p *Player) LoadedIDs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.Loaded...)
}

// Counts returns the pause, resume and stop call counts.
func (p *Player) Counts() (pause, resume, stop int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountPause, p.CallCountResume, p.CallCountStop
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder].
type Recorder struct {
	mu sync.Mutex

	// StartError is returned by Start.
	StartError error

	// ClipResult is returned by Clip while audio is captured. Defaults to a
	// short WAV clip when nil.
	ClipResult []byte

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountReset records how many times Reset was called.
	CallCountReset int

	recording bool
	captured  bool
}

var _ audio.Recorder = (*Recorder)(nil)

// Start implements [audio.Recorder].
func (r *Recorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStart++
	if r.StartError != nil {
		return r.StartError
	}
	r.recording = true
	r.captured = true
	return nil
}

// Stop implements [audio.Recorder].
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	r.recording = false
	return nil
}

// Clip implements [audio.Recorder]. It returns nil when nothing was captured
// since the last Reset.
func (r *Recorder) Clip() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.captured {
		return nil, nil
	}
	if r.ClipResult != nil {
		return r.ClipResult, nil
	}
	return audio.EncodeWAV([]byte{0, 0, 1, 0}, audio.Format{SampleRate: 16000, Channels: 1}), nil
}

// Reset implements [audio.Recorder].
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountReset++
	r.captured = false
}

// Recording reports whether Start was called without a matching Stop.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
