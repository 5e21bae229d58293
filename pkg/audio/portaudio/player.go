// Package portaudio implements [audio.Player] and [audio.Recorder] on top of
// the PortAudio default devices.
//
// The player keeps one output stream open for its whole lifetime and feeds it
// from a callback, so switching segments never reopens the device. Segments are
// decoded and normalised to the stream format up front.
package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livecast/pkg/audio"
)

var _ audio.Player = (*Player)(nil)

// ErrClosed is returned by Player methods after Close.
var ErrClosed = errors.New("portaudio: player closed")

// PlayerConfig configures the output stream.
type PlayerConfig struct {
	// SampleRate of the output stream in Hz. Defaults to 44100.
	SampleRate int

	// FramesPerBuffer is the callback buffer size. Defaults to 1024.
	FramesPerBuffer int
}

// Player plays segments on the default output device.
type Player struct {
	format audio.Format
	stream *portaudio.Stream

	mu      sync.Mutex
	id      uint64  // loaded segment, 0 if none
	samples []int16 // interleaved stereo
	pos     int     // next sample index
	paused  bool
	closed  bool

	events  chan audio.PlayerEvent
	pending []audio.PlayerEvent
	wake    chan struct{}
	done    chan struct{}
}

// NewPlayer initialises PortAudio and starts the output stream.
func NewPlayer(cfg PlayerConfig) (*Player, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	p := &Player{
		format: audio.Format{SampleRate: cfg.SampleRate, Channels: 2},
		events: make(chan audio.PlayerEvent, 16),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	stream, err := portaudio.OpenDefaultStream(0, p.format.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer, p.fill)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	p.stream = stream

	go p.pump()
	return p, nil
}

// fill is the PortAudio callback. It copies the next block of the loaded
// segment into out and emits EventEnded when the segment is exhausted.
func (p *Player) fill(out []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	if p.id != 0 && !p.paused {
		n = copy(out, p.samples[p.pos:])
		p.pos += n
		if p.pos >= len(p.samples) {
			p.queueLocked(audio.PlayerEvent{Kind: audio.EventEnded, SegmentID: p.id})
			p.unloadLocked()
		}
	}
	clear(out[n:])
}

// Load implements [audio.Player]. Decoding happens synchronously; a decode
// failure is returned and no event is emitted.
func (p *Player) Load(seg *audio.Segment) error {
	pcm, err := audio.DecodeTo(seg.Data, p.format)
	if err != nil {
		return fmt.Errorf("portaudio: segment %d: %w", seg.ID, err)
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.id = seg.ID
	p.samples = samples
	p.pos = 0
	p.paused = false
	p.queueLocked(audio.PlayerEvent{Kind: audio.EventStarted, SegmentID: seg.ID})
	return nil
}

// Pause implements [audio.Player].
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

// Resume implements [audio.Player].
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

// Stop implements [audio.Player].
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloadLocked()
	return nil
}

// Seek implements [audio.Player].
func (p *Player) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == 0 {
		return nil
	}
	idx := p.format.Offset(pos) / 2
	p.pos = min(max(idx, 0), len(p.samples))
	return nil
}

// Position implements [audio.Player].
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.Duration(p.pos * 2)
}

// Duration implements [audio.Player].
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == 0 {
		return 0
	}
	return p.format.Duration(len(p.samples) * 2)
}

// Events implements [audio.Player].
func (p *Player) Events() <-chan audio.PlayerEvent { return p.events }

// Close stops the stream, terminates PortAudio and closes the event channel.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.unloadLocked()
	p.mu.Unlock()

	var errs []error
	if err := p.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := p.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	close(p.done)
	return errors.Join(errs...)
}

func (p *Player) unloadLocked() {
	p.id = 0
	p.samples = nil
	p.pos = 0
}

// queueLocked appends ev for delivery by pump. It never blocks, which keeps
// the audio callback real-time safe.
func (p *Player) queueLocked(ev audio.PlayerEvent) {
	p.pending = append(p.pending, ev)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// pump forwards queued events to the public channel in order.
func (p *Player) pump() {
	defer close(p.events)
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		p.mu.Lock()
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()

		for _, ev := range batch {
			select {
			case p.events <- ev:
			case <-p.done:
				return
			}
		}
	}
}
