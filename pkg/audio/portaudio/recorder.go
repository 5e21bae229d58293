package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livecast/pkg/audio"
)

var _ audio.Recorder = (*Recorder)(nil)

// RecorderConfig configures microphone capture.
type RecorderConfig struct {
	// SampleRate of the captured mono PCM in Hz. Defaults to 16000.
	SampleRate int

	// FramesPerBuffer is the blocking read size. Defaults to 1024.
	FramesPerBuffer int
}

// Recorder captures mono 16-bit PCM from the default input device.
type Recorder struct {
	cfg RecorderConfig

	mu       sync.Mutex
	captured []byte
	stop     chan struct{}
	stopped  chan struct{}
}

// NewRecorder returns an idle Recorder. The input device is only opened by
// Start.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	return &Recorder{cfg: cfg}
}

// Start implements [audio.Recorder].
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return errors.New("portaudio: recorder already capturing")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	buf := make([]int16, r.cfg.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}

	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})
	go r.capture(ctx, stream, buf, r.stop, r.stopped)
	return nil
}

func (r *Recorder) capture(ctx context.Context, stream *portaudio.Stream, buf []int16, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer portaudio.Terminate()
	defer stream.Close()
	defer stream.Stop()

	chunk := make([]byte, len(buf)*2)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Input overflow drops one buffer; keep capturing.
			slog.Debug("portaudio: read input", "err", err)
			continue
		}
		for i, s := range buf {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(s))
		}
		r.mu.Lock()
		r.captured = append(r.captured, chunk...)
		r.mu.Unlock()
	}
}

// Stop implements [audio.Recorder]. It blocks until the capture goroutine has
// released the device.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	stop, stopped := r.stop, r.stopped
	r.stop, r.stopped = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-stopped
	return nil
}

// Clip implements [audio.Recorder]. It returns nil when nothing was captured.
func (r *Recorder) Clip() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.captured) == 0 {
		return nil, nil
	}
	return audio.EncodeWAV(r.captured, audio.Format{SampleRate: r.cfg.SampleRate, Channels: 1}), nil
}

// Reset implements [audio.Recorder].
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = nil
}
