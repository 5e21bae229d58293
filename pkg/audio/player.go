package audio

import (
	"context"
	"time"
)

// EventKind classifies the notifications a [Player] emits.
type EventKind int

const (
	// EventStarted is emitted once the device accepted a segment and began
	// output.
	EventStarted EventKind = iota

	// EventEnded is emitted when a segment played through to its natural end.
	// It is not emitted for segments unloaded via [Player.Stop].
	EventEnded

	// EventFailed is emitted when the device could not start a segment.
	EventFailed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "STARTED"
	case EventEnded:
		return "ENDED"
	case EventFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PlayerEvent is a device notification about a specific segment.
type PlayerEvent struct {
	Kind      EventKind
	SegmentID uint64

	// Err is set for [EventFailed].
	Err error
}

// Player drives one audio output device. At most one segment is loaded at a
// time; loading a new segment replaces the previous one without emitting
// [EventEnded] for it.
//
// Implementations must be safe for concurrent use. Events are delivered on the
// channel returned by [Player.Events] in the order they occur.
type Player interface {
	// Load decodes seg and starts output. A synchronous error means the
	// segment never started; implementations may instead report the failure
	// asynchronously via [EventFailed].
	Load(seg *Segment) error

	// Pause halts output and keeps the position.
	Pause() error

	// Resume continues output from the current position.
	Resume() error

	// Stop halts output and unloads the segment.
	Stop() error

	// Seek moves the playback position of the loaded segment. Positions
	// outside [0, Duration] are clamped by the implementation.
	Seek(pos time.Duration) error

	// Position returns the current playback position.
	Position() time.Duration

	// Duration returns the length of the loaded segment, or 0 if none.
	Duration() time.Duration

	// Events returns the notification channel. It is closed by Close.
	Events() <-chan PlayerEvent

	// Close releases the device. It is idempotent.
	Close() error
}

// Recorder captures microphone audio for spoken questions. Captured audio
// accumulates across Start/Stop cycles until Reset is called, so a failed
// question can be retried with the same recording extended.
type Recorder interface {
	// Start begins capture. It returns an error if the input device cannot
	// be opened; capture stops when ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop ends the current capture.
	Stop() error

	// Clip returns everything captured since the last Reset, encoded as WAV.
	Clip() ([]byte, error)

	// Reset discards all captured audio.
	Reset()
}
