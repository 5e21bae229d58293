// Package audio defines the segment model and the device abstractions used by
// livecast to play back server-generated speech and to capture the listener's
// spoken questions.
//
// The two device abstractions are:
//
//   - [Player]: loads one [Segment] at a time onto an output device and reports
//     lifecycle transitions on its event channel.
//   - [Recorder]: captures microphone audio between Start and Stop and returns
//     an encoded clip.
//
// Platform backends live in sub-packages (audio/portaudio); test doubles live in
// audio/mock.
package audio

import "time"

// Status is the lifecycle position of a [Segment].
type Status int

const (
	// StatusPending marks a segment that arrived but has not been handed to
	// the device yet.
	StatusPending Status = iota

	// StatusPlaying marks the one segment currently loaded on the device.
	StatusPlaying

	// StatusPlayed marks a segment that reached its natural end.
	StatusPlayed

	// StatusDiscarded marks a segment removed by interruption, device failure
	// or teardown before it could finish.
	StatusDiscarded
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPlaying:
		return "PLAYING"
	case StatusPlayed:
		return "PLAYED"
	case StatusDiscarded:
		return "DISCARDED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusPlayed || s == StatusDiscarded
}

// Segment is one unit of synthesized speech delivered over the channel. It is
// played at most once and in arrival order.
type Segment struct {
	// ID is the monotonic sequence number assigned at arrival, starting at 1.
	ID uint64

	// Data is the encoded audio exactly as received (MP3 or WAV).
	Data []byte

	// Status is owned by the playback queue; other packages only read it.
	Status Status

	// Arrived records when the frame was received.
	Arrived time.Time
}

// Format describes the sample rate and channel count of interleaved 16-bit
// little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n PCM bytes in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Offset returns the byte offset of position d in format f, aligned to a whole
// frame.
func (f Format) Offset(d time.Duration) int {
	frame := f.Channels * 2
	if frame <= 0 || d <= 0 {
		return 0
	}
	n := int(int64(d) * int64(f.BytesPerSecond()) / int64(time.Second))
	return n - n%frame
}
