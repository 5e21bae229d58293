package playback

import "fmt"

// ChannelError reports that the persistent channel failed or closed before it
// delivered anything. It is non-fatal and never retried.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string { return "channel: " + e.Err.Error() }
func (e *ChannelError) Unwrap() error { return e.Err }

// InterruptionError reports a failed question exchange. Playback is resumed
// where possible and the listener may ask again.
type InterruptionError struct {
	Err error
}

func (e *InterruptionError) Error() string { return "interruption: " + e.Err.Error() }
func (e *InterruptionError) Unwrap() error { return e.Err }

// DeviceError reports that the audio device could not start a segment.
type DeviceError struct {
	SegmentID uint64
	Err       error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device: segment %d: %v", e.SegmentID, e.Err)
}
func (e *DeviceError) Unwrap() error { return e.Err }
