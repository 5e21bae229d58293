// Package playback implements the segment playback coordinator core: the
// segment queue, the consumption counter, the backpressure policy and the
// state machine that ties them to device, channel and interruption events.
//
// Everything in this package is pure state. [Machine.Handle] consumes one
// [Event] and returns the [Command] values the caller must execute; no I/O
// happens here, so the whole transition table is testable without a device or
// a socket.
package playback

import (
	"time"

	"github.com/MrWong99/livecast/pkg/audio"
)

// Queue is the ordered buffer of segments awaiting or undergoing playback.
//
// Order is arrival order, which is also playback order. The head is the
// active (Playing) segment if there is one, followed by Pending segments.
// Finished segments move to an ID-only history. Discards only ever take from
// the tail; there is no reordering operation.
//
// Queue is not safe for concurrent use.
type Queue struct {
	items   []*audio.Segment // non-terminal segments, oldest first
	history []uint64         // IDs of played segments, in play order
	nextID  uint64
	now     func() time.Time
}

// NewQueue returns an empty queue whose first segment gets ID 1.
func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Append adds data as a new Pending segment at the tail and returns it.
func (q *Queue) Append(data []byte) *audio.Segment {
	q.nextID++
	seg := &audio.Segment{
		ID:      q.nextID,
		Data:    data,
		Status:  audio.StatusPending,
		Arrived: q.now(),
	}
	q.items = append(q.items, seg)
	return seg
}

// Active returns the Playing segment, if any.
func (q *Queue) Active() (*audio.Segment, bool) {
	if len(q.items) > 0 && q.items[0].Status == audio.StatusPlaying {
		return q.items[0], true
	}
	return nil, false
}

// PopHead marks the oldest Pending segment as Playing and returns it. It
// returns false when a segment is already Playing or nothing is Pending.
func (q *Queue) PopHead() (*audio.Segment, bool) {
	if len(q.items) == 0 || q.items[0].Status != audio.StatusPending {
		return nil, false
	}
	seg := q.items[0]
	seg.Status = audio.StatusPlaying
	return seg, true
}

// Finish marks the active segment Played, releases its payload and moves it
// to the history.
func (q *Queue) Finish() (*audio.Segment, bool) {
	seg, ok := q.Active()
	if !ok {
		return nil, false
	}
	seg.Status = audio.StatusPlayed
	seg.Data = nil
	q.items[0] = nil
	q.items = q.items[1:]
	q.history = append(q.history, seg.ID)
	return seg, true
}

// Abandon marks the active segment Discarded after the device failed to
// start it. It does not enter the history.
func (q *Queue) Abandon() (*audio.Segment, bool) {
	seg, ok := q.Active()
	if !ok {
		return nil, false
	}
	seg.Status = audio.StatusDiscarded
	seg.Data = nil
	q.items[0] = nil
	q.items = q.items[1:]
	return seg, true
}

// DiscardTail removes up to n of the most recently appended non-terminal
// segments, the active one included, marks them Discarded and returns them
// newest first. Fewer than n are returned when the queue is shorter.
func (q *Queue) DiscardTail(n int) []*audio.Segment {
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	n = min(n, len(q.items))
	cut := len(q.items) - n

	out := make([]*audio.Segment, 0, n)
	for i := len(q.items) - 1; i >= cut; i-- {
		seg := q.items[i]
		seg.Status = audio.StatusDiscarded
		seg.Data = nil
		out = append(out, seg)
		q.items[i] = nil
	}
	q.items = q.items[:cut]
	return out
}

// Size returns the number of non-terminal segments (active plus pending).
func (q *Queue) Size() int { return len(q.items) }

// Pending returns the number of segments waiting to be played.
func (q *Queue) Pending() int {
	if _, ok := q.Active(); ok {
		return len(q.items) - 1
	}
	return len(q.items)
}

// Contains reports whether the segment with id is still non-terminal.
func (q *Queue) Contains(id uint64) bool {
	for _, s := range q.items {
		if s.ID == id {
			return true
		}
	}
	return false
}

// IDs returns the IDs of the non-terminal segments, oldest first.
func (q *Queue) IDs() []uint64 {
	ids := make([]uint64, len(q.items))
	for i, s := range q.items {
		ids[i] = s.ID
	}
	return ids
}

// History returns the IDs of played segments in play order.
func (q *Queue) History() []uint64 {
	return append([]uint64(nil), q.history...)
}

// Arrived returns how many segments have ever been appended.
func (q *Queue) Arrived() uint64 { return q.nextID }
