// Package transcript holds the running conversation transcript that the
// server streams alongside the audio.
//
// The server sends structured control frames whose status selects how they
// apply: "initial" and "completed" replace the whole known transcript, "delta"
// appends a single turn. The transcript is an ordering stream of its own; it is
// never correlated one-to-one with audio segments.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Status selects the application semantics of an [Update].
type Status string

const (
	// StatusInitial carries the full transcript known at session start.
	StatusInitial Status = "initial"

	// StatusDelta appends one turn.
	StatusDelta Status = "delta"

	// StatusCompleted carries the final full transcript.
	StatusCompleted Status = "completed"
)

// IsValid reports whether s is a recognised status.
func (s Status) IsValid() bool {
	switch s {
	case StatusInitial, StatusDelta, StatusCompleted:
		return true
	}
	return false
}

// Replaces reports whether an update with status s replaces the transcript.
func (s Status) Replaces() bool {
	return s == StatusInitial || s == StatusCompleted
}

// Turn is one attributed line of the conversation.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// String renders the turn as "Speaker: text", or just the text when the
// speaker is unknown.
func (t Turn) String() string {
	if t.Speaker == "" {
		return t.Text
	}
	return t.Speaker + ": " + t.Text
}

// UnmarshalJSON accepts either a {"speaker","text"} object or a plain string.
// Strings of the form "Speaker: text" are split on the first colon.
func (t *Turn) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = ParseTurn(s)
		return nil
	}
	type plain Turn
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("transcript: decode turn: %w", err)
	}
	*t = Turn(p)
	return nil
}

// ParseTurn splits "Speaker: text" into a Turn. A line without a colon, or
// whose prefix contains spaces beyond a short name, is kept as text only.
func ParseTurn(line string) Turn {
	speaker, text, ok := strings.Cut(line, ":")
	if !ok || speaker == "" || strings.Count(speaker, " ") > 2 {
		return Turn{Text: strings.TrimSpace(line)}
	}
	return Turn{Speaker: strings.TrimSpace(speaker), Text: strings.TrimSpace(text)}
}

// Update is a decoded control frame.
type Update struct {
	Status       Status `json:"status"`
	Conversation []Turn `json:"conversation,omitempty"`
	Message      *Turn  `json:"message,omitempty"`
}

// ErrInvalidUpdate is returned by [Transcript.Apply] for updates that carry
// nothing applicable.
var ErrInvalidUpdate = errors.New("transcript: invalid update")

// Transcript is an ordered, append-only list of turns that can be replaced
// wholesale by full-transcript updates. The zero value is empty and ready to
// use. It is not safe for concurrent use; the playback machine owns it.
type Transcript struct {
	turns []Turn
}

// Apply folds u into the transcript. Replacing statuses install the carried
// conversation; delta appends its message. An update whose status is unknown
// but which carries a message is treated as a delta.
func (t *Transcript) Apply(u Update) error {
	switch {
	case u.Status.Replaces():
		t.turns = slices.Clone(u.Conversation)
		return nil
	case u.Message != nil:
		t.turns = append(t.turns, *u.Message)
		return nil
	default:
		return fmt.Errorf("%w: status %q without message", ErrInvalidUpdate, u.Status)
	}
}

// Append adds a turn at the end.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
}

// Len returns the number of turns.
func (t *Transcript) Len() int { return len(t.turns) }

// Turns returns a copy of all turns in order.
func (t *Transcript) Turns() []Turn {
	return slices.Clone(t.turns)
}

// Visible returns the turns shown to the listener. When hideFirst is set the
// first turn (the generated title line) is omitted, and nothing is shown until
// a second turn exists.
func (t *Transcript) Visible(hideFirst bool) []Turn {
	if !hideFirst {
		return t.Turns()
	}
	if len(t.turns) <= 1 {
		return nil
	}
	return slices.Clone(t.turns[1:])
}
