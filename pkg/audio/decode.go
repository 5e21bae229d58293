package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrEmptySegment is returned by [Decode] for a zero-length payload.
var ErrEmptySegment = errors.New("audio: empty segment")

// Decode turns an encoded segment payload into interleaved 16-bit PCM.
// WAV is recognised by its RIFF signature; everything else is treated as MP3.
func Decode(data []byte) ([]byte, Format, error) {
	if len(data) == 0 {
		return nil, Format{}, ErrEmptySegment
	}
	if IsWAV(data) {
		pcm, f, err := DecodeWAV(data)
		if err != nil {
			return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
		}
		return pcm, f, nil
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always produces 16-bit stereo.
	return pcm, Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// DecodeTo decodes data and normalises the PCM to the target format.
func DecodeTo(data []byte, target Format) ([]byte, error) {
	pcm, f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Normalize(pcm, f, target), nil
}
