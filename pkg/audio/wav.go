package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of the canonical RIFF + fmt + data header.
const wavHeaderSize = 44

// EncodeWAV wraps 16-bit little-endian PCM in a canonical WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:], uint16(f.Channels*2))
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// IsWAV reports whether data starts with a RIFF/WAVE signature.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV extracts the PCM payload and format from a 16-bit PCM WAV file.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if !IsWAV(data) {
		return nil, Format{}, errors.New("wav: missing RIFF/WAVE signature")
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4:]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Streaming encoders write a bogus data size; take the rest.
			if id == "data" && haveFmt {
				return data[body:], f, nil
			}
			return nil, Format{}, fmt.Errorf("wav: chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, errors.New("wav: fmt chunk too short")
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("wav: unsupported format tag %d", tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != 16 {
				return nil, Format{}, fmt.Errorf("wav: unsupported bit depth %d", bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("wav: data chunk before fmt chunk")
			}
			return data[body : body+size], f, nil
		}

		off = body + size + size%2
	}
	return nil, Format{}, errors.New("wav: no data chunk")
}
