package audio

import (
	"fmt"
	"log/slog"
)

// Normalize converts interleaved 16-bit PCM from format src to format dst.
// Resampling runs first so that a stereo-to-mono conversion never resamples
// twice the data it needs to. Only mono and stereo are supported; other
// channel counts are returned unchanged with a warning.
func Normalize(pcm []byte, src, dst Format) []byte {
	if len(pcm)%2 != 0 {
		slog.Warn("audio: odd byte count in PCM data, dropping trailing byte",
			"bytes", len(pcm), "format", src.String())
		pcm = pcm[:len(pcm)-1]
	}
	if src == dst {
		return pcm
	}

	if src.SampleRate != dst.SampleRate {
		pcm = Resample16(pcm, src.Channels, src.SampleRate, dst.SampleRate)
	}

	switch {
	case src.Channels == dst.Channels:
	case src.Channels == 1 && dst.Channels == 2:
		pcm = MonoToStereo(pcm)
	case src.Channels == 2 && dst.Channels == 1:
		pcm = StereoToMono(pcm)
	default:
		slog.Warn("audio: unsupported channel conversion", "from", src.String(), "to", dst.String())
	}
	return pcm
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, int16(clamp16((l+r)/2)))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using per-channel linear interpolation. The input is
// returned unchanged when either rate is non-positive or the rates match.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for c := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+c))
			s1 := float64(sampleAt(pcm, next*channels+c))
			putSample(out, i*channels+c, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// String returns a human-readable description such as "44100Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

func clamp16(v int32) int32 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}
