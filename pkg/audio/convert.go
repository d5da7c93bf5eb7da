package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter converts AudioFrames to a target format. It logs a warning
// on the first format mismatch and drops frames with misaligned PCM.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. A frame already in the target
// format is returned unchanged. Resampling happens before channel mixing so
// that a stereo source headed for mono is only resampled once per sample pair.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", formatString(frame.SampleRate, frame.Channels),
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting stream",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	if frame.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, frame.Channels, frame.SampleRate, c.Target.SampleRate)
	}
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case frame.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// FitFrame pads pcm with silence or truncates it to exactly n bytes.
func FitFrame(pcm []byte, n int) []byte {
	switch {
	case len(pcm) == n:
		return pcm
	case len(pcm) > n:
		return pcm[:n]
	default:
		out := make([]byte, n)
		copy(out, pcm)
		return out
	}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair. The int32 sum cannot overflow, so the
// average always fits int16.
func StereoToMono(pcm []byte) []byte {
	samples := BytesToInt16s(pcm)
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return Int16sToBytes(out)
}

// Resample16 resamples interleaved PCM16 with the given channel count from
// srcRate to dstRate using linear interpolation. The input is returned
// unchanged when the rates match or are not positive.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	src := BytesToInt16s(pcm)
	srcFrames := len(src) / channels
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	dst := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(src[idx*channels+ch])
			s1 := float64(src[next*channels+ch])
			dst[i*channels+ch] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return Int16sToBytes(dst)
}

// BytesToInt16s converts little-endian bytes to int16 samples. A trailing odd
// byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16sToBytes converts int16 samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
