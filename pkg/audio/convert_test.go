package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	equalSamples(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	equalSamples(t, got, []int16{150, -150, 32767})
}

func TestResample16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		channels int
		src, dst int
		in       []int16
		wantLen  int
	}{
		{name: "same rate", channels: 1, src: 48000, dst: 48000, in: []int16{1, 2, 3}, wantLen: 3},
		{name: "upsample mono", channels: 1, src: 24000, dst: 48000, in: []int16{0, 100, 200, 300}, wantLen: 8},
		{name: "downsample mono", channels: 1, src: 48000, dst: 16000, in: make([]int16, 960), wantLen: 320},
		{name: "stereo", channels: 2, src: 24000, dst: 48000, in: []int16{10, 20, 30, 40}, wantLen: 8},
		{name: "zero rate passthrough", channels: 1, src: 0, dst: 48000, in: []int16{5, 6}, wantLen: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := audio.Resample16(samplesToBytes(tc.in), tc.channels, tc.src, tc.dst)
			if got := len(out) / 2; got != tc.wantLen {
				t.Errorf("got %d samples, want %d", got, tc.wantLen)
			}
		})
	}
}

func TestResample16_Interpolates(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.Resample16(samplesToBytes([]int16{0, 100}), 1, 1, 2))
	equalSamples(t, got, []int16{0, 50, 100, 100})
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 48000, Channels: 1, Timestamp: time.Second}
	out := conv.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should return the frame unchanged")
	}
}

func TestFormatConverter_FullConversion(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	// 10 ms of 24 kHz stereo.
	in := audio.AudioFrame{Data: make([]byte, 240*4), SampleRate: 24000, Channels: 2, Timestamp: 20 * time.Millisecond}
	out := conv.Convert(in)
	if out.SampleRate != 48000 || out.Channels != 1 {
		t.Fatalf("format = %d/%d, want 48000/1", out.SampleRate, out.Channels)
	}
	if got := len(out.Data); got != 480*2 {
		t.Errorf("got %d bytes, want %d", got, 480*2)
	}
	if out.Timestamp != in.Timestamp {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	out := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("odd-length frame should be dropped, got %d bytes", len(out.Data))
	}
}

func TestFitFrame(t *testing.T) {
	t.Parallel()
	if got := audio.FitFrame([]byte{1, 2, 3, 4}, 2); len(got) != 2 {
		t.Errorf("truncate: got %d bytes", len(got))
	}
	got := audio.FitFrame([]byte{1, 2}, 4)
	if len(got) != 4 || got[0] != 1 || got[3] != 0 {
		t.Errorf("pad: got %v", got)
	}
}

func TestFormat_FrameBytes(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 48000, Channels: 1}
	if got := f.FrameBytes(20 * time.Millisecond); got != 1920 {
		t.Errorf("FrameBytes = %d, want 1920", got)
	}
	if err := (audio.Format{SampleRate: 48000, Channels: 6}).Validate(); err == nil {
		t.Error("Validate accepted 6 channels")
	}
}
