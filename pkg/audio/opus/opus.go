// Package opus implements [audio.Encoder] and [audio.Decoder] with libopus via
// gopus. It is kept out of package audio so that only binaries using the peer
// transport need cgo.
package opus

import (
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// WebRTC carries Opus at 48 kHz. Frames are 20 ms.
const (
	SampleRate    = 48000
	FrameDuration = 20 * time.Millisecond
	// FrameSize is the number of samples per channel per 20 ms frame.
	FrameSize = SampleRate * 20 / 1000 // 960

	// maxFrameSize is the longest frame a packet can carry, 120 ms.
	maxFrameSize = FrameSize * 6

	// maxPacket bounds the size of one encoded packet.
	maxPacket = 4000
)

var (
	_ audio.Encoder = (*Encoder)(nil)
	_ audio.Decoder = (*Decoder)(nil)
)

// Encoder encodes 20 ms PCM16 frames at 48 kHz.
// Not safe for concurrent use.
type Encoder struct {
	enc      *gopus.Encoder
	channels int
}

// NewEncoder creates a voice-tuned Opus encoder for the given channel count.
func NewEncoder(channels int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, channels: channels}, nil
}

// Encode implements [audio.Encoder]. pcm must hold exactly one frame of 10,
// 20, 40 or 60 ms.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	stride := e.channels * 2
	samples := len(pcm) / stride
	if len(pcm)%stride != 0 || !validFrameSize(samples) {
		return nil, fmt.Errorf("opus: encode: frame is %d bytes, want %d", len(pcm), FrameSize*stride)
	}
	packet, err := e.enc.Encode(audio.BytesToInt16s(pcm), samples, maxPacket)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

// validFrameSize reports whether n samples per channel form a 10, 20, 40 or
// 60 ms frame at 48 kHz.
func validFrameSize(n int) bool {
	switch n {
	case FrameSize / 2, FrameSize, FrameSize * 2, FrameSize * 3:
		return true
	}
	return false
}

// Decoder decodes Opus packets into 48 kHz PCM16 frames. Each remote stream
// needs its own Decoder to keep decoder state consistent.
// Not safe for concurrent use.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewDecoder creates an Opus decoder producing the given channel count.
func NewDecoder(channels int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, channels: channels}, nil
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(packet []byte) (audio.AudioFrame, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.AudioFrame{
		Data:       audio.Int16sToBytes(pcm),
		SampleRate: SampleRate,
		Channels:   d.channels,
	}, nil
}
