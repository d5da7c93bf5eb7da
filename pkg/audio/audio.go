// Package audio defines the audio capture and rendering abstractions used by
// the session negotiator.
//
// The primary abstractions are:
//
//   - [Device]: an input source that yields raw PCM16 once opened with a set of
//     [Constraints].
//   - [Capturer]: turns a device into a sequence of fixed-size [AudioFrame]
//     values delivered to a synchronous callback.
//   - [Sink]: renders frames from the remote side (a WAV file, a speaker, or
//     nothing at all).
//   - [Encoder] / [Decoder]: codec hooks for transports that do not carry raw
//     PCM (see the opus subpackage).
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// multi-channel.
package audio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Default capture parameters: 48 kHz mono, 20 ms per frame.
const (
	DefaultSampleRate    = 48000
	DefaultChannels      = 1
	DefaultFrameDuration = 20 * time.Millisecond
)

// AudioFrame represents a single frame of PCM audio.
type AudioFrame struct {
	// PCM audio data, int16 little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for the peer transport, 24000 for the
	// provider's pcm16 format).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether f describes a stream this package can process.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return errors.New("audio: sample rate must be positive")
	}
	if f.Channels != 1 && f.Channels != 2 {
		return errors.New("audio: only mono and stereo are supported")
	}
	return nil
}

// FrameBytes returns the byte size of one frame of duration d in format f.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * 2
}

// Constraints are the processing hints requested when acquiring an input
// device. Devices that cannot honour a constraint ignore it.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints enables echo cancellation, noise suppression and
// automatic gain control.
func DefaultConstraints() Constraints {
	return Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

// ErrDeviceUnavailable is returned when an input device cannot be acquired.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Device is an audio input source.
type Device interface {
	// Open acquires the device and returns a reader of raw PCM16 in the
	// returned format. Closing the reader releases the device.
	Open(ctx context.Context, c Constraints) (io.ReadCloser, Format, error)
}

// Capturer delivers fixed-size frames from an input device.
//
// Implementations must be safe for concurrent use.
type Capturer interface {
	// Start acquires the device and invokes onFrame synchronously for each
	// frame until Stop is called, ctx is cancelled, or the input ends. A failed
	// acquisition leaves nothing allocated.
	Start(ctx context.Context, onFrame func(AudioFrame)) error

	// Stop releases the device and returns once no further onFrame call can
	// happen. It is safe to call more than once and before Start.
	Stop() error
}

// Sink renders audio frames.
type Sink interface {
	Write(frame AudioFrame) error
	Close() error
}

// Encoder compresses one PCM frame into a codec packet.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// Decoder expands one codec packet into a PCM frame.
type Decoder interface {
	Decode(packet []byte) (AudioFrame, error)
}
