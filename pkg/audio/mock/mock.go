// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Capturer], [audio.Sink], [audio.Encoder] and [audio.Decoder]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capt := &mock.Capturer{Frames: []audio.AudioFrame{{Data: make([]byte, 960)}}}
//	sink := &mock.Sink{}
//	n, err := negotiator.New(cfg, negotiator.WithCapturer(capt), negotiator.WithSink(sink))
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Data is served by the reader returned from Open.
	Data []byte

	// FormatResult is returned by Open.
	FormatResult audio.Format

	// OpenError, when non-nil, is returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountClose records how many readers returned by Open were closed.
	CallCountClose int

	// LastConstraints holds the constraints passed to the most recent Open.
	LastConstraints audio.Constraints
}

var _ audio.Device = (*Device)(nil)

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, c audio.Constraints) (io.ReadCloser, audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	d.LastConstraints = c
	if d.OpenError != nil {
		return nil, audio.Format{}, d.OpenError
	}
	return &reader{Reader: bytes.NewReader(d.Data), dev: d}, d.FormatResult, nil
}

// Closes returns the number of closed readers.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountClose
}

type reader struct {
	*bytes.Reader
	dev  *Device
	once sync.Once
}

func (r *reader) Close() error {
	r.once.Do(func() {
		r.dev.mu.Lock()
		r.dev.CallCountClose++
		r.dev.mu.Unlock()
	})
	return nil
}

// ─── Capturer ─────────────────────────────────────────────────────────────────

// Capturer is a mock implementation of [audio.Capturer]. Start delivers Frames
// synchronously before returning.
type Capturer struct {
	mu sync.Mutex

	// Frames are delivered to the callback during Start.
	Frames []audio.AudioFrame

	// StartError, when non-nil, is returned by Start and no frame is delivered.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// OnStart, when non-nil, runs at the beginning of every Start call.
	OnStart func()

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	running bool
}

var _ audio.Capturer = (*Capturer)(nil)

// Start implements [audio.Capturer].
func (c *Capturer) Start(_ context.Context, onFrame func(audio.AudioFrame)) error {
	c.mu.Lock()
	hook := c.OnStart
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	c.CallCountStart++
	if c.StartError != nil {
		err := c.StartError
		c.mu.Unlock()
		return err
	}
	c.running = true
	frames := append([]audio.AudioFrame(nil), c.Frames...)
	c.mu.Unlock()

	for _, f := range frames {
		onFrame(f)
	}
	return nil
}

// Stop implements [audio.Capturer].
func (c *Capturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	c.running = false
	return c.StopError
}

// Running reports whether Start succeeded and Stop has not been called since.
func (c *Capturer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// WriteError, when non-nil, is returned by Write.
	WriteError error

	// Written holds every frame passed to Write, in order.
	Written []audio.AudioFrame

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Sink = (*Sink)(nil)

// Write implements [audio.Sink].
func (s *Sink) Write(f audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	s.Written = append(s.Written, f)
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Closes returns how many times Close was called.
func (s *Sink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Frames returns a copy of the written frames.
func (s *Sink) Frames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.AudioFrame(nil), s.Written...)
}

// ─── Codec ────────────────────────────────────────────────────────────────────

// Codec is a passthrough mock implementation of [audio.Encoder] and
// [audio.Decoder]. Decode returns frames in Format.
type Codec struct {
	mu sync.Mutex

	// Format is stamped on decoded frames.
	Format audio.Format

	// EncodeError and DecodeError, when non-nil, are returned by the respective
	// methods.
	EncodeError error
	DecodeError error

	// CallCountEncode and CallCountDecode record the number of calls.
	CallCountEncode int
	CallCountDecode int
}

var (
	_ audio.Encoder = (*Codec)(nil)
	_ audio.Decoder = (*Codec)(nil)
)

// Encode implements [audio.Encoder] by copying pcm.
func (c *Codec) Encode(pcm []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountEncode++
	if c.EncodeError != nil {
		return nil, c.EncodeError
	}
	return append([]byte(nil), pcm...), nil
}

// Decode implements [audio.Decoder] by copying packet into a frame.
func (c *Codec) Decode(packet []byte) (audio.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDecode++
	if c.DecodeError != nil {
		return audio.AudioFrame{}, c.DecodeError
	}
	return audio.AudioFrame{
		Data:       append([]byte(nil), packet...),
		SampleRate: c.Format.SampleRate,
		Channels:   c.Format.Channels,
	}, nil
}

// Encodes returns the number of Encode calls.
func (c *Codec) Encodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountEncode
}
