package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrSinkClosed is returned by Sink.Write after Close.
var ErrSinkClosed = errors.New("audio: sink closed")

// Compile-time interface assertions.
var (
	_ Sink = (*WAVSink)(nil)
	_ Sink = (*DiscardSink)(nil)
)

// WAVSink renders frames into a 16-bit PCM WAV stream. Frames in a different
// format are converted to the sink format first. WAVSink is safe for
// concurrent use.
type WAVSink struct {
	mu     sync.Mutex
	enc    *wav.Encoder
	conv   FormatConverter
	closer io.Closer
	closed bool
	frames int
}

// NewWAVSink returns a sink writing a WAV stream in format f to ws. The WAV
// header is finalised on Close; ws itself is not closed.
func NewWAVSink(ws io.WriteSeeker, f Format) (*WAVSink, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("audio: wav sink: %w", err)
	}
	return &WAVSink{
		enc:  wav.NewEncoder(ws, f.SampleRate, 16, f.Channels, 1),
		conv: FormatConverter{Target: f},
	}, nil
}

// CreateWAVSink creates (or truncates) the file at path and returns a sink that
// owns it.
func CreateWAVSink(path string, f Format) (*WAVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav sink: %w", err)
	}
	s, err := NewWAVSink(file, f)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.closer = file
	return s, nil
}

// Write implements [Sink].
func (s *WAVSink) Write(frame AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	frame = s.conv.Convert(frame)
	if len(frame.Data) == 0 {
		return nil
	}
	samples := BytesToInt16s(frame.Data)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: frame.Channels, SampleRate: frame.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (s *WAVSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close finalises the WAV header and closes the owned file, if any. It is safe
// to call more than once.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.enc.Close()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	if err != nil {
		return fmt.Errorf("audio: close wav sink: %w", err)
	}
	return nil
}

// DiscardSink drops every frame. It counts writes so callers can tell whether
// remote audio arrived.
type DiscardSink struct {
	mu     sync.Mutex
	frames int
	closed bool
}

// Write implements [Sink].
func (s *DiscardSink) Write(AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written so far.
func (s *DiscardSink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close implements [Sink].
func (s *DiscardSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
