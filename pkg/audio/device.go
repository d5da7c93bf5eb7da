package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Compile-time interface assertions.
var (
	_ Device = (*ReaderDevice)(nil)
	_ Device = (*WAVDevice)(nil)
)

// ReaderDevice is a [Device] backed by a stream of raw PCM16, such as stdin fed
// by arecord or a pipe from another process. It can be opened once.
type ReaderDevice struct {
	r      io.Reader
	format Format

	mu     sync.Mutex
	opened bool
}

// NewReaderDevice returns a device that reads raw PCM16 in format f from r.
// If r is an [io.Closer] it is closed when the capture stops.
func NewReaderDevice(r io.Reader, f Format) *ReaderDevice {
	return &ReaderDevice{r: r, format: f}
}

// Open implements [Device]. Constraints are ignored; the stream is used as-is.
func (d *ReaderDevice) Open(ctx context.Context, _ Constraints) (io.ReadCloser, Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, Format{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil, Format{}, fmt.Errorf("%w: reader already in use", ErrDeviceUnavailable)
	}
	d.opened = true
	if rc, ok := d.r.(io.ReadCloser); ok {
		return rc, d.format, nil
	}
	return io.NopCloser(d.r), d.format, nil
}

// WAVDevice is a [Device] that plays back a 16-bit PCM WAV file as if it were
// a microphone. Each Open starts from the beginning of the file.
type WAVDevice struct {
	path string
}

// NewWAVDevice returns a device reading the WAV file at path.
func NewWAVDevice(path string) *WAVDevice {
	return &WAVDevice{path: path}
}

// Open implements [Device].
func (d *WAVDevice) Open(ctx context.Context, _ Constraints) (io.ReadCloser, Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, Format{}, err
	}
	f, err := os.Open(d.path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	r, format, err := NewWAVReader(f)
	if err != nil {
		_ = f.Close()
		return nil, Format{}, fmt.Errorf("audio: %s: %w", d.path, err)
	}
	return &fileReader{Reader: r, f: f}, format, nil
}

type fileReader struct {
	io.Reader
	f *os.File
}

func (r *fileReader) Close() error { return r.f.Close() }

// WAVReader decodes a 16-bit PCM WAV stream into raw little-endian PCM16.
type WAVReader struct {
	dec     *wav.Decoder
	buf     *goaudio.IntBuffer
	pending []byte
	eof     bool
}

// NewWAVReader validates the WAV header of rs and returns a reader of its
// sample data together with the stream format.
func NewWAVReader(rs io.ReadSeeker) (*WAVReader, Format, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("not a valid WAV file")
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("unsupported bit depth %d, want 16", dec.BitDepth)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if err := format.Validate(); err != nil {
		return nil, Format{}, err
	}
	return &WAVReader{
		dec: dec,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			Data:   make([]int, 4096),
		},
	}, format, nil
}

// Read implements [io.Reader].
func (r *WAVReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		n, err := r.dec.PCMBuffer(r.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("audio: decode wav: %w", err)
		}
		if n == 0 {
			r.eof = true
			continue
		}
		r.pending = r.pending[:0]
		for _, s := range r.buf.Data[:n] {
			r.pending = append(r.pending, byte(s), byte(s>>8))
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
