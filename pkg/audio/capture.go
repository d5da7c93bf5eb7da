package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrCaptureRunning is returned by [DeviceCapturer.Start] while a capture is
// already in progress.
var ErrCaptureRunning = errors.New("audio: capture already running")

// Compile-time interface assertion.
var _ Capturer = (*DeviceCapturer)(nil)

// ── Options ──────────────────────────────────────────────────────────────────

// CaptureOption configures a [DeviceCapturer].
type CaptureOption func(*DeviceCapturer)

// WithCaptureFormat sets the format of delivered frames. Default 48 kHz mono.
func WithCaptureFormat(f Format) CaptureOption {
	return func(c *DeviceCapturer) { c.format = f }
}

// WithFrameDuration sets the duration of each delivered frame. Default 20 ms.
func WithFrameDuration(d time.Duration) CaptureOption {
	return func(c *DeviceCapturer) {
		if d > 0 {
			c.frameDur = d
		}
	}
}

// WithConstraints overrides the processing constraints requested from the
// device. Default [DefaultConstraints].
func WithConstraints(cs Constraints) CaptureOption {
	return func(c *DeviceCapturer) { c.constraints = cs }
}

// WithPacing delivers frames no faster than real time. Use it for file and
// pipe sources that can be read faster than a live microphone.
func WithPacing(enabled bool) CaptureOption {
	return func(c *DeviceCapturer) { c.pace = enabled }
}

// ── DeviceCapturer ───────────────────────────────────────────────────────────

// DeviceCapturer reads a [Device], converts its output to the capture format,
// and delivers one fixed-size frame per callback. It holds at most one frame
// at a time.
type DeviceCapturer struct {
	device      Device
	format      Format
	frameDur    time.Duration
	constraints Constraints
	pace        bool

	mu     sync.Mutex
	cancel context.CancelFunc
	input  *onceCloser
	done   chan struct{}
}

// NewCapturer returns a capturer for device.
func NewCapturer(device Device, opts ...CaptureOption) *DeviceCapturer {
	c := &DeviceCapturer{
		device:      device,
		format:      Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels},
		frameDur:    DefaultFrameDuration,
		constraints: DefaultConstraints(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Format returns the format of delivered frames.
func (c *DeviceCapturer) Format() Format { return c.format }

// Start implements [Capturer]. It fails without opening the device when ctx
// is already done. onFrame must not call Stop.
func (c *DeviceCapturer) Start(ctx context.Context, onFrame func(AudioFrame)) error {
	if err := c.format.Validate(); err != nil {
		return fmt.Errorf("audio: capture format: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrCaptureRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rc, src, err := c.device.Open(ctx, c.constraints)
	if err != nil {
		return fmt.Errorf("audio: open device: %w", err)
	}
	if err := src.Validate(); err != nil {
		_ = rc.Close()
		return fmt.Errorf("audio: device format %s: %w", formatString(src.SampleRate, src.Channels), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.input = &onceCloser{c: rc}
	c.done = make(chan struct{})
	go c.loop(loopCtx, c.input, src, onFrame, c.done)
	return nil
}

// Done returns a channel closed when the current capture loop exits, either
// because Stop was called or the input ended. It returns nil before Start.
func (c *DeviceCapturer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Stop implements [Capturer]. It must also be called after the input ends to
// release the capture context.
func (c *DeviceCapturer) Stop() error {
	c.mu.Lock()
	cancel, input, done := c.cancel, c.input, c.done
	c.cancel, c.input = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := input.Close()
	<-done
	return err
}

func (c *DeviceCapturer) loop(ctx context.Context, in *onceCloser, src Format, onFrame func(AudioFrame), done chan struct{}) {
	defer close(done)
	defer in.Close()

	srcBytes := src.FrameBytes(c.frameDur)
	dstBytes := c.format.FrameBytes(c.frameDur)
	conv := FormatConverter{Target: c.format}

	var ticker *time.Ticker
	if c.pace {
		ticker = time.NewTicker(c.frameDur)
		defer ticker.Stop()
	}

	for n := 0; ; n++ {
		// Frames are handed to the callback, so each read gets its own buffer.
		buf := make([]byte, srcBytes)
		read, err := io.ReadFull(in, buf)
		if read == 0 {
			if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Warn("audio: capture read failed", "err", err)
			}
			return
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if ctx.Err() != nil {
			return
		}

		frame := conv.Convert(AudioFrame{
			Data:       FitFrame(buf[:read], srcBytes),
			SampleRate: src.SampleRate,
			Channels:   src.Channels,
			Timestamp:  time.Duration(n) * c.frameDur,
		})
		frame.Data = FitFrame(frame.Data, dstBytes)
		onFrame(frame)

		if err != nil {
			// Short final read; the input is exhausted.
			return
		}
	}
}

// onceCloser makes Close safe to call from both Stop and the capture loop.
type onceCloser struct {
	c    io.ReadCloser
	once sync.Once
	err  error
}

func (o *onceCloser) Read(p []byte) (int, error) { return o.c.Read(p) }

func (o *onceCloser) Close() error {
	o.once.Do(func() { o.err = o.c.Close() })
	return o.err
}
