package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ErrLinkClosed is returned by [AudioLink.StartCapture] once capture was
// stopped or the link closed.
var ErrLinkClosed = errors.New("webrtc: audio link closed")

// AudioLink connects the local capturer and the rendering sink to the audio
// tracks of one peer connection. Microphone frames are encoded and written to
// the local track; packets from each remote audio track are decoded and
// written to the sink.
//
// After [AudioLink.Close] late remote packets are dropped instead of reaching
// a closed sink. AudioLink is safe for concurrent use.
type AudioLink struct {
	capturer   audio.Capturer
	encoder    audio.Encoder
	newDecoder func() (audio.Decoder, error)
	sink       audio.Sink
	frameDur   time.Duration

	mu              sync.Mutex
	captureStarted  bool
	captureStopped  bool
	closed          bool
	captureStopOnce sync.Once
	closeOnce       sync.Once
	captureErr      error
	closeErr        error

	sent     atomic.Int64
	received atomic.Int64
}

// NewAudioLink returns a link. newDecoder is called once per remote audio
// track so that each stream keeps independent decoder state.
func NewAudioLink(capturer audio.Capturer, enc audio.Encoder, newDecoder func() (audio.Decoder, error), sink audio.Sink) *AudioLink {
	return &AudioLink{
		capturer:   capturer,
		encoder:    enc,
		newDecoder: newDecoder,
		sink:       sink,
		frameDur:   audio.DefaultFrameDuration,
	}
}

// StartCapture starts the capturer and feeds every frame to track. It fails
// with the capturer's error when the device cannot be acquired.
func (l *AudioLink) StartCapture(ctx context.Context, track LocalTrack) error {
	l.mu.Lock()
	if l.closed || l.captureStopped {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.captureStarted = true
	l.mu.Unlock()

	var warnOnce sync.Once
	err := l.capturer.Start(ctx, func(f audio.AudioFrame) {
		packet, err := l.encoder.Encode(f.Data)
		if err == nil {
			err = track.WriteSample(packet, l.frameDur)
		}
		if err != nil {
			warnOnce.Do(func() { slog.Warn("webrtc: dropping local audio", "err", err) })
			return
		}
		l.sent.Add(1)
	})
	if err != nil {
		return fmt.Errorf("webrtc: start capture: %w", err)
	}

	// StopCapture may have run while Start was opening the device.
	l.mu.Lock()
	stopped := l.closed || l.captureStopped
	l.mu.Unlock()
	if stopped {
		_ = l.capturer.Stop()
		return ErrLinkClosed
	}
	return nil
}

// HandleRemote starts rendering track into the sink. Non-audio tracks are
// ignored. It is suitable as a [PeerConnection.OnRemoteTrack] handler.
func (l *AudioLink) HandleRemote(track RemoteTrack) {
	if track.Kind() != "audio" {
		return
	}
	dec, err := l.newDecoder()
	if err != nil {
		slog.Warn("webrtc: cannot decode remote audio", "err", err)
		return
	}
	go l.readRemote(track, dec)
}

// readRemote reads packets until the track ends or the link is closed.
func (l *AudioLink) readRemote(track RemoteTrack, dec audio.Decoder) {
	var ts time.Duration
	for {
		payload, err := track.ReadPayload()
		if err != nil {
			return
		}
		frame, err := dec.Decode(payload)
		if err != nil {
			slog.Debug("webrtc: drop undecodable packet", "err", err)
			continue
		}
		frame.Timestamp = ts
		ts += l.frameDur

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		err = l.sink.Write(frame)
		l.mu.Unlock()
		if err != nil {
			slog.Debug("webrtc: sink write failed", "err", err)
			continue
		}
		l.received.Add(1)
	}
}

// StopCapture releases the input device. It is safe to call more than once
// and before StartCapture.
func (l *AudioLink) StopCapture() error {
	l.captureStopOnce.Do(func() {
		l.mu.Lock()
		l.captureStopped = true
		started := l.captureStarted
		l.mu.Unlock()
		if started {
			l.captureErr = l.capturer.Stop()
		}
	})
	return l.captureErr
}

// Close stops the capture if still running and closes the sink. It is safe
// to call more than once; subsequent calls return the first result.
func (l *AudioLink) Close() error {
	l.closeOnce.Do(func() {
		captureErr := l.StopCapture()
		l.mu.Lock()
		l.closed = true
		sinkErr := l.sink.Close()
		l.mu.Unlock()
		l.closeErr = errors.Join(captureErr, sinkErr)
	})
	return l.closeErr
}

// Stats returns the number of frames sent to the local track and rendered
// from remote tracks.
func (l *AudioLink) Stats() (sent, received int64) {
	return l.sent.Load(), l.received.Load()
}
