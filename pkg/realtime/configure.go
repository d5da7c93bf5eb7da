package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
)

// Audio formats accepted by the provider for input and output audio.
const AudioFormatPCM16 = "pcm16"

// TurnDetection holds the server-side voice-activity-detection parameters.
type TurnDetection struct {
	Type              string  `json:"type" yaml:"type"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms" yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms" yaml:"silence_duration_ms"`
}

// SessionConfig is the session configuration sent once per session in the
// session.update event.
type SessionConfig struct {
	Modalities        []string      `json:"modalities"`
	Voice             string        `json:"voice,omitempty"`
	Instructions      string        `json:"instructions,omitempty"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     TurnDetection `json:"turn_detection"`
}

// DefaultSessionConfig returns the configuration used when nothing else is
// supplied: audio+text, the "alloy" voice, PCM16 both ways and server VAD.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:        []string{"audio", "text"},
		Voice:             "alloy",
		InputAudioFormat:  AudioFormatPCM16,
		OutputAudioFormat: AudioFormatPCM16,
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	}
}

// SessionUpdate is the session.update event.
type SessionUpdate struct {
	Type    EventType     `json:"type"`
	Session SessionConfig `json:"session"`
}

// Frame marshals c into a complete session.update frame.
func (c SessionConfig) Frame() ([]byte, error) {
	data, err := json.Marshal(SessionUpdate{Type: EventSessionUpdate, Session: c})
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal session.update: %w", err)
	}
	return data, nil
}

// ErrAlreadyConfigured is returned by [Configurator.Configure] when the
// session.update frame has already been claimed for this session.
var ErrAlreadyConfigured = errors.New("realtime: session already configured")

// Configurator is the only component allowed to emit the session.update frame.
// It sends the frame at most once, and only in reaction to a session.created
// event. A Configurator belongs to exactly one session.
//
// Configurator is safe for concurrent use.
type Configurator struct {
	frame   []byte
	claimed atomic.Bool
}

// NewConfigurator pre-renders the session.update frame for cfg.
func NewConfigurator(cfg SessionConfig) (*Configurator, error) {
	frame, err := cfg.Frame()
	if err != nil {
		return nil, err
	}
	return &Configurator{frame: frame}, nil
}

// NewConfiguratorFromFrame wraps an already-rendered session.update frame. The
// frame is shared read-only, so one rendered frame can serve many sessions.
func NewConfiguratorFromFrame(frame []byte) *Configurator {
	return &Configurator{frame: frame}
}

// Configure inspects an inbound event. For the first session.created it calls
// send with the session.update frame and returns true. Every other call
// returns false without calling send; a repeated session.created also returns
// [ErrAlreadyConfigured] so the caller can log the protocol anomaly.
//
// The one-shot flag is claimed before send runs, so a failing send is never
// retried.
func (c *Configurator) Configure(evt EventType, send func(frame []byte) error) (bool, error) {
	if evt != EventSessionCreated {
		return false, nil
	}
	if !c.claimed.CompareAndSwap(false, true) {
		return false, ErrAlreadyConfigured
	}
	if err := send(c.frame); err != nil {
		return true, fmt.Errorf("realtime: send session.update: %w", err)
	}
	return true, nil
}

// Configured reports whether the session.update frame has been claimed.
func (c *Configurator) Configured() bool {
	return c.claimed.Load()
}
