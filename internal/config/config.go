// Package config provides the configuration schema and loader for the
// voxbridge relay server and the voxcall client.
//
// Configuration comes from a YAML file plus the process environment. The
// upstream provider credential is only ever read from the environment, never
// from YAML, so config files can be committed and shared.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the matching [slog.Level]. Unknown levels map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TraceExporter selects where spans are exported.
type TraceExporter string

const (
	TraceNone   TraceExporter = "none"
	TraceStdout TraceExporter = "stdout"
	TraceOTLP   TraceExporter = "otlp"
)

// IsValid reports whether e is a recognised exporter.
func (e TraceExporter) IsValid() bool {
	switch e {
	case TraceNone, TraceStdout, TraceOTLP:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded with
// [Load] or [LoadFromReader], which apply defaults and validate.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Provider  ProviderConfig  `yaml:"provider"`
	Session   SessionConfig   `yaml:"session"`
	Client    ClientConfig    `yaml:"client"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// APIKey is the upstream credential read from the environment variable
	// named by Provider.APIKeyEnv. It is never decoded from YAML.
	APIKey string `yaml:"-"`
}

// ServerConfig holds the relay server's network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns accepted for cross-origin WebSocket
	// clients, e.g. "app.example.com" or "*.example.com".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderConfig describes the realtime speech provider.
type ProviderConfig struct {
	// RealtimeURL is the provider's realtime WebSocket endpoint used by the
	// relay.
	RealtimeURL string `yaml:"realtime_url"`

	// SignalingURL is the SDP offer/answer endpoint used by peer sessions.
	SignalingURL string `yaml:"signaling_url"`

	// Models are the peer-session model candidates, tried in order.
	Models []string `yaml:"models"`

	// Model is the single model the relay connects to.
	Model string `yaml:"model"`

	BetaHeader string `yaml:"beta_header"`

	// ModelNotFoundCodes are provider error codes classified as "this model
	// is unavailable". Empty selects the built-in classification.
	ModelNotFoundCodes []string `yaml:"model_not_found_codes"`

	// APIKeyEnv names the environment variable holding the upstream
	// credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// DialTimeout bounds the relay's upstream handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SessionConfig is the session.update sent once per session.
type SessionConfig struct {
	Voice             string              `yaml:"voice"`
	Modalities        []string            `yaml:"modalities"`
	Instructions      string              `yaml:"instructions"`
	InputAudioFormat  string              `yaml:"input_audio_format"`
	OutputAudioFormat string              `yaml:"output_audio_format"`
	TurnDetection     TurnDetectionConfig `yaml:"turn_detection"`
}

// TurnDetectionConfig configures server-side voice activity detection.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// Realtime converts s to the wire representation.
func (s SessionConfig) Realtime() realtime.SessionConfig {
	return realtime.SessionConfig{
		Modalities:        append([]string(nil), s.Modalities...),
		Voice:             s.Voice,
		Instructions:      s.Instructions,
		InputAudioFormat:  s.InputAudioFormat,
		OutputAudioFormat: s.OutputAudioFormat,
		TurnDetection: realtime.TurnDetection{
			Type:              s.TurnDetection.Type,
			Threshold:         s.TurnDetection.Threshold,
			PrefixPaddingMs:   s.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: s.TurnDetection.SilenceDurationMs,
		},
	}
}

// ClientConfig holds the voxcall client settings.
type ClientConfig struct {
	// TokenURL is the ephemeral credential endpoint for peer sessions.
	TokenURL string `yaml:"token_url"`

	// RelayURL is the relay server's WebSocket endpoint.
	RelayURL string `yaml:"relay_url"`

	ICETimeout time.Duration `yaml:"ice_timeout"`

	// ICEServers are STUN/TURN URLs handed to the peer connection.
	ICEServers []string `yaml:"ice_servers"`

	CaptureSampleRate int           `yaml:"capture_sample_rate"`
	CaptureChannels   int           `yaml:"capture_channels"`
	FrameDuration     time.Duration `yaml:"frame_duration"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName   string        `yaml:"service_name"`
	TraceExporter TraceExporter `yaml:"trace_exporter"`
	OTLPEndpoint  string        `yaml:"otlp_endpoint"`

	// SampleRatio is the share of new traces recorded, in [0, 1]. Zero
	// records every trace.
	SampleRatio float64 `yaml:"sample_ratio"`
}
