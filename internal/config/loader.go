package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxbridge/internal/signaling"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultRealtimeURL     = "wss://api.openai.com/v1/realtime"
	DefaultSignalingURL    = "https://api.openai.com/v1/realtime"
	DefaultModel           = "gpt-4o-realtime-preview"
	DefaultBetaHeader      = "realtime=v1"
	DefaultAPIKeyEnv       = "OPENAI_API_KEY"
	DefaultServiceName     = "voxbridge"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultICETimeout      = 2 * time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultSampleRate      = 48000
	DefaultFrameDuration   = 20 * time.Millisecond
)

// opusFrameDurations are the capture frame sizes the Opus encoder accepts.
var opusFrameDurations = []time.Duration{
	10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond,
}

// LoadEnv loads KEY=VALUE pairs from the given dotenv files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it loads ".env".
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, resolves the upstream
// credential from the environment and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := load(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func load(data []byte) (*Config, error) {
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	ResolveEnv(cfg, os.LookupEnv)
	if cfg.APIKey == "" {
		slog.Warn("upstream credential not set; the relay will report not ready",
			"env", cfg.Provider.APIKeyEnv)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. It does not consult the environment. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveEnv fills cfg.APIKey from the environment variable named by
// cfg.Provider.APIKeyEnv.
func ResolveEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(cfg.Provider.APIKeyEnv); ok {
		cfg.APIKey = v
	}
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	p := &cfg.Provider
	if p.RealtimeURL == "" {
		p.RealtimeURL = DefaultRealtimeURL
	}
	if p.SignalingURL == "" {
		p.SignalingURL = DefaultSignalingURL
	}
	if p.Model == "" {
		p.Model = DefaultModel
	}
	if len(p.Models) == 0 {
		p.Models = []string{p.Model}
	}
	if p.BetaHeader == "" {
		p.BetaHeader = DefaultBetaHeader
	}
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = DefaultAPIKeyEnv
	}
	if p.DialTimeout == 0 {
		p.DialTimeout = DefaultDialTimeout
	}

	def := realtime.DefaultSessionConfig()
	ss := &cfg.Session
	if ss.Voice == "" {
		ss.Voice = def.Voice
	}
	if len(ss.Modalities) == 0 {
		ss.Modalities = def.Modalities
	}
	if ss.InputAudioFormat == "" {
		ss.InputAudioFormat = def.InputAudioFormat
	}
	if ss.OutputAudioFormat == "" {
		ss.OutputAudioFormat = def.OutputAudioFormat
	}
	td := &ss.TurnDetection
	if td.Type == "" {
		td.Type = def.TurnDetection.Type
	}
	if td.Threshold == 0 {
		td.Threshold = def.TurnDetection.Threshold
	}
	if td.PrefixPaddingMs == 0 {
		td.PrefixPaddingMs = def.TurnDetection.PrefixPaddingMs
	}
	if td.SilenceDurationMs == 0 {
		td.SilenceDurationMs = def.TurnDetection.SilenceDurationMs
	}

	c := &cfg.Client
	if c.ICETimeout == 0 {
		c.ICETimeout = DefaultICETimeout
	}
	if c.CaptureSampleRate == 0 {
		c.CaptureSampleRate = DefaultSampleRate
	}
	if c.CaptureChannels == 0 {
		c.CaptureChannels = 1
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}

	t := &cfg.Telemetry
	if t.ServiceName == "" {
		t.ServiceName = DefaultServiceName
	}
	if t.TraceExporter == "" {
		t.TraceExporter = TraceNone
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	// Provider
	errs = appendURLError(errs, "provider.realtime_url", cfg.Provider.RealtimeURL, "ws", "wss")
	errs = appendURLError(errs, "provider.signaling_url", cfg.Provider.SignalingURL, "http", "https")
	seen := make(map[string]int, len(cfg.Provider.Models))
	for i, m := range cfg.Provider.Models {
		prefix := fmt.Sprintf("provider.models[%d]", i)
		if m == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", prefix))
			continue
		}
		if prev, ok := seen[m]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of provider.models[%d]", prefix, m, prev))
		}
		seen[m] = i
	}
	if cfg.Provider.DialTimeout < 0 {
		errs = append(errs, errors.New("provider.dial_timeout must not be negative"))
	}

	// Session
	if th := cfg.Session.TurnDetection.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("session.turn_detection.threshold %.2f is out of range [0, 1]", th))
	}
	for i, m := range cfg.Session.Modalities {
		if m != "audio" && m != "text" {
			errs = append(errs, fmt.Errorf("session.modalities[%d] %q is invalid; valid values: audio, text", i, m))
		}
	}

	// Client
	if cfg.Client.TokenURL != "" {
		errs = appendURLError(errs, "client.token_url", cfg.Client.TokenURL, "http", "https")
	}
	if cfg.Client.RelayURL != "" {
		errs = appendURLError(errs, "client.relay_url", cfg.Client.RelayURL, "ws", "wss")
	}
	if cfg.Client.ICETimeout < 0 {
		errs = append(errs, errors.New("client.ice_timeout must not be negative"))
	}
	if cfg.Client.CaptureSampleRate < 0 {
		errs = append(errs, fmt.Errorf("client.capture_sample_rate %d must be positive", cfg.Client.CaptureSampleRate))
	}
	if ch := cfg.Client.CaptureChannels; ch != 1 && ch != 2 {
		errs = append(errs, fmt.Errorf("client.capture_channels %d is invalid; valid values: 1, 2", ch))
	}
	if !slices.Contains(opusFrameDurations, cfg.Client.FrameDuration) {
		errs = append(errs, fmt.Errorf("client.frame_duration %v is invalid; valid values: 10ms, 20ms, 40ms, 60ms", cfg.Client.FrameDuration))
	}

	// Telemetry
	if !cfg.Telemetry.TraceExporter.IsValid() {
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q is invalid; valid values: none, stdout, otlp", cfg.Telemetry.TraceExporter))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %v must be between 0 and 1", r))
	}
	if cfg.Telemetry.TraceExporter == TraceOTLP && cfg.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp"))
	}

	return errors.Join(errs...)
}

func appendURLError(errs []error, field, raw string, schemes ...string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", field, err))
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return append(errs, fmt.Errorf("%s %q must be an absolute %s url", field, raw, schemes[len(schemes)-1]))
	}
	return errs
}

// ModelNotFound builds the signaling error classifier for p. Configured
// codes extend the built-in classification.
func (p ProviderConfig) ModelNotFound() signaling.Predicate {
	if len(p.ModelNotFoundCodes) == 0 {
		return signaling.DefaultModelNotFound()
	}
	return signaling.Any(signaling.MatchErrorCodes(p.ModelNotFoundCodes...), signaling.DefaultModelNotFound())
}
