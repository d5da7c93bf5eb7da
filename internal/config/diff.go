package config

import "slices"

// ConfigDiff describes what changed between two configs. Only the log level
// and the session configuration are applied without a restart; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when the injected session.update differs.
	// Connections accepted after the change use the new configuration.
	SessionChanged bool

	// RestartRequired names the sections whose changes are ignored until the
	// process restarts, in document order.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.SessionChanged = !sessionEqual(old.Session, new.Session)

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providerEqual(old.Provider, new.Provider) || old.APIKey != new.APIKey {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if !clientEqual(old.Client, new.Client) {
		d.RestartRequired = append(d.RestartRequired, "client")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sessionEqual(a, b SessionConfig) bool {
	return a.Voice == b.Voice &&
		a.Instructions == b.Instructions &&
		a.InputAudioFormat == b.InputAudioFormat &&
		a.OutputAudioFormat == b.OutputAudioFormat &&
		a.TurnDetection == b.TurnDetection &&
		slices.Equal(a.Modalities, b.Modalities)
}

// serverEqual ignores the log level, which is applied live.
func serverEqual(a, b ServerConfig) bool {
	tlsEqual := (a.TLS == nil) == (b.TLS == nil) && (a.TLS == nil || *a.TLS == *b.TLS)
	return a.ListenAddr == b.ListenAddr &&
		a.ShutdownTimeout == b.ShutdownTimeout &&
		tlsEqual &&
		slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

func providerEqual(a, b ProviderConfig) bool {
	return a.RealtimeURL == b.RealtimeURL &&
		a.SignalingURL == b.SignalingURL &&
		a.Model == b.Model &&
		a.BetaHeader == b.BetaHeader &&
		a.APIKeyEnv == b.APIKeyEnv &&
		a.DialTimeout == b.DialTimeout &&
		slices.Equal(a.Models, b.Models) &&
		slices.Equal(a.ModelNotFoundCodes, b.ModelNotFoundCodes)
}

func clientEqual(a, b ClientConfig) bool {
	return a.TokenURL == b.TokenURL &&
		a.RelayURL == b.RelayURL &&
		a.ICETimeout == b.ICETimeout &&
		a.CaptureSampleRate == b.CaptureSampleRate &&
		a.CaptureChannels == b.CaptureChannels &&
		a.FrameDuration == b.FrameDuration &&
		slices.Equal(a.ICEServers, b.ICEServers)
}
