package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxbridge/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		wantLevel   bool
		wantSession bool
		wantRestart []string
	}{
		{name: "no changes", mutate: func(*config.Config) {}},
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:        "voice",
			mutate:      func(c *config.Config) { c.Session.Voice = "verse" },
			wantSession: true,
		},
		{
			name:        "turn detection",
			mutate:      func(c *config.Config) { c.Session.TurnDetection.SilenceDurationMs = 900 },
			wantSession: true,
		},
		{
			name:        "modalities",
			mutate:      func(c *config.Config) { c.Session.Modalities = []string{"text"} },
			wantSession: true,
		},
		{
			name:        "listen addr",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":9999" },
			wantRestart: []string{"server"},
		},
		{
			name:        "tls added",
			mutate:      func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} },
			wantRestart: []string{"server"},
		},
		{
			name:        "credential rotated",
			mutate:      func(c *config.Config) { c.APIKey = "sk-new" },
			wantRestart: []string{"provider"},
		},
		{
			name: "everything",
			mutate: func(c *config.Config) {
				c.Server.LogLevel = config.LogWarn
				c.Server.AllowedOrigins = []string{"*.example.com"}
				c.Provider.Models = append(c.Provider.Models, "fallback")
				c.Session.Instructions = "Be terse."
				c.Client.ICEServers = []string{"stun:stun.example.com"}
				c.Telemetry.ServiceName = "other"
			},
			wantLevel:   true,
			wantSession: true,
			wantRestart: []string{"server", "provider", "client", "telemetry"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := mustLoad(t, sampleYAML)
			updated := mustLoad(t, sampleYAML)
			tc.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.SessionChanged != tc.wantSession {
				t.Errorf("SessionChanged = %v, want %v", d.SessionChanged, tc.wantSession)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
			if empty := !tc.wantLevel && !tc.wantSession && len(tc.wantRestart) == 0; d.Empty() != empty {
				t.Errorf("Empty() = %v, want %v", d.Empty(), empty)
			}
		})
	}
}
