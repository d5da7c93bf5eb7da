package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/voxbridge/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"tls without key", "server:\n  tls:\n    cert_file: cert.pem\n", "server.tls"},
		{"http realtime url", "provider:\n  realtime_url: https://api.example.com/v1/realtime\n", "provider.realtime_url"},
		{"ws signaling url", "provider:\n  signaling_url: wss://api.example.com/v1/realtime\n", "provider.signaling_url"},
		{"empty model", "provider:\n  models: [\"a\", \"\"]\n", "provider.models[1]"},
		{"duplicate model", "provider:\n  models: [a, b, a]\n", "duplicate of provider.models[0]"},
		{"threshold out of range", "session:\n  turn_detection:\n    threshold: 1.5\n", "threshold"},
		{"unknown modality", "session:\n  modalities: [audio, video]\n", "session.modalities[1]"},
		{"relay url scheme", "client:\n  relay_url: http://localhost:8080/v1/realtime\n", "client.relay_url"},
		{"token url scheme", "client:\n  token_url: ftp://tokens.example.com\n", "client.token_url"},
		{"bad channel count", "client:\n  capture_channels: 6\n", "client.capture_channels"},
		{"non opus frame", "client:\n  frame_duration: 15ms\n", "client.frame_duration"},
		{"unknown exporter", "telemetry:\n  trace_exporter: jaeger\n", "telemetry.trace_exporter"},
		{"otlp without endpoint", "telemetry:\n  trace_exporter: otlp\n", "telemetry.otlp_endpoint"},
		{"sample ratio above one", "telemetry:\n  sample_ratio: 2\n", "telemetry.sample_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	doc := `
server:
  log_level: loud
telemetry:
  trace_exporter: carrier-pigeon
client:
  capture_channels: 3
`
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected a joined error")
	}
	for _, want := range []string{"server.log_level", "telemetry.trace_exporter", "client.capture_channels"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

// Load and LoadEnv touch the process environment, so these tests do not run
// in parallel.

func TestLoad_ReadsCredentialFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxbridge.yaml")
	writeFile(t, path, "provider:\n  api_key_env: VOXBRIDGE_LOAD_KEY\n")
	t.Setenv("VOXBRIDGE_LOAD_KEY", "sk-from-env")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	writeFile(t, envPath, "VOXBRIDGE_DOTENV_A=from-file\nVOXBRIDGE_DOTENV_B=from-file\n")
	t.Setenv("VOXBRIDGE_DOTENV_B", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("VOXBRIDGE_DOTENV_A") })

	if err := config.LoadEnv(envPath, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("VOXBRIDGE_DOTENV_A"); got != "from-file" {
		t.Errorf("A = %q, want from-file", got)
	}
	if got := os.Getenv("VOXBRIDGE_DOTENV_B"); got != "from-process" {
		t.Errorf("B = %q, existing variable was overridden", got)
	}
}
