package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geomag.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEOMAG_COEFFS", "LOG_LEVEL", "LOG_FORMAT", "GEOMAG_GRPC_ADDR", "GEOMAG_METRICS_ADDR",
		"GEOMAG_TRACING_ENABLED", "GEOMAG_TRACING_EXPORTER", "GEOMAG_OTLP_ENDPOINT", "GEOMAG_TRACING_SAMPLE_RATIO",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
coefficients:
  path: /data/igrf12coeffs.txt
logging:
  level: debug
tracing:
  enabled: true
  sample_ratio: 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coefficients.Path != "/data/igrf12coeffs.txt" || cfg.Logging.Level != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	def := Default()
	if cfg.Logging.Format != def.Logging.Format || cfg.Server != def.Server {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	tc := cfg.TracingConfig()
	if !tc.Enabled || tc.SampleRatio != 0.5 || tc.Exporter != "stdout" || tc.ServiceName != def.Tracing.ServiceName {
		t.Fatalf("tracing config %+v", tc)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != Default() {
		t.Fatalf("got %+v, want defaults", cfg)
	}
	if lc := cfg.LoggerConfig(); lc.Level != "info" || lc.Format != "text" {
		t.Fatalf("logger config %+v", lc)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  grpc_addr: \":6000\"\n")
	t.Setenv("GEOMAG_COEFFS", "/env/coeffs.txt")
	t.Setenv("GEOMAG_GRPC_ADDR", "127.0.0.1:7000")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("GEOMAG_TRACING_ENABLED", "true")
	t.Setenv("GEOMAG_TRACING_EXPORTER", "OTLP")
	t.Setenv("GEOMAG_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("GEOMAG_TRACING_SAMPLE_RATIO", "0.1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Coefficients.Path != "/env/coeffs.txt" || cfg.Server.GRPCAddr != "127.0.0.1:7000" || cfg.Logging.Format != "json" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	tc := cfg.TracingConfig()
	if !tc.Enabled || tc.Exporter != "otlp" || tc.Endpoint != "collector:4317" || tc.SampleRatio != 0.1 {
		t.Fatalf("tracing overrides not applied: %+v", tc)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name    string
		body    string
		env     map[string]string
		invalid bool
	}{
		{name: "bad yaml", body: "coefficients: [unclosed"},
		{name: "empty path", body: "coefficients:\n  path: \"  \"\n", invalid: true},
		{name: "ratio", body: "tracing:\n  sample_ratio: 1.5\n", invalid: true},
		{name: "exporter", body: "tracing:\n  exporter: zipkin\n", invalid: true},
		{name: "log format", body: "logging:\n  format: xml\n", invalid: true},
		{name: "bad bool env", env: map[string]string{"GEOMAG_TRACING_ENABLED": "sometimes"}, invalid: true},
		{name: "bad ratio env", env: map[string]string{"GEOMAG_TRACING_SAMPLE_RATIO": "half"}, invalid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got := errors.Is(err, ErrInvalid); got != tc.invalid {
				t.Fatalf("errors.Is(err, ErrInvalid) = %v, want %v (err %v)", got, tc.invalid, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
