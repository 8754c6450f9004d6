// Package config loads the service configuration from YAML and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/internal/observability"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration of the geomag binaries.
type Config struct {
	Coefficients CoefficientsConfig `yaml:"coefficients"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// CoefficientsConfig locates the Gauss coefficient file.
type CoefficientsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Coefficients: CoefficientsConfig{Path: "igrf12coeffs.txt"},
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Server:       ServerConfig{GRPCAddr: ":50051", MetricsAddr: ":9090"},
		Tracing: TracingConfig{
			ServiceName: observability.DefaultServiceName,
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("GEOMAG_COEFFS", &c.Coefficients.Path)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("GEOMAG_GRPC_ADDR", &c.Server.GRPCAddr)
	str("GEOMAG_METRICS_ADDR", &c.Server.MetricsAddr)
	str("GEOMAG_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("GEOMAG_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := lookup("GEOMAG_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: GEOMAG_TRACING_ENABLED=%q: %v", ErrInvalid, v, err)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup("GEOMAG_TRACING_SAMPLE_RATIO"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: GEOMAG_TRACING_SAMPLE_RATIO=%q: %v", ErrInvalid, v, err)
		}
		c.Tracing.SampleRatio = f
	}
	return nil
}

// Validate checks the fields that have no safe fallback.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Coefficients.Path) == "" {
		problems = append(problems, "coefficients.path is empty")
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		problems = append(problems, fmt.Sprintf("tracing.sample_ratio %v not in [0, 1]", r))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "stdout", "otlp", "otlpgrpc":
	default:
		problems = append(problems, fmt.Sprintf("tracing.exporter %q is not one of stdout, otlp", c.Tracing.Exporter))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: c.Logging.AddSource,
	}
}

// TracingConfig converts the tracing section for observability.StartTracing.
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    strings.ToLower(c.Tracing.Exporter),
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
