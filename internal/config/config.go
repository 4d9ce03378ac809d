// Package config holds runtime settings for the aggregate command: defaults,
// an optional YAML file, environment overrides and validation. Flags are
// applied last by the command itself.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultOutputFilename is the name of the aggregated file written to the
// base directory.
const DefaultOutputFilename = "aggregated_data.csv"

// LogFormat selects the log encoder.
type LogFormat string

const (
	LogFormatConsole LogFormat = "console" // Human-readable, one line per entry (default).
	LogFormatJSON    LogFormat = "json"
)

// Config holds all runtime settings. Zero values are not meaningful; start
// from Default.
type Config struct {
	// Output is the output filename, resolved against the base directory
	// unless absolute.
	Output string `yaml:"output"`

	// Reader settings.
	Workers      int           `yaml:"workers"`        // Default: 1 (sequential).
	MaxRetries   int           `yaml:"max_retries"`    // Default: 2. Transient I/O errors only.
	ReadTimeout  time.Duration `yaml:"read_timeout"`   // Default: 0 (no per-file deadline).
	RateLimitRPS float64       `yaml:"rate_limit_rps"` // Default: 0 (disabled).

	// MissingValue is written for columns a row's source file did not have.
	MissingValue string `yaml:"missing_value"`

	LogLevel  string    `yaml:"log_level"`  // Default: "info".
	LogFormat LogFormat `yaml:"log_format"` // Default: "console".
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Output:       DefaultOutputFilename,
		Workers:      1,
		MaxRetries:   2,
		ReadTimeout:  0,
		RateLimitRPS: 0,
		MissingValue: "",
		LogLevel:     "info",
		LogFormat:    LogFormatConsole,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys not present in the
// file keep their current values; unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// Environment variable names.
const (
	EnvConfig       = "AGGREGATE_CONFIG"
	EnvOutput       = "AGGREGATE_OUTPUT"
	EnvWorkers      = "AGGREGATE_WORKERS"
	EnvMaxRetries   = "AGGREGATE_MAX_RETRIES"
	EnvReadTimeout  = "AGGREGATE_READ_TIMEOUT"
	EnvRateLimitRPS = "AGGREGATE_RATE_LIMIT_RPS"
	EnvMissingValue = "AGGREGATE_MISSING_VALUE"
	EnvLogLevel     = "AGGREGATE_LOG_LEVEL"
	EnvLogFormat    = "AGGREGATE_LOG_FORMAT"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays any set AGGREGATE_* variables onto c.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := envString(lookup, EnvOutput); ok {
		c.Output = v
	}
	if v, ok := lookup(EnvMissingValue); ok {
		// Not trimmed: a space is a legitimate marker.
		c.MissingValue = v
	}
	if v, ok := envString(lookup, EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := envString(lookup, EnvLogFormat); ok {
		c.LogFormat = LogFormat(v)
	}

	var err error
	if c.Workers, err = envInt(lookup, EnvWorkers, c.Workers); err != nil {
		return err
	}
	if c.MaxRetries, err = envInt(lookup, EnvMaxRetries, c.MaxRetries); err != nil {
		return err
	}
	if c.ReadTimeout, err = envDuration(lookup, EnvReadTimeout, c.ReadTimeout); err != nil {
		return err
	}
	if c.RateLimitRPS, err = envFloat(lookup, EnvRateLimitRPS, c.RateLimitRPS); err != nil {
		return err
	}
	return nil
}

// Validate checks ranges and enum fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return errors.New("output filename must not be empty")
	}
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.ReadTimeout < 0 {
		return errors.Errorf("read timeout must not be negative, got %s", c.ReadTimeout)
	}
	if c.RateLimitRPS < 0 {
		return errors.Errorf("rate limit must not be negative, got %g", c.RateLimitRPS)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
		// valid
	default:
		return errors.Errorf("invalid log format %q (use 'console' or 'json')", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		// valid
	default:
		return errors.Errorf("invalid log level %q (use debug, info, warn or error)", c.LogLevel)
	}
	return nil
}

func envString(lookup LookupFunc, name string) (string, bool) {
	v, ok := lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envInt(lookup LookupFunc, name string, fallback int) (int, error) {
	v, ok := envString(lookup, name)
	if !ok {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s=%q", name, v)
	}
	return out, nil
}

func envFloat(lookup LookupFunc, name string, fallback float64) (float64, error) {
	v, ok := envString(lookup, name)
	if !ok {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s=%q", name, v)
	}
	return out, nil
}

func envDuration(lookup LookupFunc, name string, fallback time.Duration) (time.Duration, error) {
	v, ok := envString(lookup, name)
	if !ok {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s=%q", name, v)
	}
	return out, nil
}
