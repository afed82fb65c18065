// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/mverrier/vigil/instrument"
	"github.com/mverrier/vigil/logging"
	"github.com/mverrier/vigil/middleware"
	"github.com/mverrier/vigil/pipeline"
	"github.com/mverrier/vigil/redact"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"vigil.yaml",
	"vigil.yml",
	"/etc/vigil/vigil.yaml",
	"/etc/vigil/vigil.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "VIGIL_CONFIG"

// envPrefix namespaces every environment override. Section and key are
// separated by a double underscore because key names themselves contain
// single underscores: VIGIL_PIPELINE__BATCH_SIZE -> pipeline.batch_size.
const envPrefix = "VIGIL_"

// Config is the root configuration, assembled once at startup from
// defaults, an optional YAML file, and environment variables. It is
// immutable after Load returns; there is no file watching.
type Config struct {
	App      AppConfig          `koanf:"app"`
	Log      LogConfig          `koanf:"log"`
	Pipeline pipeline.Config    `koanf:"pipeline"`
	HTTP     middleware.Config  `koanf:"http"`
	Database instrument.Options `koanf:"database"`
	Cache    instrument.Options `koanf:"cache"`
	Jobs     instrument.Options `koanf:"jobs"`
	Client   ClientConfig       `koanf:"client"`
	Redact   RedactConfig       `koanf:"redact"`
	Metrics  MetricsConfig      `koanf:"metrics"`
}

// AppConfig identifies the embedding application.
type AppConfig struct {
	// Name stamps emitted records and, unless pipeline.app_name is set
	// explicitly, doubles as the pipeline's application label.
	Name string `koanf:"name" validate:"required"`

	// Environment is one of: development, staging, production.
	Environment string `koanf:"environment"`
}

// LogConfig configures the process logger. It mirrors logging.Config minus
// the output writer, which is a wiring concern rather than a configuration
// value.
type LogConfig struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

// Logging converts the section into the logging package's config.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:     c.Level,
		Format:    c.Format,
		Caller:    c.Caller,
		Timestamp: c.Timestamp,
	}
}

// ClientConfig configures the outbound HTTP transport. It carries the same
// trace options as the database, cache, and jobs sections plus the upstream
// name and the circuit breaker toggle.
type ClientConfig struct {
	Enabled bool `koanf:"enabled"`

	// Name labels records and breaker metrics for this upstream.
	Name string `koanf:"name"`

	// Breaker guards the upstream with a circuit breaker. The breaker is
	// structural: it keeps protecting the upstream even when Enabled turns
	// record emission off.
	Breaker bool `koanf:"breaker"`

	LogStart       bool          `koanf:"log_start"`
	LogResults     bool          `koanf:"log_results"`
	SlowThreshold  time.Duration `koanf:"slow_threshold"`
	MaxValueLength int           `koanf:"max_value_length" validate:"omitempty,min=1"`
}

// Options converts the section into transport trace options.
func (c ClientConfig) Options() instrument.Options {
	return instrument.Options{
		Enabled:        c.Enabled,
		LogStart:       c.LogStart,
		LogResults:     c.LogResults,
		SlowThreshold:  c.SlowThreshold,
		MaxValueLength: c.MaxValueLength,
	}
}

// RedactConfig configures the shared redactor.
type RedactConfig struct {
	// Fields are sensitive field names; empty means the built-in set.
	Fields []string `koanf:"fields"`

	// Headers are sensitive header names; empty means the built-in set.
	Headers []string `koanf:"headers"`

	// MaxHeaderBytes is the serialized-size budget for masked header maps.
	MaxHeaderBytes int `koanf:"max_header_bytes" validate:"omitempty,min=1"`

	// PatternBudget bounds one pattern-scrubbing pass.
	PatternBudget time.Duration `koanf:"pattern_budget"`
}

// Options converts the section into redactor options.
func (c RedactConfig) Options() redact.Options {
	return redact.Options{
		Fields:         c.Fields,
		Headers:        c.Headers,
		MaxHeaderBytes: c.MaxHeaderBytes,
		PatternBudget:  c.PatternBudget,
	}
}

// MetricsConfig toggles Prometheus metric exposure in the host.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// defaultConfig returns a Config with every default filled in. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "vigil",
			Environment: "development",
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			Caller:    false,
			Timestamp: true,
		},
		Pipeline: pipeline.Config{
			AppName:       "", // mirrors app.name after load unless set explicitly
			QueueCapacity: 10000,
			BatchSize:     50,
			FlushInterval: 100 * time.Millisecond,
		},
		HTTP: middleware.Config{
			Enabled:           true,
			CorrelationHeader: "X-Correlation-Id",
			RequestIDHeader:   "X-Request-Id",
			ExcludedPaths:     nil,
			LogHeaders:        true,
			LogRequestBody:    true,
			LogResponseBody:   true,
			MaxBodyBytes:      4096,
			RewriteErrors:     false, // observe-only: hosts keep their own recovery behavior
		},
		// A zero SlowThreshold or MaxValueLength picks the per-category
		// default at construction (500ms database, 100ms cache, 30s jobs).
		Database: defaultTraceOptions(),
		Cache:    defaultTraceOptions(),
		Jobs:     defaultTraceOptions(),
		Client: ClientConfig{
			Enabled:    true,
			Name:       "outbound",
			Breaker:    true,
			LogStart:   true,
			LogResults: true,
		},
		Redact: RedactConfig{
			Fields:         nil,
			Headers:        nil,
			MaxHeaderBytes: 2048,
			PatternBudget:  50 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// defaultTraceOptions is the shared default for the trace sections.
func defaultTraceOptions() instrument.Options {
	return instrument.Options{
		Enabled:    true,
		LogStart:   true,
		LogResults: true,
	}
}

// Load assembles the configuration from layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file
//  3. Environment variables: highest priority
//
// An explicit path must exist; an empty path searches VIGIL_CONFIG and
// DefaultConfigPaths and silently skips the file layer when nothing is
// found. The returned Config has passed Validate.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.Pipeline.AppName == "" {
		cfg.Pipeline.AppName = cfg.App.Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, VIGIL_CONFIG first, then the
// default paths. Returns empty when nothing exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envToPath transforms an environment variable name to its koanf path:
// VIGIL_DATABASE__LOG_START -> database.log_start. VIGIL_CONFIG is the file
// location, not a value, and is skipped.
func envToPath(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// sliceConfigPaths are the keys parsed as comma-separated lists when they
// arrive as strings from the environment.
var sliceConfigPaths = []string{
	"http.excluded_paths",
	"redact.fields",
	"redact.headers",
}

// processSliceFields splits comma-separated environment values into the
// slices the sections expect. YAML lists arrive as slices already and pass
// through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		if len(values) == 0 {
			continue
		}
		if err := k.Set(path, values); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
