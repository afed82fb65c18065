// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/mverrier/vigil/instrument"
)

// singleton validator instance; caches struct metadata across calls
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// structValidator returns the shared validator. Thread-safe.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

var validLogLevels = map[string]bool{
	"trace":   true,
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
	"fatal":   true,
	"panic":   true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// Validate checks that the configuration is coherent: the section structs'
// validation tags pass, enumerated values are members of their sets, and
// cross-field constraints hold.
func (c *Config) Validate() error {
	if err := c.validateStruct(); err != nil {
		return err
	}
	if err := c.validateApp(); err != nil {
		return err
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTracing(); err != nil {
		return err
	}
	return c.validateRedact()
}

// validateStruct runs the validation tags carried by the section structs.
func (c *Config) validateStruct() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return err
}

// validateApp validates the application identity section.
func (c *Config) validateApp() error {
	if !validEnvironments[c.App.Environment] {
		return fmt.Errorf("app.environment must be one of: development, staging, production")
	}
	return nil
}

// validateLog validates the process logger section.
func (c *Config) validateLog() error {
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if c.Log.Format != "" && !validLogFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, console")
	}
	return nil
}

// validatePipeline validates the record pipeline section.
func (c *Config) validatePipeline() error {
	if c.Pipeline.BatchSize > c.Pipeline.QueueCapacity {
		return fmt.Errorf("pipeline.batch_size (%d) must not exceed pipeline.queue_capacity (%d)",
			c.Pipeline.BatchSize, c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.FlushInterval <= 0 {
		return fmt.Errorf("pipeline.flush_interval must be positive")
	}
	return nil
}

// validateTracing validates the per-category trace sections.
func (c *Config) validateTracing() error {
	sections := []struct {
		name string
		opts instrument.Options
	}{
		{"database", c.Database},
		{"cache", c.Cache},
		{"jobs", c.Jobs},
		{"client", c.Client.Options()},
	}
	for _, s := range sections {
		if s.opts.SlowThreshold < 0 {
			return fmt.Errorf("%s.slow_threshold must not be negative", s.name)
		}
	}
	return nil
}

// validateRedact validates the redaction section.
func (c *Config) validateRedact() error {
	if c.Redact.PatternBudget < 0 {
		return fmt.Errorf("redact.pattern_budget must not be negative")
	}
	return nil
}
