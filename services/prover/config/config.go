// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the prover client's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dEAduction/dEAduction-sub003/services/prover/telemetry"
	"github.com/dEAduction/dEAduction-sub003/services/prover/transport"
)

var validate = validator.New()

// Config is the whole configuration file.
type Config struct {
	Prover    ProverConfig    `yaml:"prover"`
	File      FileConfig      `yaml:"file"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProverConfig describes how to run and talk to the prover.
type ProverConfig struct {
	// Executable is e.g. "lean"; looked up on PATH.
	Executable string `yaml:"executable" validate:"required"`

	// Args start the prover in server mode.
	Args []string `yaml:"args"`

	Dir string `yaml:"dir,omitempty"`

	// Env entries are KEY=value.
	Env []string `yaml:"env,omitempty" validate:"dive,contains=="`

	// RequestTimeout applies to each request without its own deadline.
	// Zero disables it.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0"`

	StopTimeout time.Duration `yaml:"stop_timeout" validate:"min=1ms"`

	// IdleTimeout bounds the wait for the prover after each sync.
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"min=1ms"`

	TranscriptSize int `yaml:"transcript_size" validate:"min=1,max=100000"`
}

// FileConfig describes the checked file.
type FileConfig struct {
	// Name is what the prover calls the file. Empty means the base name of
	// the path given on the command line.
	Name string `yaml:"name,omitempty"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
	Quiet  bool   `yaml:"quiet"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Prover: ProverConfig{
			Executable:     "lean",
			Args:           []string{"--server"},
			RequestTimeout: 30 * time.Second,
			StopTimeout:    transport.DefaultStopTimeout,
			IdleTimeout:    2 * time.Minute,
			TranscriptSize: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterPrometheus,
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
		},
	}
}

// DefaultPath returns ~/.prover/prover.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".prover", "prover.yaml"), nil
}

// Load reads path over the defaults and validates the result. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Save writes c to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Transport returns the process configuration for the prover.
func (p ProverConfig) Transport(logger *slog.Logger) transport.Config {
	return transport.Config{
		Executable:  p.Executable,
		Args:        p.Args,
		Dir:         p.Dir,
		Env:         p.Env,
		StopTimeout: p.StopTimeout,
		Logger:      logger,
	}
}

// Config returns the telemetry configuration for service.
func (t TelemetryConfig) Config(service string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = service
	cfg.TraceExporter = t.TraceExporter
	cfg.MetricExporter = t.MetricExporter
	cfg.OTLPEndpoint = t.OTLPEndpoint
	cfg.OTLPInsecure = t.OTLPInsecure
	return cfg
}

// FileName returns the name to sync path under.
func (c *Config) FileName(path string) string {
	if c.File.Name != "" {
		return c.File.Name
	}
	return filepath.Base(path)
}
