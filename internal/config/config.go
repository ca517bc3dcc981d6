// Package config handles Parley configuration loading and live reload.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config holds all Parley configuration. Instances handed out by
// [Manager.Current] are immutable snapshots; never mutate one in place.
type Config struct {
	// Model is the primary chat model passed to Ollama.
	Model string `yaml:"model"`
	// IntermediateModel is used for the reply/observe gating call.
	IntermediateModel string `yaml:"intermediate_model"`
	// System is the system prompt prepended to every generation payload.
	// Empty disables the system entry entirely.
	System string `yaml:"system"`
	// Stream selects streaming mode for the primary generation call.
	Stream bool `yaml:"stream"`
	// History is the directory holding per-conversation history files.
	History string `yaml:"history"`
	// OllamaURL is the base URL of the Ollama server.
	OllamaURL string `yaml:"ollama_url"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the documented default configuration. These values
// are written verbatim to a fresh config file on first run.
func Default() *Config {
	return &Config{
		Model:             "hf.co/soob3123/amoral-gemma3-4B-v1-gguf:latest",
		IntermediateModel: "hf.co/soob3123/amoral-gemma3-4B-v1-gguf:latest",
		System:            "You are a helpful assistant. Answer questions clearly and concisely.",
		Stream:            true,
		History:           "history",
		OllamaURL:         "http://localhost:11434",
		LogLevel:          "info",
	}
}

// normalize fills zero-valued fields with their defaults so a sparse
// hand-edited file still produces a usable record.
func (c *Config) normalize() {
	def := Default()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.IntermediateModel == "" {
		c.IntermediateModel = def.IntermediateModel
	}
	if c.History == "" {
		c.History = def.History
	}
	if c.OllamaURL == "" {
		c.OllamaURL = def.OllamaURL
	}
}

// Load reads configuration from a YAML file. Environment variables in
// the file body are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{Stream: true}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.normalize()

	return cfg, nil
}

// LoadOrCreate loads the config file at path, creating it with the
// documented defaults when it does not exist. An unreadable or invalid
// file is treated as no data: the defaults are returned alongside the
// error so the caller can log the problem and keep running.
func LoadOrCreate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		def := Default()
		if werr := writeConfig(path, def); werr != nil {
			return def, fmt.Errorf("create default config %s: %w", path, werr)
		}
		return def, nil
	}

	return Default(), err
}

func writeConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Manager hands out immutable config snapshots and supports atomic
// replacement of the whole record. Readers take one snapshot per
// logical request; a reload mid-request can never expose a mix of old
// and new fields.
type Manager struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Config]
}

// NewManager creates a Manager seeded from the file at path, creating
// the file with defaults when absent. A broken file is logged and the
// defaults are used; the manager is always usable.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{path: path, logger: logger}

	cfg, err := LoadOrCreate(path)
	if err != nil {
		logger.Warn("config unusable, falling back to defaults",
			"path", path,
			"error", err,
		)
	}
	m.current.Store(cfg)

	return m
}

// Path returns the config file path the manager was created with.
func (m *Manager) Path() string {
	return m.path
}

// Current returns the latest config snapshot. The returned value must
// not be modified.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload re-reads the config file and atomically swaps the snapshot.
// On failure the previous snapshot stays active and the error is
// returned for the caller to log.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	m.current.Store(cfg)
	m.logger.Info("config reloaded",
		"path", m.path,
		"model", cfg.Model,
		"stream", cfg.Stream,
	)
	return nil
}
