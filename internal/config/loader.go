package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults for omitted
// values, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Service.Endpoint == "" {
		errs = append(errs, errors.New("service.endpoint is required"))
	} else if !strings.HasPrefix(cfg.Service.Endpoint, "ws://") && !strings.HasPrefix(cfg.Service.Endpoint, "wss://") {
		errs = append(errs, fmt.Errorf("service.endpoint %q must use the ws:// or wss:// scheme", cfg.Service.Endpoint))
	}
	if cfg.Service.LogLevel != "" && !cfg.Service.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("service.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Service.LogLevel))
	}

	if cfg.Audio.CaptureSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d must be positive", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d must be positive", cfg.Audio.FrameDurationMS))
	}
	if cfg.Audio.PlaybackSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d must be positive", cfg.Audio.PlaybackSampleRate))
	}

	if cfg.Transport.ReconnectDelayMS < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect_delay_ms %d must not be negative", cfg.Transport.ReconnectDelayMS))
	}
	if cfg.Transport.MaxReconnects < 0 {
		errs = append(errs, fmt.Errorf("transport.max_reconnects %d must not be negative", cfg.Transport.MaxReconnects))
	}

	if cfg.Session.Mode != "" && !cfg.Session.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: continuous, push_to_talk", cfg.Session.Mode))
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversation history will not be persisted")
	}
	if cfg.Metrics.ListenAddr == "" {
		slog.Info("metrics.listen_addr is empty; metrics endpoint disabled")
	}

	return errors.Join(errs...)
}
