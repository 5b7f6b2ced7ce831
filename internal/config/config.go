// Package config provides the configuration schema and loader for the voxkit
// voice client.
package config

import "time"

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects how user utterances are delimited.
type Mode string

const (
	// ModeContinuous streams audio constantly; the service detects utterance
	// boundaries itself.
	ModeContinuous Mode = "continuous"

	// ModePushToTalk streams audio only while the user holds the talk key and
	// sends an explicit end-of-audio event on release.
	ModePushToTalk Mode = "push_to_talk"
)

// IsValid reports whether m is a recognised session mode.
func (m Mode) IsValid() bool {
	return m == ModeContinuous || m == ModePushToTalk
}

// Config is the root configuration structure for the voxkit client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Audio     AudioConfig     `yaml:"audio"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServiceConfig identifies the voice service and logging behaviour.
type ServiceConfig struct {
	// Endpoint is the WebSocket URL of the voice service
	// (e.g., "ws://localhost:8000/ws/voice-stream").
	Endpoint string `yaml:"endpoint"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig holds the capture and playback audio parameters.
type AudioConfig struct {
	// CaptureSampleRate is the microphone sample rate in Hz.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// FrameDurationMS is the capture frame length in milliseconds.
	FrameDurationMS int `yaml:"frame_duration_ms"`

	// PlaybackSampleRate is the output device sample rate in Hz. Synthesized
	// chunks arriving at a different rate are resampled.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
}

// FrameDuration returns the frame length as a [time.Duration].
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMS) * time.Millisecond
}

// TransportConfig tunes connection-loss recovery.
type TransportConfig struct {
	// ReconnectDelayMS is the fixed wait between reconnection attempts, in
	// milliseconds.
	ReconnectDelayMS int `yaml:"reconnect_delay_ms"`

	// MaxReconnects is the number of consecutive failed attempts before the
	// client gives up.
	MaxReconnects int `yaml:"max_reconnects"`
}

// ReconnectDelay returns the reconnect delay as a [time.Duration].
func (t TransportConfig) ReconnectDelay() time.Duration {
	return time.Duration(t.ReconnectDelayMS) * time.Millisecond
}

// SessionConfig controls conversation behaviour.
type SessionConfig struct {
	// Mode selects how utterances are delimited.
	Mode Mode `yaml:"mode"`

	// FlushPartialFrames sends the buffered sub-frame remainder as a final
	// undersized frame when an utterance ends. When false the remainder is
	// discarded.
	FlushPartialFrames bool `yaml:"flush_partial_frames"`
}

// HistoryConfig configures conversation persistence.
type HistoryConfig struct {
	// PostgresDSN is the connection string of the history database. Leave
	// empty to disable persistence.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address of the /metrics HTTP listener
	// (e.g., ":9091"). Leave empty to disable the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config populated with the standard defaults. Loading a
// file overlays its values on top of these.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			LogLevel: LogInfo,
		},
		Audio: AudioConfig{
			CaptureSampleRate:  16000,
			FrameDurationMS:    100,
			PlaybackSampleRate: 24000,
		},
		Transport: TransportConfig{
			ReconnectDelayMS: 2000,
			MaxReconnects:    10,
		},
		Session: SessionConfig{
			Mode: ModeContinuous,
		},
	}
}
