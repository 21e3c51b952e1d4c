// Package config provides the configuration schema, loader, and file watcher
// for the scribeline overlay server.
package config

import "time"

// LogLevel controls log verbosity for the scribeline server.
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

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = "127.0.0.1:8088"
	DefaultOrigin          = "https://iknow.jp"
	DefaultPlaybackRate    = 1.0
	DefaultVolume          = 1.0
	DefaultCompletionDelay = 100 * time.Millisecond
	DefaultMistakeFade     = time.Second
	DefaultSkipSeconds     = 1.0
	DefaultBacktrack       = 1.0
	DefaultRelayBuffer     = 64
)

// Config is the root configuration structure for scribeline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Relay    RelayConfig    `yaml:"relay"`
	Practice PracticeConfig `yaml:"practice"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// ServerConfig holds network and logging settings for the overlay server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., "127.0.0.1:8088").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RelayConfig configures the channel captured payloads travel on.
type RelayConfig struct {
	// ExpectedOrigin is the only origin whose relay messages are accepted.
	ExpectedOrigin string `yaml:"expected_origin"`

	// Token names the relay endpoint. Generated at startup when empty.
	Token string `yaml:"token"`

	// PageOrigin is the host origin relative payload URLs are resolved
	// against by the capture bridge.
	PageOrigin string `yaml:"page_origin"`

	// Buffer is the number of relayed messages queued before senders block.
	Buffer int `yaml:"buffer"`
}

// PracticeConfig tunes the practice engine and its initial settings.
type PracticeConfig struct {
	// PlaybackRate is the initial sentence audio rate in [0.5, 2.0].
	PlaybackRate float64 `yaml:"playback_rate"`

	// ContentVolume is the initial sentence audio volume in [0, 1].
	ContentVolume *float64 `yaml:"content_volume"`

	// EffectVolume is the initial error sound volume in [0, 1].
	EffectVolume *float64 `yaml:"effect_volume"`

	// CompletionDelay is the pause between a correct letter and the
	// completion check.
	CompletionDelay time.Duration `yaml:"completion_delay"`

	// MistakeFade is how long the mistake glyph stays visible.
	MistakeFade time.Duration `yaml:"mistake_fade"`

	// SkipSeconds is the arrow-key seek step.
	SkipSeconds float64 `yaml:"skip_seconds"`

	// BacktrackSeconds is subtracted from every replay position.
	BacktrackSeconds *float64 `yaml:"backtrack_seconds"`
}

// BridgeConfig configures the capture bridge command.
type BridgeConfig struct {
	// OverlayURL is the base websocket URL of a running overlay server
	// (e.g., "ws://127.0.0.1:8088").
	OverlayURL string `yaml:"overlay_url"`
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Relay.ExpectedOrigin == "" {
		cfg.Relay.ExpectedOrigin = DefaultOrigin
	}
	if cfg.Relay.PageOrigin == "" {
		cfg.Relay.PageOrigin = cfg.Relay.ExpectedOrigin
	}
	if cfg.Relay.Buffer == 0 {
		cfg.Relay.Buffer = DefaultRelayBuffer
	}
	if cfg.Practice.PlaybackRate == 0 {
		cfg.Practice.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Practice.ContentVolume == nil {
		cfg.Practice.ContentVolume = ptr(DefaultVolume)
	}
	if cfg.Practice.EffectVolume == nil {
		cfg.Practice.EffectVolume = ptr(DefaultVolume)
	}
	if cfg.Practice.CompletionDelay == 0 {
		cfg.Practice.CompletionDelay = DefaultCompletionDelay
	}
	if cfg.Practice.MistakeFade == 0 {
		cfg.Practice.MistakeFade = DefaultMistakeFade
	}
	if cfg.Practice.SkipSeconds == 0 {
		cfg.Practice.SkipSeconds = DefaultSkipSeconds
	}
	if cfg.Practice.BacktrackSeconds == nil {
		cfg.Practice.BacktrackSeconds = ptr(DefaultBacktrack)
	}
	if cfg.Bridge.OverlayURL == "" {
		cfg.Bridge.OverlayURL = "ws://" + cfg.Server.ListenAddr
	}
}

func ptr[T any](v T) *T { return &v }
