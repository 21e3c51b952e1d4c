package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Relay
	if err := validateOrigin("relay.expected_origin", cfg.Relay.ExpectedOrigin); err != nil {
		errs = append(errs, err)
	}
	if err := validateOrigin("relay.page_origin", cfg.Relay.PageOrigin); err != nil {
		errs = append(errs, err)
	}
	if cfg.Relay.Buffer < 0 {
		errs = append(errs, fmt.Errorf("relay.buffer %d must not be negative", cfg.Relay.Buffer))
	}
	if cfg.Relay.Token == "" {
		slog.Debug("relay.token is empty; a random token is generated at startup")
	}

	// Practice
	p := cfg.Practice
	if p.PlaybackRate != 0 && (p.PlaybackRate < 0.5 || p.PlaybackRate > 2.0) {
		errs = append(errs, fmt.Errorf("practice.playback_rate %.2f is out of range [0.5, 2.0]", p.PlaybackRate))
	}
	if v := p.ContentVolume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("practice.content_volume %.2f is out of range [0, 1]", *v))
	}
	if v := p.EffectVolume; v != nil && (*v < 0 || *v > 1) {
		errs = append(errs, fmt.Errorf("practice.effect_volume %.2f is out of range [0, 1]", *v))
	}
	if p.CompletionDelay < 0 {
		errs = append(errs, fmt.Errorf("practice.completion_delay %s must not be negative", p.CompletionDelay))
	}
	if p.MistakeFade < 0 {
		errs = append(errs, fmt.Errorf("practice.mistake_fade %s must not be negative", p.MistakeFade))
	}
	if p.SkipSeconds < 0 {
		errs = append(errs, fmt.Errorf("practice.skip_seconds %.2f must not be negative", p.SkipSeconds))
	}
	if v := p.BacktrackSeconds; v != nil && *v < 0 {
		errs = append(errs, fmt.Errorf("practice.backtrack_seconds %.2f must not be negative", *v))
	}

	// Bridge
	if u := cfg.Bridge.OverlayURL; u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("bridge.overlay_url %q must be an absolute ws:// or wss:// URL", u))
		}
	}

	return errors.Join(errs...)
}

// validateOrigin accepts an empty value or a scheme://host origin without
// path, query or fragment.
func validateOrigin(field, origin string) error {
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute origin such as https://iknow.jp", field, origin)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%s %q must not contain a path, query or fragment", field, origin)
	}
	return nil
}
