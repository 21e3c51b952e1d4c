package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/MrWong99/scribeline/internal/catalog"
	"github.com/MrWong99/scribeline/internal/config"
	"github.com/MrWong99/scribeline/internal/resilience"
	"github.com/MrWong99/scribeline/pkg/capture"
	"github.com/MrWong99/scribeline/pkg/relay"
)

// bridgeAction fetches each URL argument as the host page would and relays
// the captured payloads to a running overlay server.
func bridgeAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("bridge: at least one URL is required")
	}
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if o := c.String("overlay"); o != "" {
		cfg.Bridge.OverlayURL = o
	}
	headers, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return err
	}

	logger, _ := newLogger(c.App.ErrWriter, cfg.Server.LogLevel)
	ctx := c.Context

	b, err := newBridge(ctx, cfg, logger, c.Duration("timeout"))
	if err != nil {
		return err
	}
	defer b.close()

	// Stop hammering the host once it keeps refusing, e.g. after the
	// session cookie expired.
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "host",
		MaxFailures: c.Int("max-failures"),
		Logger:      logger,
	})

	var failed int
	for _, raw := range c.Args().Slice() {
		err := breaker.Execute(func() error { return b.fetch(ctx, raw, headers) })
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			logger.Warn("bridge: skipping fetch, host keeps failing", "url", raw)
			failed++
		case err != nil:
			logger.Warn("bridge: fetch failed", "url", raw, "err", err)
			failed++
		}
	}
	logger.Info("bridge: done", "urls", c.NArg(), "failed", failed, "relayed", b.relayed)
	if failed > 0 {
		return fmt.Errorf("bridge: %d of %d fetches failed", failed, c.NArg())
	}
	return nil
}

// bridge is a capturing HTTP client whose payloads go to a relay sender.
type bridge struct {
	client  *http.Client
	sender  *relay.Sender
	log     *slog.Logger
	relayed int
}

func newBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger, timeout time.Duration) (*bridge, error) {
	ep, err := discoverEndpoint(ctx, cfg)
	if err != nil {
		return nil, err
	}
	patterns, err := ep.Compile()
	if err != nil {
		return nil, fmt.Errorf("bridge: relay patterns: %w", err)
	}
	origin, err := url.Parse(cfg.Relay.PageOrigin)
	if err != nil {
		return nil, fmt.Errorf("bridge: page origin: %w", err)
	}

	sender, err := relay.Dial(ctx, relay.SenderConfig{
		URL:    strings.TrimSuffix(cfg.Bridge.OverlayURL, "/") + ep.Path(),
		Origin: cfg.Relay.ExpectedOrigin,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	b := &bridge{sender: sender, log: logger}
	tr, err := capture.New(capture.Config{
		Patterns: patterns,
		Origin:   origin,
		Logger:   logger,
		OnDrop: func(reason string) {
			logger.Debug("bridge: payload not captured", "reason", reason)
		},
	}, nil, sender, capture.ObserverFunc(func(_ context.Context, p capture.Payload) {
		b.relayed++
		logger.Info("bridge: relayed payload", "url", p.URL, "bytes", len(p.Text))
	}))
	if err != nil {
		sender.Close()
		return nil, err
	}
	b.client = &http.Client{Transport: tr, Timeout: timeout}
	return b, nil
}

func (b *bridge) fetch(ctx context.Context, raw string, headers http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (b *bridge) close() {
	if err := b.sender.Close(); err != nil {
		b.log.Debug("bridge: close relay", "err", err)
	}
}

// discoverEndpoint returns the relay endpoint of the overlay server. A
// configured token is used as is; otherwise the server is asked.
func discoverEndpoint(ctx context.Context, cfg *config.Config) (relay.Endpoint, error) {
	if cfg.Relay.Token != "" {
		return relay.Endpoint{Token: cfg.Relay.Token, Patterns: catalog.Patterns()}, nil
	}

	base, err := httpBase(cfg.Bridge.OverlayURL)
	if err != nil {
		return relay.Endpoint{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/relay", nil)
	if err != nil {
		return relay.Endpoint{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return relay.Endpoint{}, fmt.Errorf("bridge: discover relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return relay.Endpoint{}, fmt.Errorf("bridge: discover relay: unexpected status %s", resp.Status)
	}

	var ep relay.Endpoint
	if err := json.NewDecoder(resp.Body).Decode(&ep); err != nil {
		return relay.Endpoint{}, fmt.Errorf("bridge: decode relay endpoint: %w", err)
	}
	if ep.Token == "" {
		return relay.Endpoint{}, errors.New("bridge: server returned an empty relay token")
	}
	return ep, nil
}

// httpBase converts a ws:// or wss:// overlay URL to its http(s) base.
func httpBase(overlayURL string) (string, error) {
	u, err := url.Parse(overlayURL)
	if err != nil {
		return "", fmt.Errorf("bridge: overlay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("bridge: overlay url %q must use ws or wss", overlayURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// parseHeaders parses "Name: value" pairs.
func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("bridge: malformed header %q, want 'Name: value'", kv)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
