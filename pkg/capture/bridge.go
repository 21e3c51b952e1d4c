// Package capture observes HTTP traffic issued from the host page context.
//
// A [Bridge] wraps the [http.RoundTripper] that issues requests. Requests whose
// URL matches one of the configured patterns register interest in their
// canonical URL; when a response for a registered URL completes successfully,
// its body is read in full and handed to every registered [Observer]. The
// caller receives the response unchanged.
//
// Requests that match no pattern pass straight through and are never observed.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Payload is one captured response body.
type Payload struct {
	// URL is the canonical response URL (no query string, absolute).
	URL string `json:"url"`

	// Text is the full response body.
	Text string `json:"text"`
}

// Observer receives captured payloads. Observe is called synchronously from
// the request's goroutine before the response is returned to the caller.
type Observer interface {
	Observe(ctx context.Context, p Payload)
}

// ObserverFunc adapts an ordinary function to [Observer].
type ObserverFunc func(ctx context.Context, p Payload)

// Observe calls f(ctx, p).
func (f ObserverFunc) Observe(ctx context.Context, p Payload) { f(ctx, p) }

// Config configures a [Bridge].
type Config struct {
	// Patterns select the request URLs to capture. A request is captured when
	// any pattern matches its full URL string, query included.
	Patterns []*regexp.Regexp

	// Origin resolves relative request URLs. Required.
	Origin *url.URL

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnDrop, if set, is called with a short reason whenever a matching
	// response is not delivered.
	OnDrop func(reason string)
}

// Bridge is an [http.RoundTripper] that captures matching responses. It is
// safe for concurrent use.
type Bridge struct {
	next      http.RoundTripper
	patterns  []*regexp.Regexp
	origin    *url.URL
	logger    *slog.Logger
	onDrop    func(string)
	observers []Observer

	mu       sync.RWMutex
	interest map[string]struct{}
}

var _ http.RoundTripper = (*Bridge)(nil)

// New creates a Bridge around next. A nil next uses [http.DefaultTransport].
func New(cfg Config, next http.RoundTripper, observers ...Observer) (*Bridge, error) {
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, errors.New("capture: origin must be an absolute URL")
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		next:      next,
		patterns:  cfg.Patterns,
		origin:    cfg.Origin,
		logger:    cfg.Logger,
		onDrop:    cfg.OnDrop,
		observers: observers,
		interest:  make(map[string]struct{}),
	}, nil
}

// Register adds an observer. It must not be called concurrently with
// RoundTrip.
func (b *Bridge) Register(o Observer) {
	b.observers = append(b.observers, o)
}

// Matches reports whether rawURL is selected by any pattern.
func (b *Bridge) Matches(rawURL string) bool {
	for _, p := range b.patterns {
		if p.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// Interested reports whether canonicalURL has been registered by a matching
// request.
func (b *Bridge) Interested(canonicalURL string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.interest[canonicalURL]
	return ok
}

// RoundTrip implements [http.RoundTripper].
func (b *Bridge) RoundTrip(req *http.Request) (*http.Response, error) {
	if !b.Matches(req.URL.String()) {
		return b.next.RoundTrip(req)
	}

	if canon, err := Canonicalize(req.URL.String(), b.origin); err == nil {
		b.mu.Lock()
		b.interest[canon] = struct{}{}
		b.mu.Unlock()
	}

	resp, err := b.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	b.capture(req, resp)
	return resp, nil
}

// capture reads resp's body, restores it for the caller and delivers it.
func (b *Bridge) capture(req *http.Request, resp *http.Response) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.drop("status", "status", resp.StatusCode)
		return
	}

	final := req.URL.String()
	if resp.Request != nil {
		final = resp.Request.URL.String()
	}
	canon, err := Canonicalize(final, b.origin)
	if err != nil || !b.Interested(canon) {
		// Redirected to a URL nobody asked for.
		b.drop("uninterested", "url", final)
		return
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		b.drop("read_error", "url", canon, "err", err)
		return
	}

	p := Payload{URL: canon, Text: string(body)}
	for _, o := range b.observers {
		o.Observe(req.Context(), p)
	}
	b.logger.Debug("capture: delivered payload", "url", canon, "bytes", len(body))
}

func (b *Bridge) drop(reason string, args ...any) {
	b.logger.Debug("capture: response not delivered", append([]any{"reason", reason}, args...)...)
	if b.onDrop != nil {
		b.onDrop(reason)
	}
}

// Canonicalize strips the query string and fragment from raw and resolves it
// against origin when it is relative.
func Canonicalize(raw string, origin *url.URL) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("capture: canonicalize %q: %w", raw, err)
	}
	if !u.IsAbs() {
		if origin == nil {
			return "", fmt.Errorf("capture: canonicalize %q: relative URL without origin", raw)
		}
		u = origin.ResolveReference(u)
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
