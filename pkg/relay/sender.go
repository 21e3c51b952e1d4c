package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/scribeline/pkg/capture"
	"github.com/coder/websocket"
)

// SenderConfig configures a [Sender].
type SenderConfig struct {
	// URL is the receiver's WebSocket URL, including the endpoint path.
	URL string

	// Origin is declared on the handshake. It must equal the receiver's
	// expected origin for messages to be accepted.
	Origin string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Sender is the host page side of the channel. It implements
// [capture.Observer] so it can be registered directly on a capture bridge.
type Sender struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

var _ capture.Observer = (*Sender)(nil)

// Dial connects to the receiver at cfg.URL.
func Dial(ctx context.Context, cfg SenderConfig) (*Sender, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay: sender URL must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hdr := http.Header{}
	if cfg.Origin != "" {
		hdr.Set("Origin", cfg.Origin)
	}
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", cfg.URL, err)
	}
	// The channel is one-way; drain control frames only.
	conn.CloseRead(context.Background())
	return &Sender{conn: conn, logger: cfg.Logger}, nil
}

// Send writes m as one text frame.
func (s *Sender) Send(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("relay: encode: %w", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: send: %w", err)
	}
	return nil
}

// Observe forwards a captured payload. Failures are logged and otherwise
// ignored: capture delivery is best-effort and never retried.
func (s *Sender) Observe(ctx context.Context, p capture.Payload) {
	if err := s.Send(ctx, Message{URL: p.URL, Text: p.Text}); err != nil {
		s.logger.Warn("relay: failed to forward payload", "url", p.URL, "err", err)
	}
}

// Close closes the connection normally.
func (s *Sender) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}
