package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

const (
	// defaultBuffer is the capacity of the message channel.
	defaultBuffer = 64

	// defaultReadLimit bounds a single relayed frame. Course payloads carry
	// every item's sentences and run well past the websocket default.
	defaultReadLimit = 16 << 20
)

// ReceiverConfig configures a [Receiver].
type ReceiverConfig struct {
	// ExpectedOrigin is compared verbatim with each message's origin.
	ExpectedOrigin string

	// Buffer is the message channel capacity. Default: 64.
	Buffer int

	// ReadLimit is the largest frame accepted, in bytes. Default: 16 MiB.
	ReadLimit int64

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnReject, if set, is called with "origin" or "malformed" for every
	// dropped message.
	OnReject func(reason string)
}

// Receiver is the overlay side of the channel. It is safe for concurrent use.
type Receiver struct {
	expected  string
	readLimit int64
	logger    *slog.Logger
	onReject  func(string)
	out       chan Message
}

var _ http.Handler = (*Receiver)(nil)

// NewReceiver creates a Receiver.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.ExpectedOrigin == "" {
		return nil, errors.New("relay: expected origin must not be empty")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Receiver{
		expected:  cfg.ExpectedOrigin,
		readLimit: cfg.ReadLimit,
		logger:    cfg.Logger,
		onReject:  cfg.OnReject,
		out:       make(chan Message, cfg.Buffer),
	}, nil
}

// Messages returns the stream of accepted messages. The channel is never
// closed; consumers stop on their own context.
func (r *Receiver) Messages() <-chan Message {
	return r.out
}

// Deliver validates env and publishes it. Rejected envelopes are dropped and
// reported through the returned error only; senders never see it. Deliver
// blocks while the channel is full until ctx is done.
func (r *Receiver) Deliver(ctx context.Context, env Envelope) error {
	if env.Origin != r.expected {
		r.logger.Debug("relay: ignoring message from foreign origin", "origin", env.Origin)
		r.reject("origin")
		return ErrForeignOrigin
	}

	msg, err := Decode(env.Data)
	if err != nil {
		r.logger.Warn("relay: dropping malformed message", "origin", env.Origin, "bytes", len(env.Data), "err", err)
		r.reject("malformed")
		return err
	}

	select {
	case r.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) reject(reason string) {
	if r.onReject != nil {
		r.onReject(reason)
	}
}

// ServeHTTP accepts a WebSocket connection and delivers every text frame read
// from it until the peer disconnects. The Origin header of the handshake is
// the declared origin of every message on the connection.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Origins are checked per message, so the handshake must not reject
	// cross-origin peers.
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		r.logger.Warn("relay: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(r.readLimit)

	origin := req.Header.Get("Origin")
	ctx := req.Context()
	r.logger.Debug("relay: sender connected", "origin", origin, "remote", req.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				r.logger.Debug("relay: connection closed", "origin", origin, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			r.logger.Warn("relay: dropping binary frame", "origin", origin, "bytes", len(data))
			r.reject("malformed")
			continue
		}
		if err := r.Deliver(ctx, Envelope{Origin: origin, Data: data}); err != nil && ctx.Err() != nil {
			return
		}
	}
}
