// Package overlay implements the websocket link between the browser overlay
// running on the host page and the practice engine.
//
// The overlay forwards screen transitions, DOM snapshots, key presses and audio
// metadata as [Event] frames. The [Server] hands them to an [EventHandler] and
// exposes the engine's output collaborators (player, effects, host control)
// by sending [Command] frames back.
//
// Only one overlay is attached at a time; a new connection replaces the
// previous one.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/practice"
)

// DefaultSendBuffer is the number of commands queued per connection before
// further commands are dropped.
const DefaultSendBuffer = 64

// Compile-time interface checks.
var (
	_ practice.Player  = (*Server)(nil)
	_ practice.Effects = (*Server)(nil)
	_ practice.Host    = (*Server)(nil)
)

// EventHandler receives decoded events. It is called from the connection's
// read goroutine and must not block for long.
type EventHandler func(ctx context.Context, ev Event)

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSendBuffer overrides [DefaultSendBuffer]. Values below 1 are ignored.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithOnDisconnect registers f to run when the attached overlay goes away
// without being replaced by a newer one.
func WithOnDisconnect(f func()) Option {
	return func(s *Server) { s.onDisconnect = f }
}

// Server accepts overlay connections.
type Server struct {
	handle       EventHandler
	onDisconnect func()
	log          *slog.Logger
	metrics      *observe.Metrics
	buffer       int

	mu       sync.Mutex
	cur      *conn
	source   string
	duration float64
}

type conn struct {
	ws  *websocket.Conn
	out chan []byte
}

// NewServer returns a Server that delivers events to handle.
func NewServer(handle EventHandler, opts ...Option) *Server {
	s := &Server{
		handle: handle,
		buffer: DefaultSendBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The overlay script is injected into the host page and connects from
	// the host's origin.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("overlay: accept failed", "err", err)
		return
	}
	ws.SetReadLimit(4 << 20)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws, out: make(chan []byte, s.buffer)}
	s.attach(c)
	defer func() {
		if s.detach(c) && s.onDisconnect != nil {
			s.onDisconnect()
		}
	}()

	s.metrics.ActiveOverlays.Add(ctx, 1)
	defer s.metrics.ActiveOverlays.Add(context.WithoutCancel(ctx), -1)

	s.log.Info("overlay: connected", "remote", r.RemoteAddr)
	go s.writeLoop(ctx, c)
	err = s.readLoop(ctx, c)

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		s.log.Info("overlay: disconnected", "remote", r.RemoteAddr)
	} else {
		s.log.Warn("overlay: connection lost", "remote", r.RemoteAddr, "err", err)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) attach(c *conn) {
	s.mu.Lock()
	prev := s.cur
	s.cur = c
	s.mu.Unlock()
	if prev != nil {
		prev.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer overlay")
	}
}

// detach reports whether c was still the attached connection.
func (s *Server) detach(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != c {
		return false
	}
	s.cur = nil
	return true
}

func (s *Server) readLoop(ctx context.Context, c *conn) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.log.Warn("overlay: dropping binary frame")
			continue
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			s.log.Warn("overlay: dropping event", "err", err)
			continue
		}
		if ev.Type == EventAudio {
			s.recordDuration(ev)
			continue
		}
		if s.handle != nil {
			s.handle(ctx, ev)
		}
	}
}

// recordDuration keeps ev's duration if it belongs to the current source.
// Metadata for a clip that was replaced before it loaded is dropped.
func (s *Server) recordDuration(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Src != s.source {
		s.log.Debug("overlay: ignoring duration of a replaced source", "src", ev.Src, "current", s.source)
		return
	}
	s.duration = ev.Duration
}

func (s *Server) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.out:
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					s.log.Warn("overlay: write failed", "err", err)
				}
				return
			}
		}
	}
}

// Connected reports whether an overlay is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Send queues cmd for the attached overlay. It never blocks: without an
// overlay, or with a full queue, the command is dropped and false returned.
func (s *Server) Send(cmd Command) bool {
	data, err := json.Marshal(cmd)
	if err != nil {
		s.log.Error("overlay: marshal command", "type", cmd.CommandType(), "err", err)
		return false
	}
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil {
		s.log.Debug("overlay: no overlay attached, command dropped", "type", cmd.CommandType())
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		s.log.Warn("overlay: send queue full, command dropped", "type", cmd.CommandType())
		return false
	}
}

// Confirm implements [practice.Host].
func (s *Server) Confirm() { s.Send(bareMessage{Type: CommandConfirm}) }

// SetSource implements [practice.Player]. The known duration is reset until
// the overlay reports the new media's metadata.
func (s *Server) SetSource(url string) {
	s.mu.Lock()
	s.source = url
	s.duration = 0
	s.mu.Unlock()
	s.Send(sourceMessage{Type: CommandSetSource, URL: url})
}

// SetVolume implements [practice.Player].
func (s *Server) SetVolume(v float64) { s.Send(volumeMessage{Type: CommandSetVolume, Volume: v}) }

// SetPlaybackRate implements [practice.Player].
func (s *Server) SetPlaybackRate(r float64) { s.Send(rateMessage{Type: CommandSetRate, Rate: r}) }

// Play implements [practice.Player].
func (s *Server) Play(at float64) { s.Send(playMessage{Type: CommandPlay, At: at}) }

// Seek implements [practice.Player].
func (s *Server) Seek(delta float64) { s.Send(seekMessage{Type: CommandSeek, Delta: delta}) }

// Duration implements [practice.Player] with the last duration the overlay
// reported.
func (s *Server) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// PlayErrorSound implements [practice.Effects].
func (s *Server) PlayErrorSound(volume float64) {
	s.Send(volumeMessage{Type: CommandErrorSound, Volume: volume})
}

// ShowMistake implements [practice.Effects].
func (s *Server) ShowMistake(letter rune, at practice.Rect, fade time.Duration) {
	s.Send(mistakeMessage{
		Type:   CommandShowMistake,
		Letter: string(letter),
		X:      at.X,
		Y:      at.Y,
		FadeMS: fade.Milliseconds(),
	})
}

// ClearMistake implements [practice.Effects].
func (s *Server) ClearMistake() { s.Send(bareMessage{Type: CommandClearMistake}) }
