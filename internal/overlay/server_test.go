package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribeline/internal/practice"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Event
		wantErr bool
	}{
		{name: "screen shown", in: `{"type":"screen_shown"}`, want: Event{Type: EventScreenShown}},
		{name: "key", in: `{"type":"key","key":"a","id":7}`, want: Event{Type: EventKey, Key: "a", ID: 7}},
		{name: "space key", in: `{"type":"key","key":" ","id":1}`, want: Event{Type: EventKey, Key: " ", ID: 1}},
		{name: "dom", in: `{"type":"dom","html":"<p></p>"}`, want: Event{Type: EventDOM, HTML: "<p></p>"}},
		{name: "audio", in: `{"type":"audio","src":"a.mp3","duration":3.5}`, want: Event{Type: EventAudio, Src: "a.mp3", Duration: 3.5}},
		{name: "audio without src", in: `{"type":"audio","duration":3.5}`, wantErr: true},
		{name: "rate", in: `{"type":"rate_delta","delta":-0.1}`, want: Event{Type: EventRateDelta, Delta: -0.1}},
		{name: "key without key", in: `{"type":"key","id":1}`, wantErr: true},
		{name: "dom without html", in: `{"type":"dom"}`, wantErr: true},
		{name: "unknown", in: `{"type":"launch"}`, wantErr: true},
		{name: "not json", in: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeEvent([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if _, err := DecodeEvent([]byte(`{"type":"launch"}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("err = %v, want ErrUnknownEvent", err)
	}
}

func TestCommandEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  Command
		want string
	}{
		{Verdict(3, false), `{"type":"verdict","id":3,"suppress":false}`},
		{playMessage{Type: CommandPlay, At: 0}, `{"type":"play","at":0}`},
		{mistakeMessage{Type: CommandShowMistake, Letter: "x", X: 1, Y: 2, FadeMS: 1000}, `{"type":"show_mistake","letter":"x","x":1,"y":2,"fade_ms":1000}`},
		{bareMessage{Type: CommandConfirm}, `{"type":"confirm"}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.cmd)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("%s encoded as %s, want %s", tt.cmd.CommandType(), data, tt.want)
		}
	}
}

type events struct {
	mu  sync.Mutex
	got []Event
}

func (e *events) handle(_ context.Context, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) list() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.got...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func write(t *testing.T, ctx context.Context, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readCommand(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestServer_EventsAndCommands(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := &events{}
	s := NewServer(ev.handle, WithLogger(discard))
	srv := httptest.NewServer(s)
	defer srv.Close()

	if s.Send(bareMessage{Type: CommandConfirm}) {
		t.Error("Send succeeded without an overlay")
	}

	conn := dial(t, ctx, srv)
	waitFor(t, "attach", s.Connected)

	write(t, ctx, conn, `{"type":"screen_shown"}`)
	write(t, ctx, conn, `{"type":"bogus"}`)
	write(t, ctx, conn, `{"type":"key","key":"h","id":1}`)

	waitFor(t, "events", func() bool { return len(ev.list()) == 2 })
	got := ev.list()
	if got[0].Type != EventScreenShown || got[1].Key != "h" || got[1].ID != 1 {
		t.Errorf("events = %+v", got)
	}

	s.SetSource("a.mp3")
	if m := readCommand(t, ctx, conn); m["type"] != "set_source" || m["url"] != "a.mp3" {
		t.Errorf("command = %v", m)
	}
	write(t, ctx, conn, `{"type":"audio","src":"a.mp3","duration":4.25}`)
	waitFor(t, "duration", func() bool { return s.Duration() == 4.25 })

	s.SetSource("b.mp3")
	if s.Duration() != 0 {
		t.Error("duration not reset by SetSource")
	}
	if m := readCommand(t, ctx, conn); m["type"] != "set_source" || m["url"] != "b.mp3" {
		t.Errorf("command = %v", m)
	}
	// Metadata of the replaced clip arrives late. Events are read in order,
	// so once the key after it is seen the stale duration has been handled.
	write(t, ctx, conn, `{"type":"audio","src":"a.mp3","duration":4.25}`)
	write(t, ctx, conn, `{"type":"key","key":"i","id":2}`)
	waitFor(t, "key after stale audio", func() bool { return len(ev.list()) == 3 })
	if d := s.Duration(); d != 0 {
		t.Errorf("duration = %v after stale metadata, want 0", d)
	}

	s.ShowMistake('q', practice.Rect{X: 5, Y: 6}, 1500*time.Millisecond)
	m := readCommand(t, ctx, conn)
	if m["type"] != "show_mistake" || m["letter"] != "q" || m["x"] != 5.0 || m["fade_ms"] != 1500.0 {
		t.Errorf("command = %v", m)
	}

	s.Seek(-1)
	if m := readCommand(t, ctx, conn); m["type"] != "seek" || m["delta"] != -1.0 {
		t.Errorf("command = %v", m)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "detach", func() bool { return !s.Connected() })
}

func TestServer_NewConnectionReplacesOld(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := NewServer(nil, WithLogger(discard))
	srv := httptest.NewServer(s)
	defer srv.Close()

	first := dial(t, ctx, srv)
	waitFor(t, "first attach", s.Connected)
	second := dial(t, ctx, srv)

	if _, _, err := first.Read(ctx); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("first connection closed with %v, want policy violation", err)
	}

	waitFor(t, "second attach", func() bool {
		return s.Send(bareMessage{Type: CommandClearMistake})
	})
	if m := readCommand(t, ctx, second); m["type"] != "clear_mistake" {
		t.Errorf("command = %v", m)
	}
}

func TestServer_FullQueueDrops(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, WithLogger(discard), WithSendBuffer(1))
	c := &conn{out: make(chan []byte, 1)}
	s.cur = c

	if !s.Send(bareMessage{Type: CommandConfirm}) {
		t.Fatal("first Send dropped")
	}
	if s.Send(bareMessage{Type: CommandConfirm}) {
		t.Error("Send succeeded on a full queue")
	}
}

func TestServer_OnDisconnectSkipsReplacedConnections(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var gone atomic.Int32
	s := NewServer(nil, WithLogger(discard), WithOnDisconnect(func() { gone.Add(1) }))
	srv := httptest.NewServer(s)
	defer srv.Close()

	first := dial(t, ctx, srv)
	waitFor(t, "first attach", s.Connected)
	second := dial(t, ctx, srv)
	if _, _, err := first.Read(ctx); err == nil {
		t.Fatal("replaced connection still open")
	}
	waitFor(t, "second attach", func() bool {
		return s.Send(bareMessage{Type: CommandClearMistake})
	})
	if gone.Load() != 0 {
		t.Errorf("OnDisconnect fired %d times for a replaced overlay", gone.Load())
	}

	second.Close(websocket.StatusNormalClosure, "")
	waitFor(t, "disconnect callback", func() bool { return gone.Load() == 1 })
	if s.Connected() {
		t.Error("still connected after close")
	}
}
