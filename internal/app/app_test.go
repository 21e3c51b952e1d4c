package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/scribeline/internal/app"
	"github.com/MrWong99/scribeline/internal/config"
	"github.com/MrWong99/scribeline/pkg/relay"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	quizURL    = "https://iknow.jp/api/v2/goals/1/study?session=abc"
	courseURL  = "https://iknow.jp/api/v2/goals/1"
	quizText   = `[{"goal_id":1,"item_id":2,"content_id":3}]`
	courseText = `{"id":1,"goal_items":[{"item":{"id":2},"sentences":[{"cue":{"id":3,"text":"<b>Hi</b>"},"sound":"https://cdn.iknow.jp/hi.mp3"}]}]}`
)

// screen renders the dictation screen with the given letters typed so far.
// The cursor sits on the first empty letter; none once all are filled.
func screen(typed ...string) string {
	var b strings.Builder
	b.WriteString(`<div id="top-panel"><ul class="steps"><li class="step step-filled"></li><li class="step"></li></ul></div>`)
	b.WriteString(`<div id="dictation_quiz_screen" class="current_screen">`)
	for i := range 2 {
		switch {
		case i < len(typed):
			b.WriteString(`<span class="letter typeable">` + typed[i] + `</span>`)
		case i == len(typed):
			b.WriteString(`<span class="letter typeable cursor" data-x="10" data-y="20"></span>`)
		default:
			b.WriteString(`<span class="letter typeable"></span>`)
		}
	}
	b.WriteString(`</div>`)
	return b.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Relay.Token = "__relay_test__"
	cfg.Practice.CompletionDelay = 200 * time.Millisecond
	return cfg
}

// serve starts a on a loopback listener and returns its base URL.
func serve(t *testing.T, ctx context.Context, a *app.App) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- a.Serve(ctx, ln) }()
	return "http://" + ln.Addr().String(), errc
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func waitReady(t *testing.T, base string, check string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		var r readiness
		getJSON(t, base+"/readyz", &r)
		if r.Checks[check] == "ok" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never became ready: %+v", check, r)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// await reads commands until one of type typ arrives and returns it.
func await(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	var skipped []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s (skipped %v): %v", typ, skipped, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if m["type"] == typ {
			return m
		}
		skipped = append(skipped, m["type"].(string))
	}
}

func TestNew_Endpoint(t *testing.T) {
	t.Parallel()

	fixed, err := app.New(testConfig(), app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := fixed.Endpoint().Path(); got != "/relay/__relay_test__" {
		t.Errorf("Path = %q", got)
	}
	if len(fixed.Endpoint().Patterns) != 3 {
		t.Errorf("Patterns = %v", fixed.Endpoint().Patterns)
	}

	generated, err := app.New(config.Default(), app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tok := generated.Endpoint().Token; tok == "" || tok == "__relay_test__" {
		t.Errorf("generated token = %q", tok)
	}
}

func TestNew_RejectsEmptyOrigin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Relay.ExpectedOrigin = ""
	if _, err := app.New(cfg, app.WithLogger(discard)); err == nil {
		t.Fatal("expected error for empty expected origin")
	}
}

func TestServe_PracticeRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := testConfig()
	a, err := app.New(cfg, app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runCtx, stop := context.WithCancel(ctx)
	base, errc := serve(t, runCtx, a)
	ws := "ws" + strings.TrimPrefix(base, "http")

	// The bridge discovers the relay endpoint.
	var ep relay.Endpoint
	if code := getJSON(t, base+"/relay", &ep); code != http.StatusOK || ep.Token != "__relay_test__" {
		t.Fatalf("GET /relay = %d %+v", code, ep)
	}

	var r readiness
	if code := getJSON(t, base+"/readyz", &r); code != http.StatusServiceUnavailable {
		t.Errorf("readyz without overlay = %d %+v", code, r)
	}

	// Relay the lesson payloads from the host origin.
	rl, _, err := websocket.Dial(ctx, ws+ep.Path(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {cfg.Relay.ExpectedOrigin}},
	})
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer rl.CloseNow()
	for _, m := range []relay.Message{{URL: quizURL, Text: quizText}, {URL: courseURL, Text: courseText}} {
		data, err := relay.Encode(m)
		if err != nil {
			t.Fatal(err)
		}
		if err := rl.Write(ctx, websocket.MessageText, data); err != nil {
			t.Fatalf("relay write: %v", err)
		}
	}
	waitReady(t, base, "catalog")

	ov, _, err := websocket.Dial(ctx, ws+"/overlay", nil)
	if err != nil {
		t.Fatalf("dial overlay: %v", err)
	}
	defer ov.CloseNow()
	waitReady(t, base, "overlay")

	send(t, ctx, ov, map[string]any{"type": "dom", "html": screen()})
	send(t, ctx, ov, map[string]any{"type": "screen_shown"})
	if m := await(t, ctx, ov, "set_source"); m["url"] != "https://cdn.iknow.jp/hi.mp3" {
		t.Errorf("set_source = %v", m)
	}

	// A wrong letter is swallowed and flagged.
	send(t, ctx, ov, map[string]any{"type": "key", "key": "x", "id": 1})
	if m := await(t, ctx, ov, "show_mistake"); m["letter"] != "x" || m["x"] != 10.0 {
		t.Errorf("show_mistake = %v", m)
	}
	if m := await(t, ctx, ov, "verdict"); m["id"] != 1.0 || m["suppress"] != true {
		t.Errorf("verdict = %v", m)
	}

	// Correct letters pass through to the host.
	send(t, ctx, ov, map[string]any{"type": "key", "key": "h", "id": 2})
	if m := await(t, ctx, ov, "verdict"); m["id"] != 2.0 || m["suppress"] == true {
		t.Errorf("verdict = %v", m)
	}
	send(t, ctx, ov, map[string]any{"type": "dom", "html": screen("H")})
	send(t, ctx, ov, map[string]any{"type": "key", "key": "I", "id": 3})
	send(t, ctx, ov, map[string]any{"type": "dom", "html": screen("H", "i")})
	if m := await(t, ctx, ov, "verdict"); m["id"] != 3.0 || m["suppress"] == true {
		t.Errorf("verdict = %v", m)
	}
	await(t, ctx, ov, "confirm")

	// Playback speed changes from the overlay are clamped and applied.
	send(t, ctx, ov, map[string]any{"type": "rate_delta", "delta": 5})
	if m := await(t, ctx, ov, "set_rate"); m["rate"] != 2.0 {
		t.Errorf("set_rate = %v", m)
	}

	// Live config edits reach the player.
	next := testConfig()
	next.Practice.PlaybackRate = 0.75
	a.Reconfigure(cfg, next)
	if m := await(t, ctx, ov, "set_rate"); m["rate"] != 0.75 {
		t.Errorf("set_rate after reload = %v", m)
	}

	stop()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-ctx.Done():
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ForeignOriginIgnored(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := app.New(testConfig(), app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, _ := serve(t, ctx, a)
	ws := "ws" + strings.TrimPrefix(base, "http")

	rl, _, err := websocket.Dial(ctx, ws+a.Endpoint().Path(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {"https://evil.example"}},
	})
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer rl.CloseNow()
	data, _ := relay.Encode(relay.Message{URL: courseURL, Text: courseText})
	if err := rl.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("relay write: %v", err)
	}
	rl.Close(websocket.StatusNormalClosure, "")

	time.Sleep(100 * time.Millisecond)
	var r readiness
	getJSON(t, base+"/readyz", &r)
	if !strings.HasPrefix(r.Checks["catalog"], "warn:") {
		t.Errorf("catalog check = %q, want warn", r.Checks["catalog"])
	}
}

func TestServe_UnknownRelayPath(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := app.New(testConfig(), app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	base, _ := serve(t, ctx, a)

	resp, err := http.Get(base + "/relay/__relay_guess__")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestShutdown_RunsClosersOnce(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	calls := 0
	a.OnClose(func() error { calls++; return nil })
	a.OnClose(func() error { calls++; return errors.New("ignored") })

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if calls != 2 {
		t.Errorf("closers ran %d times, want 2", calls)
	}
}

func TestShutdown_DeadlineSkipsClosers(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), app.WithLogger(discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ran := false
	a.OnClose(func() error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("closer ran after deadline")
	}
}
