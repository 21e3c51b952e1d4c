// Package app wires the scribeline subsystems into a running overlay server.
//
// The App owns the full lifecycle: New creates and connects all subsystems,
// Run serves HTTP and processes events until the context is cancelled, and
// Shutdown tears everything down in order.
//
// Every practice engine call happens on a single event loop goroutine. The
// overlay connection, the relay consumer and the scheduler post closures onto
// that loop, so the engine never needs its own locking.
package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribeline/internal/catalog"
	"github.com/MrWong99/scribeline/internal/config"
	"github.com/MrWong99/scribeline/internal/health"
	"github.com/MrWong99/scribeline/internal/hostdom"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/internal/overlay"
	"github.com/MrWong99/scribeline/internal/practice"
	"github.com/MrWong99/scribeline/pkg/audiopos"
	"github.com/MrWong99/scribeline/pkg/relay"
)

// eventQueue is the capacity of the event loop's queue.
const eventQueue = 256

// shutdownGrace bounds how long in-flight HTTP requests may take once Run's
// context is cancelled.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	// Subsystems, initialised in New.
	catalog  *catalog.Catalog
	page     *hostdom.Page
	overlay  *overlay.Server
	receiver *relay.Receiver
	engine   *practice.Engine
	endpoint relay.Endpoint
	handler  http.Handler

	events chan func()
	done   chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated; defaults are expected to be applied.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		events: make(chan func(), eventQueue),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Payload store ─────────────────────────────────────────────────
	a.catalog = catalog.New(initialSettings(cfg.Practice), a.log)

	// ── 2. Relay endpoint ────────────────────────────────────────────────
	if err := a.initRelay(); err != nil {
		return nil, fmt.Errorf("app: init relay: %w", err)
	}

	// ── 3. Overlay link and page view ────────────────────────────────────
	a.page = hostdom.NewPage()
	a.overlay = overlay.NewServer(a.handleEvent,
		overlay.WithLogger(a.log),
		overlay.WithMetrics(a.metrics),
		overlay.WithOnDisconnect(func() {
			a.post(func() { a.engine.ScreenHidden(context.Background()) })
		}),
	)

	// ── 4. Practice engine ───────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func initialSettings(p config.PracticeConfig) catalog.Settings {
	s := catalog.DefaultSettings()
	s.PlaybackRate = p.PlaybackRate
	if p.ContentVolume != nil {
		s.ContentVolume = *p.ContentVolume
	}
	if p.EffectVolume != nil {
		s.EffectVolume = *p.EffectVolume
	}
	return s
}

// initRelay creates the receiving end of the relay under a fixed or freshly
// generated token.
func (a *App) initRelay() error {
	token := a.cfg.Relay.Token
	if token == "" {
		token = relay.NewToken()
	}
	a.endpoint = relay.Endpoint{Token: token, Patterns: catalog.Patterns()}

	rcv, err := relay.NewReceiver(relay.ReceiverConfig{
		ExpectedOrigin: a.cfg.Relay.ExpectedOrigin,
		Buffer:         a.cfg.Relay.Buffer,
		Logger:         a.log,
		OnReject: func(reason string) {
			a.metrics.RecordDrop(context.Background(), "relay", reason)
		},
	})
	if err != nil {
		return err
	}
	a.receiver = rcv
	return nil
}

// initEngine builds the practice engine on top of the catalog, the page view
// and the overlay link.
func (a *App) initEngine() error {
	var mapperOpts []audiopos.Option
	if b := a.cfg.Practice.BacktrackSeconds; b != nil {
		mapperOpts = append(mapperOpts, audiopos.WithBacktrack(*b))
	}

	eng, err := practice.New(practice.Config{
		Source:          a.catalog,
		View:            a.page,
		Host:            a.overlay,
		Player:          a.overlay,
		Effects:         a.overlay,
		Scheduler:       practice.SchedulerFunc(a.afterFunc),
		Mapper:          audiopos.New(mapperOpts...),
		CompletionDelay: a.cfg.Practice.CompletionDelay,
		MistakeFade:     a.cfg.Practice.MistakeFade,
		SkipSeconds:     a.cfg.Practice.SkipSeconds,
		Logger:          a.log,
		Metrics:         a.metrics,
	})
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

// routes builds the HTTP surface: relay, overlay, discovery, probes and
// metrics, all behind the observability middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /relay/{token}", a.serveRelay)
	mux.Handle("GET /overlay", a.overlay)
	mux.HandleFunc("GET /relay", a.serveEndpoint)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(
		health.Condition("overlay", a.overlay.Connected, "no overlay attached"),
		health.Checker{
			Name:     "catalog",
			Optional: true,
			Check: func(context.Context) error {
				if !a.catalog.Has(catalog.KindCourse) || !a.catalog.Has(catalog.KindQuiz) {
					return errors.New("no lesson content captured yet")
				}
				return nil
			},
		},
	).Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// serveEndpoint tells the capture bridge where to relay payloads and which
// URLs to capture.
func (a *App) serveEndpoint(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(a.endpoint); err != nil {
		a.log.Warn("app: encode relay endpoint", "err", err)
	}
}

// serveRelay hands the connection to the relay receiver when the path carries
// the session's token. The token stays a path value so the route label in
// metrics and traces never contains it.
func (a *App) serveRelay(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.PathValue("token")), []byte(a.endpoint.Token)) != 1 {
		http.NotFound(w, r)
		return
	}
	a.receiver.ServeHTTP(w, r)
}

// Endpoint returns the relay endpoint the capture bridge connects to.
func (a *App) Endpoint() relay.Endpoint { return a.endpoint }

// Handler returns the App's HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln, the event loop and the relay consumer
// until ctx is cancelled. It returns ctx's error after a clean stop.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("app: http shutdown", "err", err)
		}
		return nil
	})

	g.Go(func() error {
		a.loop(gctx)
		return nil
	})

	g.Go(func() error {
		a.consumeRelay(gctx)
		return nil
	})

	a.log.Info("app running",
		"addr", ln.Addr().String(),
		"relay_path", a.endpoint.Path(),
		"tls", a.cfg.Server.TLS != nil,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// loop executes posted closures one at a time until ctx is done.
func (a *App) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-a.events:
			f()
		}
	}
}

// post queues f for the event loop. Closures posted after the loop stopped
// are dropped.
func (a *App) post(f func()) {
	select {
	case a.events <- f:
	case <-a.done:
	}
}

// afterFunc schedules f onto the event loop after d.
func (a *App) afterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, func() { a.post(f) })
}

// consumeRelay stores every relayed payload and tells the engine about it.
func (a *App) consumeRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.receiver.Messages():
			a.ingest(ctx, msg)
		}
	}
}

func (a *App) ingest(ctx context.Context, msg relay.Message) {
	ctx, span := observe.StartIngest(ctx, msg.URL)
	log := observe.Logger(ctx, a.log)

	kind, err := a.catalog.Ingest(msg.URL, msg.Text)
	switch {
	case errors.Is(err, catalog.ErrUnroutable):
		log.Debug("app: ignoring unroutable payload", "url", msg.URL)
		a.metrics.RecordDrop(ctx, "catalog", "unroutable")
		observe.EndSpan(span, "unroutable", nil)
		return
	case err != nil:
		log.Warn("app: payload stored but unusable", "url", msg.URL, "kind", kind, "err", err)
		a.metrics.RecordDrop(ctx, "catalog", "decode")
		observe.EndSpan(span, "decode", err)
		return
	}

	log.Debug("app: payload captured", "url", msg.URL, "kind", kind, "bytes", len(msg.Text))
	a.metrics.RecordPayload(ctx, kind.String())
	observe.EndSpan(span, kind.String(), nil)
	a.post(func() { a.engine.PayloadArrived(ctx, kind) })
}

// handleEvent is the overlay's event handler. It runs on the connection's
// read goroutine, so every event is posted to keep per-connection order.
func (a *App) handleEvent(ctx context.Context, ev overlay.Event) {
	a.post(func() { a.dispatch(ctx, ev) })
}

func (a *App) dispatch(ctx context.Context, ev overlay.Event) {
	switch ev.Type {
	case overlay.EventScreenShown:
		a.engine.ScreenShown(ctx)
	case overlay.EventScreenHidden:
		a.engine.ScreenHidden(ctx)
	case overlay.EventPaused:
		a.engine.Paused(ctx)
	case overlay.EventDialogOpened:
		a.engine.DialogOpened()
	case overlay.EventDialogClosed:
		a.engine.DialogClosed()
	case overlay.EventDOM:
		if err := a.page.Update(ev.HTML); err != nil {
			observe.Logger(ctx, a.log).Warn("app: dropping page snapshot", "bytes", len(ev.HTML), "err", err)
		}
	case overlay.EventKey:
		v := a.engine.HandleKey(ctx, practice.Key(ev.Key))
		a.overlay.Send(overlay.Verdict(ev.ID, v.Suppress))
	case overlay.EventRateDelta:
		rate := a.engine.ChangePlaybackRate(ev.Delta)
		a.log.Debug("app: playback rate changed", "rate", rate)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reconfigure applies the live-reloadable parts of a config change: the
// session's playback rate and volumes. Everything else is reported by
// [config.Diff] as needing a restart.
func (a *App) Reconfigure(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.TimingChanged || len(d.RestartRequired) > 0 {
		a.log.Info("app: some config changes need a restart",
			"timing", d.TimingChanged, "fields", d.RestartRequired)
	}
	if !d.PlaybackRateChanged && !d.VolumesChanged {
		return
	}

	var patch catalog.SettingsPatch
	if d.PlaybackRateChanged {
		rate := new.Practice.PlaybackRate
		patch.PlaybackRate = &rate
	}
	if d.VolumesChanged {
		patch.ContentVolume = new.Practice.ContentVolume
		patch.EffectVolume = new.Practice.EffectVolume
	}
	a.post(func() {
		a.catalog.UpdateSettings(patch)
		a.engine.PayloadArrived(context.Background(), catalog.KindSettings)
	})
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// OnClose registers f to run during Shutdown.
func (a *App) OnClose(f func() error) {
	a.closers = append(a.closers, f)
}
