// Command scribeline runs the dictation practice overlay server and its
// companion tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/MrWong99/scribeline/internal/app"
	"github.com/MrWong99/scribeline/internal/config"
	"github.com/MrWong99/scribeline/internal/observe"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	// A .env file next to the binary may set SCRIBELINE_CONFIG; a missing
	// one is normal.
	_ = godotenv.Load()

	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "scribeline: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML configuration file (defaults apply when unset)",
		EnvVars: []string{"SCRIBELINE_CONFIG"},
	}
	return &cli.App{
		Name:    "scribeline",
		Usage:   "dictation practice overlay for the iKnow! web app",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the overlay server",
				Flags:  []cli.Flag{configFlag},
				Action: serveAction,
			},
			{
				Name:      "bridge",
				Usage:     "fetch lesson payloads from the host and relay them to a running server",
				ArgsUsage: "URL...",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "overlay", Usage: "overlay server websocket URL (overrides bridge.overlay_url)"},
					&cli.StringSliceFlag{Name: "header", Aliases: []string{"H"}, Usage: "extra request header as 'Name: value', e.g. a session cookie"},
					&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "per-request timeout"},
					&cli.IntFlag{Name: "max-failures", Value: 3, Usage: "consecutive failed fetches before the remaining URLs are skipped"},
				},
				Action: bridgeAction,
			},
			{
				Name:  "build",
				Usage: "print the sentence list built from saved quiz and course payloads",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "quiz", Required: true, Usage: "saved quiz (study) payload"},
					&cli.StringSliceFlag{Name: "course", Required: true, Usage: "saved course (goal) payload; repeatable"},
				},
				Action: buildAction,
			},
		},
	}
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found", path)
		}
		return nil, err
	}
	return cfg, nil
}

// ── serve ────────────────────────────────────────────────────────────────────

func serveAction(c *cli.Context) error {
	path := c.String("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(c.App.ErrWriter, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("scribeline starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Version:    version,
		ListenAddr: cfg.Server.ListenAddr,
		HostOrigin: cfg.Relay.ExpectedOrigin,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	application, err := app.New(cfg, app.WithLogger(logger), app.WithMetrics(tel.Metrics))
	if err != nil {
		return err
	}
	application.OnClose(func() error { return tel.Shutdown(context.Background()) })

	// ── Config watcher ────────────────────────────────────────────────────────
	if path != "" {
		w, err := config.NewWatcher(path, func(old, new *config.Config) {
			if old.Server.LogLevel != new.Server.LogLevel {
				level.Set(slogLevel(new.Server.LogLevel))
				slog.Info("log level changed", "level", new.Server.LogLevel)
			}
			application.Reconfigure(old, new)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			return err
		}
		application.OnClose(func() error { w.Stop(); return nil })
	}

	ep := application.Endpoint()
	slog.Info("server ready, press Ctrl+C to shut down",
		"overlay", "/overlay",
		"relay", ep.Path(),
	)

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// newLogger returns a text logger writing to w whose level can be changed
// later through the returned [slog.LevelVar].
func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
