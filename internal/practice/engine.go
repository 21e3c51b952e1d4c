// Package practice implements the dictation overlay's state machine.
//
// The [Engine] reacts to host screen transitions, captured payload arrivals
// and keystrokes. It decides which keys are swallowed, drives the audio
// player and mistake effects, and triggers the host's confirm control once a
// sentence has been typed to the end.
//
// An Engine is not safe for concurrent use. All methods, including the
// callbacks handed to the [Scheduler], must run on a single event loop.
package practice

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/scribeline/internal/catalog"
	"github.com/MrWong99/scribeline/internal/observe"
	"github.com/MrWong99/scribeline/pkg/audiopos"
	"github.com/MrWong99/scribeline/pkg/content"
)

// Defaults applied when the corresponding [Config] field is zero.
const (
	DefaultCompletionDelay = 100 * time.Millisecond
	DefaultMistakeFade     = time.Second
	DefaultSkipSeconds     = 1.0
)

// Config holds the engine's collaborators and tuning.
//
// Source, View, Host, Player, Effects and Scheduler are required.
type Config struct {
	Source    Source
	View      View
	Host      Host
	Player    Player
	Effects   Effects
	Scheduler Scheduler

	// Mapper converts cursor offsets into audio timestamps. A fresh
	// [audiopos.Mapper] is created when nil.
	Mapper *audiopos.Mapper

	// CompletionDelay is how long after a correct letter the engine
	// re-checks whether the sentence is complete. Gives the host time to
	// render the typed character.
	CompletionDelay time.Duration

	// MistakeFade is how long the mistake glyph stays visible.
	MistakeFade time.Duration

	// SkipSeconds is the seek step for the left and right arrow keys.
	SkipSeconds float64

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Engine is the practice state machine.
type Engine struct {
	source  Source
	view    View
	host    Host
	player  Player
	effects Effects
	sched   Scheduler
	mapper  *audiopos.Mapper

	completionDelay time.Duration
	mistakeFade     time.Duration
	skip            float64

	log     *slog.Logger
	metrics *observe.Metrics

	state     State
	degraded  bool
	modal     bool
	sentences []*content.Sentence

	// index is the sentence whose audio is loaded, or -1.
	index int
	// cursor is the last observed cursor offset.
	cursor int
	// completed is the sentence index that reached Completed.
	completed int
	// epoch invalidates scheduled callbacks from an earlier mistake or
	// screen activation.
	epoch uint64
}

// New validates cfg and returns an Engine in the [Idle] state.
//
// Errors are prefixed with "practice: ".
func New(cfg Config) (*Engine, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("practice: Source must not be nil"))
	}
	if cfg.View == nil {
		errs = append(errs, errors.New("practice: View must not be nil"))
	}
	if cfg.Host == nil {
		errs = append(errs, errors.New("practice: Host must not be nil"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("practice: Player must not be nil"))
	}
	if cfg.Effects == nil {
		errs = append(errs, errors.New("practice: Effects must not be nil"))
	}
	if cfg.Scheduler == nil {
		errs = append(errs, errors.New("practice: Scheduler must not be nil"))
	}
	if cfg.SkipSeconds < 0 {
		errs = append(errs, errors.New("practice: SkipSeconds must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	e := &Engine{
		source:          cfg.Source,
		view:            cfg.View,
		host:            cfg.Host,
		player:          cfg.Player,
		effects:         cfg.Effects,
		sched:           cfg.Scheduler,
		mapper:          cfg.Mapper,
		completionDelay: cfg.CompletionDelay,
		mistakeFade:     cfg.MistakeFade,
		skip:            cfg.SkipSeconds,
		log:             cfg.Logger,
		metrics:         cfg.Metrics,
		index:           -1,
		completed:       -1,
	}
	if e.mapper == nil {
		e.mapper = audiopos.New()
	}
	if e.completionDelay <= 0 {
		e.completionDelay = DefaultCompletionDelay
	}
	if e.mistakeFade <= 0 {
		e.mistakeFade = DefaultMistakeFade
	}
	if e.skip == 0 {
		e.skip = DefaultSkipSeconds
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e, nil
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Degraded reports whether the last rebuild produced no sentence list.
func (e *Engine) Degraded() bool { return e.degraded }

// Sentences returns the current sentence list. Entries may be nil.
func (e *Engine) Sentences() []*content.Sentence { return e.sentences }

// Cursor returns the last observed cursor offset.
func (e *Engine) Cursor() int { return e.cursor }

// ScreenShown is called when the host's practice screen becomes visible. It
// rebuilds the sentence list from the source, applies the current settings,
// loads the current sentence's audio and moves to [Ready]. Calls while a
// sentence is in progress are ignored; from [Idle] or [Completed] the host
// has shown a new practice screen and everything is rebuilt.
func (e *Engine) ScreenShown(ctx context.Context) {
	switch e.state {
	case Ready, AwaitingKey, Error:
		return
	}
	e.epoch++
	e.state = Ready
	e.cursor = 0
	e.completed = -1
	e.index = -1
	e.rebuild(ctx)
	e.applySettings()
	e.syncSource()
}

// ScreenHidden is called when the practice screen goes away. Any transient
// state is discarded and keys pass through until the next [Engine.ScreenShown].
func (e *Engine) ScreenHidden(ctx context.Context) {
	e.deactivate(ctx, "screen hidden")
}

// Paused is called when the host pauses the practice session.
func (e *Engine) Paused(ctx context.Context) {
	e.deactivate(ctx, "paused")
}

func (e *Engine) deactivate(_ context.Context, reason string) {
	if e.state == Idle {
		return
	}
	e.epoch++
	e.state = Idle
	e.effects.ClearMistake()
	e.log.Debug("practice: deactivated", "reason", reason)
}

// DialogOpened marks a modal dialog as covering the screen. Keys pass through
// to the dialog while it is open.
func (e *Engine) DialogOpened() { e.modal = true }

// DialogClosed clears the modal flag set by [Engine.DialogOpened].
func (e *Engine) DialogClosed() { e.modal = false }

// PayloadArrived is called after the source has stored a captured payload of
// the given kind. Settings are re-applied to the player; quiz and course
// payloads refresh the sentence list while the screen is active.
func (e *Engine) PayloadArrived(ctx context.Context, kind catalog.Kind) {
	switch kind {
	case catalog.KindSettings:
		e.applySettings()
	case catalog.KindQuiz, catalog.KindCourse:
		if e.state == Idle {
			return
		}
		e.rebuild(ctx)
		if e.index < 0 {
			e.syncSource()
		}
	}
}

// ChangePlaybackRate adjusts the playback rate by delta, clamped to the
// allowed range, and returns the new rate.
func (e *Engine) ChangePlaybackRate(delta float64) float64 {
	rate := catalog.ClampPlaybackRate(e.source.Settings().PlaybackRate + delta)
	s := e.source.UpdateSettings(catalog.SettingsPatch{PlaybackRate: &rate})
	e.player.SetPlaybackRate(s.PlaybackRate)
	return s.PlaybackRate
}

// HandleKey evaluates one key press and reports whether it must be kept from
// the host page.
//
// Outside typing mode every key passes through. Letters are compared
// case-insensitively against the expected character at the cursor: a match
// passes through so the host renders it, a mismatch is swallowed and shown as
// a mistake. The overlay-owned keys (space, arrows, backspace, enter) are
// always swallowed while typing. When the expected character cannot be
// determined the key passes through untouched.
func (e *Engine) HandleKey(ctx context.Context, key Key) Verdict {
	ctx, span := observe.StartKey(ctx, string(key), e.index)
	v := e.handleKey(ctx, key)
	e.metrics.RecordKeystroke(ctx, string(v.Outcome))
	observe.EndSpan(span, string(v.Outcome), nil)
	return v
}

func (e *Engine) handleKey(ctx context.Context, key Key) Verdict {
	if e.state == Completed {
		// The host may advance to the next step without hiding the screen.
		if idx := e.view.SentenceIndex(); idx < 0 || idx == e.completed {
			return Verdict{Outcome: OutcomePassThrough}
		}
		e.state = AwaitingKey
	}
	if !e.typing() {
		return Verdict{Outcome: OutcomePassThrough}
	}
	if e.degraded {
		e.log.Warn("practice: key ignored, no sentence list", "key", string(key))
		return Verdict{Outcome: OutcomeIgnored}
	}
	if e.state == Ready {
		e.state = AwaitingKey
	}

	if key.IsNavigation() {
		e.navigate(key)
		return Verdict{Suppress: true, Outcome: OutcomeNavigation}
	}

	typed, ok := key.Letter()
	if !ok {
		return Verdict{Outcome: OutcomePassThrough}
	}
	s, pos, ok := e.locate()
	if !ok {
		return Verdict{Outcome: OutcomeIgnored}
	}
	expected, ok := charAt(s.Text, pos)
	if !ok {
		e.log.Warn("practice: cursor beyond sentence",
			"index", s.Index, "cursor", pos, "sentence", s.Text, "rendered", e.view.RenderedSentence())
		return Verdict{Outcome: OutcomeIgnored}
	}

	if unicode.ToLower(typed) != unicode.ToLower(expected) {
		e.log.Debug("practice: mismatch",
			"index", s.Index, "cursor", pos, "typed", string(typed), "expected", string(expected),
			"rendered", e.view.RenderedSentence())
		e.mistake(typed)
		return Verdict{Suppress: true, Outcome: OutcomeMismatch}
	}

	e.effects.ClearMistake()
	e.state = AwaitingKey
	e.cursor = pos + 1
	epoch := e.epoch
	bg := context.WithoutCancel(ctx)
	e.sched.AfterFunc(e.completionDelay, func() {
		if e.epoch == epoch {
			e.checkCompletion(bg)
		}
	})
	return Verdict{Outcome: OutcomeMatch}
}

// typing reports whether keys are currently the engine's to evaluate.
func (e *Engine) typing() bool {
	if e.state == Idle || e.state == Completed || e.modal {
		return false
	}
	return e.view.Visible() && !e.view.Paused()
}

func (e *Engine) navigate(key Key) {
	switch key {
	case KeySpace:
		e.player.Play(0)
	case KeyLeft:
		e.player.Seek(-e.skip)
	case KeyRight:
		e.player.Seek(e.skip)
	case KeyBackspace:
		s, pos, ok := e.locate()
		if !ok {
			return
		}
		at, ok := e.mapper.TimestampForOffset(s.Text, pos, e.player.Duration())
		if !ok {
			e.log.Debug("practice: audio duration unknown, backtrack skipped", "index", s.Index)
			return
		}
		e.player.Play(at)
	case KeyEnter:
		// Swallowed so the host cannot skip ahead.
	}
}

func (e *Engine) mistake(typed rune) {
	e.state = Error
	e.epoch++
	epoch := e.epoch

	e.effects.PlayErrorSound(e.source.Settings().EffectVolume)
	if rect, ok := e.view.CursorRect(); ok {
		e.effects.ShowMistake(typed, rect, e.mistakeFade)
	}
	e.sched.AfterFunc(e.mistakeFade, func() {
		if e.epoch == epoch && e.state == Error {
			e.state = AwaitingKey
		}
	})
}

func (e *Engine) checkCompletion(ctx context.Context) {
	if e.state != AwaitingKey || !e.view.SentenceComplete() {
		return
	}
	e.state = Completed
	e.completed = e.view.SentenceIndex()
	e.host.Confirm()
	e.metrics.RecordCompletion(ctx)
	e.log.Debug("practice: sentence completed", "index", e.completed)
}

// locate reads the current sentence and cursor from the view. Failures are
// logged and reported as !ok.
func (e *Engine) locate() (*content.Sentence, int, bool) {
	idx := e.view.SentenceIndex()
	if idx < 0 || idx >= len(e.sentences) {
		e.log.Warn("practice: sentence index out of range", "index", idx, "sentences", len(e.sentences))
		return nil, 0, false
	}
	s := e.sentences[idx]
	if s == nil {
		e.log.Warn("practice: sentence unavailable", "index", idx)
		return nil, 0, false
	}
	pos := e.view.CursorOffset()
	if pos < 0 {
		e.log.Warn("practice: cursor not found", "index", idx)
		return nil, 0, false
	}
	if idx != e.index {
		e.index = idx
		e.loadSource(s)
	}
	e.cursor = pos
	return s, pos, true
}

func (e *Engine) rebuild(ctx context.Context) {
	ctx, span := observe.StartSpan(ctx, observe.SpanRebuild)

	start := time.Now()
	e.sentences = e.source.Build()
	e.degraded = e.sentences == nil

	result := "ok"
	if e.degraded {
		result = "empty"
		e.log.Warn("practice: no sentence list available yet")
	} else {
		for _, s := range e.sentences {
			if s != nil {
				e.mapper.Prepare(s.Text)
			}
		}
		e.log.Debug("practice: sentence list rebuilt", "sentences", len(e.sentences), "timing_tables", e.mapper.Len())
	}
	e.metrics.RecordRebuild(ctx, result, time.Since(start))
	observe.EndSpan(span, result, nil)
}

func (e *Engine) applySettings() {
	s := e.source.Settings()
	e.player.SetVolume(s.ContentVolume)
	e.player.SetPlaybackRate(s.PlaybackRate)
}

// syncSource loads the audio for the sentence the view currently shows.
func (e *Engine) syncSource() {
	idx := e.view.SentenceIndex()
	if idx < 0 || idx >= len(e.sentences) || e.sentences[idx] == nil {
		return
	}
	e.index = idx
	e.loadSource(e.sentences[idx])
}

func (e *Engine) loadSource(s *content.Sentence) {
	if !s.HasAudio() {
		e.log.Debug("practice: sentence has no audio", "index", s.Index)
		return
	}
	e.player.SetSource(s.AudioURL)
}

// charAt returns the rune at character offset pos.
func charAt(s string, pos int) (rune, bool) {
	if pos < 0 {
		return 0, false
	}
	for i := 0; len(s) > 0; i++ {
		r, size := utf8.DecodeRuneInString(s)
		if i == pos {
			return r, true
		}
		s = s[size:]
	}
	return 0, false
}
