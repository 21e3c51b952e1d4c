// Package mock provides in-memory implementations of the [practice] collaborator
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use, record method calls, and expose exported
// fields for configuring return values.
//
// Example:
//
//	view := &mock.View{VisibleResult: true, SentenceIndexResult: 0}
//	player := &mock.Player{DurationResult: 4}
//	sched := &mock.Scheduler{}
//	eng, _ := practice.New(practice.Config{View: view, Player: player, Scheduler: sched, ...})
//	eng.HandleKey(ctx, "h")
//	sched.Fire()
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/scribeline/internal/catalog"
	"github.com/MrWong99/scribeline/internal/practice"
	"github.com/MrWong99/scribeline/pkg/content"
)

// Compile-time interface checks.
var (
	_ practice.View      = (*View)(nil)
	_ practice.Host      = (*Host)(nil)
	_ practice.Player    = (*Player)(nil)
	_ practice.Effects   = (*Effects)(nil)
	_ practice.Source    = (*Source)(nil)
	_ practice.Scheduler = (*Scheduler)(nil)
)

// ─── View ─────────────────────────────────────────────────────────────────────

// View is a mock implementation of [practice.View].
type View struct {
	mu sync.Mutex

	VisibleResult          bool
	PausedResult           bool
	SentenceIndexResult    int
	CursorOffsetResult     int
	SentenceCompleteResult bool

	// CursorRectResult and CursorRectOK are returned by [View.CursorRect].
	CursorRectResult practice.Rect
	CursorRectOK     bool

	// RenderedSentenceResult is returned by [View.RenderedSentence].
	RenderedSentenceResult string
}

// Set applies fn to the view under its lock.
func (v *View) Set(fn func(v *View)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v)
}

// Visible implements [practice.View].
func (v *View) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.VisibleResult
}

// Paused implements [practice.View].
func (v *View) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.PausedResult
}

// SentenceIndex implements [practice.View].
func (v *View) SentenceIndex() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.SentenceIndexResult
}

// CursorOffset implements [practice.View].
func (v *View) CursorOffset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.CursorOffsetResult
}

// SentenceComplete implements [practice.View].
func (v *View) SentenceComplete() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.SentenceCompleteResult
}

// RenderedSentence implements [practice.View].
func (v *View) RenderedSentence() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.RenderedSentenceResult
}

// CursorRect implements [practice.View].
func (v *View) CursorRect() (practice.Rect, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.CursorRectResult, v.CursorRectOK
}

// ─── Host ─────────────────────────────────────────────────────────────────────

// Host is a mock implementation of [practice.Host].
type Host struct {
	mu sync.Mutex

	// ConfirmCount records how many times Confirm was called.
	ConfirmCount int
}

// Confirm implements [practice.Host].
func (h *Host) Confirm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ConfirmCount++
}

// Confirms returns the number of Confirm calls.
func (h *Host) Confirms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ConfirmCount
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [practice.Player].
type Player struct {
	mu sync.Mutex

	// DurationResult is returned by [Player.Duration].
	DurationResult float64

	// Sources records every SetSource argument.
	Sources []string
	// Volumes records every SetVolume argument.
	Volumes []float64
	// Rates records every SetPlaybackRate argument.
	Rates []float64
	// Plays records every Play position.
	Plays []float64
	// Seeks records every Seek delta.
	Seeks []float64
}

// SetSource implements [practice.Player].
func (p *Player) SetSource(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sources = append(p.Sources, url)
}

// SetVolume implements [practice.Player].
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Volumes = append(p.Volumes, v)
}

// SetPlaybackRate implements [practice.Player].
func (p *Player) SetPlaybackRate(r float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Rates = append(p.Rates, r)
}

// Play implements [practice.Player].
func (p *Player) Play(at float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Plays = append(p.Plays, at)
}

// Seek implements [practice.Player].
func (p *Player) Seek(delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Seeks = append(p.Seeks, delta)
}

// Duration implements [practice.Player].
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DurationResult
}

// ─── Effects ──────────────────────────────────────────────────────────────────

// ShowMistakeCall records the arguments of a single [Effects.ShowMistake] invocation.
type ShowMistakeCall struct {
	Letter rune
	At     practice.Rect
	Fade   time.Duration
}

// Effects is a mock implementation of [practice.Effects].
type Effects struct {
	mu sync.Mutex

	// ErrorSounds records the volume of every PlayErrorSound call.
	ErrorSounds []float64
	// Mistakes records every ShowMistake call.
	Mistakes []ShowMistakeCall
	// ClearCount records how many times ClearMistake was called.
	ClearCount int
}

// PlayErrorSound implements [practice.Effects].
func (e *Effects) PlayErrorSound(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ErrorSounds = append(e.ErrorSounds, volume)
}

// ShowMistake implements [practice.Effects].
func (e *Effects) ShowMistake(letter rune, at practice.Rect, fade time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Mistakes = append(e.Mistakes, ShowMistakeCall{Letter: letter, At: at, Fade: fade})
}

// ClearMistake implements [practice.Effects].
func (e *Effects) ClearMistake() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ClearCount++
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [practice.Source].
type Source struct {
	mu sync.Mutex

	// BuildResult is returned by [Source.Build].
	BuildResult []*content.Sentence

	// SettingsValue is returned by [Source.Settings] and updated by
	// [Source.UpdateSettings].
	SettingsValue catalog.Settings

	// BuildCount records how many times Build was called.
	BuildCount int
}

// Build implements [practice.Source].
func (s *Source) Build() []*content.Sentence {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BuildCount++
	return s.BuildResult
}

// Settings implements [practice.Source].
func (s *Source) Settings() catalog.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SettingsValue
}

// UpdateSettings implements [practice.Source].
func (s *Source) UpdateSettings(p catalog.SettingsPatch) catalog.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SettingsValue = s.SettingsValue.Merge(p)
	return s.SettingsValue
}

// ─── Scheduler ────────────────────────────────────────────────────────────────

// Scheduled is a callback waiting in a [Scheduler].
type Scheduled struct {
	Delay time.Duration
	Fn    func()
}

// Scheduler is a mock implementation of [practice.Scheduler]. Callbacks never
// run on their own; call [Scheduler.Fire] to run them.
type Scheduler struct {
	mu      sync.Mutex
	pending []Scheduled
}

// AfterFunc implements [practice.Scheduler].
func (s *Scheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, Scheduled{Delay: d, Fn: f})
}

// Pending returns a copy of the callbacks not yet fired.
func (s *Scheduler) Pending() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scheduled(nil), s.pending...)
}

// Fire runs every pending callback in scheduling order. Callbacks scheduled
// while firing stay pending.
func (s *Scheduler) Fire() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, sc := range batch {
		sc.Fn()
	}
}
