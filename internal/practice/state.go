package practice

import (
	"time"

	"github.com/MrWong99/scribeline/internal/catalog"
	"github.com/MrWong99/scribeline/pkg/content"
)

// State is the engine's position in the practice lifecycle.
type State int

const (
	// Idle means the practice screen is not visible. Keys pass through.
	Idle State = iota

	// Ready means the screen is visible and the sentence list has been
	// rebuilt. A failed rebuild leaves the engine in a degraded Ready state
	// where keys are ignored.
	Ready

	// AwaitingKey means the engine is waiting for the next keystroke.
	AwaitingKey

	// Error means the last letter did not match. It returns to AwaitingKey
	// on its own once the mistake glyph has faded, or earlier on a match.
	Error

	// Completed means every character of the current sentence has been
	// typed and the host's confirm control has been triggered.
	Completed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case AwaitingKey:
		return "awaiting-key"
	case Error:
		return "error"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Rect is a screen-space rectangle in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// View reads the host page's rendered practice screen.
type View interface {
	// Visible reports whether the practice screen is shown.
	Visible() bool

	// Paused reports whether a paused or modal overlay covers the screen.
	Paused() bool

	// SentenceIndex returns the index of the current step, or -1.
	SentenceIndex() int

	// CursorOffset returns the character offset of the segment marked as
	// current within the rendered sentence, or -1.
	CursorOffset() int

	// SentenceComplete reports whether every typeable segment is filled.
	SentenceComplete() bool

	// CursorRect returns the screen position of the cursor segment.
	CursorRect() (Rect, bool)

	// RenderedSentence returns the sentence as the host currently shows it,
	// with a blank for every segment not typed yet.
	RenderedSentence() string
}

// Host triggers controls owned by the host page.
type Host interface {
	// Confirm activates the host's confirm/advance control.
	Confirm()
}

// Player is the overlay's audio element.
type Player interface {
	SetSource(url string)
	SetVolume(v float64)
	SetPlaybackRate(r float64)

	// Play starts playback at the given position in seconds.
	Play(at float64)

	// Seek moves the playhead by delta seconds and plays.
	Seek(delta float64)

	// Duration returns the media duration in seconds. Values that are not
	// positive and finite mean the metadata has not loaded yet.
	Duration() float64
}

// Effects renders mistake feedback.
type Effects interface {
	PlayErrorSound(volume float64)
	ShowMistake(letter rune, at Rect, fade time.Duration)
	ClearMistake()
}

// Source supplies sentences and settings, normally a [catalog.Catalog].
type Source interface {
	Build() []*content.Sentence
	Settings() catalog.Settings
	UpdateSettings(p catalog.SettingsPatch) catalog.Settings
}

// Scheduler runs f after d on the engine's event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// SchedulerFunc adapts a function to [Scheduler].
type SchedulerFunc func(d time.Duration, f func())

// AfterFunc calls fn(d, f).
func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) { fn(d, f) }
