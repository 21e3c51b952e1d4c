// Package catalog holds the session-scoped state built from captured host
// payloads: the append-only payload store and the merged settings.
//
// Payloads are keyed by canonical URL; a later payload for the same URL
// replaces the earlier one, and nothing is ever evicted. Settings are merged
// field by field as partial settings payloads arrive.
//
// A [Catalog] is safe for concurrent use.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MrWong99/scribeline/pkg/content"
)

// ErrUnroutable is returned by [Catalog.Ingest] for URLs matching no route.
var ErrUnroutable = errors.New("catalog: url matches no route")

type entry struct {
	kind Kind
	text string
	seq  uint64

	quizzes []content.QuizEntry
	course  *content.Course
}

// Catalog is the payload store.
type Catalog struct {
	logger *slog.Logger

	mu       sync.RWMutex
	entries  map[string]*entry
	seq      uint64
	settings Settings
}

// New creates an empty Catalog starting from initial settings, clamped to
// their valid ranges. Callers normally start from [DefaultSettings].
func New(initial Settings, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		logger:   logger,
		entries:  make(map[string]*entry),
		settings: DefaultSettings().Merge(SettingsPatch{
			ContentVolume: &initial.ContentVolume,
			EffectVolume:  &initial.EffectVolume,
			PlaybackRate:  &initial.PlaybackRate,
		}),
	}
}

// Ingest stores the payload captured from url and returns its kind. A payload
// that fails to decode is still stored verbatim but contributes nothing to
// builds; the decode error is returned. Settings payloads are merged into the
// current settings immediately.
func (c *Catalog) Ingest(url, text string) (Kind, error) {
	kind := Classify(url)
	if kind == KindUnknown {
		return kind, fmt.Errorf("%w: %s", ErrUnroutable, url)
	}

	e := &entry{kind: kind, text: text}
	var decodeErr error
	var patch SettingsPatch

	switch kind {
	case KindQuiz:
		e.quizzes, decodeErr = content.DecodeQuizzes(text)
	case KindCourse:
		var course content.Course
		if course, decodeErr = content.DecodeCourse(text); decodeErr == nil {
			e.course = &course
		}
	case KindSettings:
		patch, decodeErr = DecodeSettingsPatch(text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	e.seq = c.seq
	c.entries[url] = e
	if kind == KindSettings && decodeErr == nil {
		c.settings = c.settings.Merge(patch)
	}
	return kind, decodeErr
}

// Len reports the number of stored payloads.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Has reports whether at least one usable payload of kind is stored.
func (c *Catalog) Has(kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.kind == kind && e.usable() {
			return true
		}
	}
	return false
}

// text returns the raw payload stored for url.
func (c *Catalog) text(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	if !ok {
		return "", false
	}
	return e.text, true
}

func (e *entry) usable() bool {
	switch e.kind {
	case KindQuiz:
		return e.quizzes != nil
	case KindCourse:
		return e.course != nil
	default:
		return true
	}
}

// Quizzes returns the most recently stored quiz list, or nil when none has
// been captured yet.
func (c *Catalog) Quizzes() []content.QuizEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest *entry
	for _, e := range c.entries {
		if e.kind != KindQuiz || e.quizzes == nil {
			continue
		}
		if latest == nil || e.seq > latest.seq {
			latest = e
		}
	}
	if latest == nil {
		return nil
	}
	return latest.quizzes
}

// Courses returns every stored course ordered by URL, or nil when none has
// been captured yet.
func (c *Catalog) Courses() []content.Course {
	c.mu.RLock()
	defer c.mu.RUnlock()
	urls := make([]string, 0, len(c.entries))
	for u, e := range c.entries {
		if e.kind == KindCourse && e.course != nil {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	sort.Strings(urls)
	out := make([]content.Course, len(urls))
	for i, u := range urls {
		out[i] = *c.entries[u].course
	}
	return out
}

// Settings returns the current merged settings.
func (c *Catalog) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings merges p into the current settings and returns the result.
func (c *Catalog) UpdateSettings(p SettingsPatch) Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = c.settings.Merge(p)
	return c.settings
}

// Build runs the content builder over the stored payloads.
func (c *Catalog) Build() []*content.Sentence {
	return content.Build(c.Quizzes(), c.Courses(), c.logger)
}
