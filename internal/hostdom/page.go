package hostdom

import (
	"sync"

	"github.com/MrWong99/scribeline/internal/practice"
)

var _ practice.View = (*Page)(nil)

// Page holds the most recent [Snapshot]. Before the first snapshot arrives it
// reports an invisible screen with no sentence and no cursor.
//
// A Page is safe for concurrent use.
type Page struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewPage returns an empty Page.
func NewPage() *Page {
	return &Page{}
}

// Update parses html and replaces the current snapshot. On error the previous
// snapshot is kept.
func (p *Page) Update(html string) error {
	snap, err := Parse(html)
	if err != nil {
		return err
	}
	p.Set(snap)
	return nil
}

// Set replaces the current snapshot.
func (p *Page) Set(snap *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
}

// Snapshot returns the current snapshot, or nil.
func (p *Page) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Visible implements [practice.View].
func (p *Page) Visible() bool {
	if s := p.Snapshot(); s != nil {
		return s.Visible()
	}
	return false
}

// Paused implements [practice.View].
func (p *Page) Paused() bool {
	if s := p.Snapshot(); s != nil {
		return s.Paused()
	}
	return false
}

// SentenceIndex implements [practice.View].
func (p *Page) SentenceIndex() int {
	if s := p.Snapshot(); s != nil {
		return s.SentenceIndex()
	}
	return -1
}

// CursorOffset implements [practice.View].
func (p *Page) CursorOffset() int {
	if s := p.Snapshot(); s != nil {
		return s.CursorOffset()
	}
	return -1
}

// SentenceComplete implements [practice.View].
func (p *Page) SentenceComplete() bool {
	if s := p.Snapshot(); s != nil {
		return s.SentenceComplete()
	}
	return false
}

// RenderedSentence implements [practice.View].
func (p *Page) RenderedSentence() string {
	if s := p.Snapshot(); s != nil {
		return s.RenderedSentence()
	}
	return ""
}

// CursorRect implements [practice.View].
func (p *Page) CursorRect() (practice.Rect, bool) {
	if s := p.Snapshot(); s != nil {
		return s.CursorRect()
	}
	return practice.Rect{}, false
}
