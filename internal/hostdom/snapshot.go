// Package hostdom reads the host page's practice screen from HTML snapshots
// forwarded by the overlay.
//
// A [Snapshot] is an immutable parse of one snapshot. A [Page] holds the most
// recent snapshot and implements the practice engine's view of the host.
package hostdom

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/MrWong99/scribeline/internal/practice"
)

// Selectors for the host's practice screen markup.
const (
	ScreenSelector   = "#dictation_quiz_screen"
	CurrentClass     = "current_screen"
	CursorClass      = "cursor"
	PausedSelector   = ".paused"
	StepSelector     = "#top-panel ul.steps li.step-filled"
	TypeableSelector = ScreenSelector + " .typeable"
	CursorSelector   = ScreenSelector + " .letter.cursor"
)

// segmentSelector matches every rendered sentence segment in document order.
var segmentSelector = strings.Join([]string{
	ScreenSelector + " .word",
	ScreenSelector + " .letter",
	ScreenSelector + " .space",
	ScreenSelector + " .excluded",
	ScreenSelector + " .punctuation",
}, ", ")

// characterSelector matches the segments that make up the rendered sentence.
var characterSelector = ScreenSelector + " .letter, " + ScreenSelector + " .space"

// Snapshot is one parsed copy of the host's practice screen.
type Snapshot struct {
	doc *goquery.Document
}

var _ practice.View = (*Snapshot)(nil)

// Parse parses an HTML snapshot.
func Parse(html string) (*Snapshot, error) {
	return Read(strings.NewReader(html))
}

// Read parses an HTML snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("hostdom: parse snapshot: %w", err)
	}
	return &Snapshot{doc: doc}, nil
}

// Visible reports whether the practice screen is the host's current screen.
func (s *Snapshot) Visible() bool {
	return s.doc.Find(ScreenSelector).HasClass(CurrentClass)
}

// Paused reports whether a paused indicator is present anywhere on the page.
func (s *Snapshot) Paused() bool {
	return s.doc.Find(PausedSelector).Length() > 0
}

// SentenceIndex returns the number of filled steps minus one, so -1 when no
// step has been reached.
func (s *Snapshot) SentenceIndex() int {
	return s.doc.Find(StepSelector).Length() - 1
}

// CursorOffset sums the character lengths of the segments preceding the one
// marked as the cursor. It returns -1 when no segment carries the cursor.
func (s *Snapshot) CursorOffset() int {
	pos := 0
	found := false
	s.doc.Find(segmentSelector).EachWithBreak(func(_ int, seg *goquery.Selection) bool {
		if seg.HasClass(CursorClass) {
			found = true
			return false
		}
		pos += utf8.RuneCountInString(seg.Text())
		return true
	})
	if !found {
		return -1
	}
	return pos
}

// SentenceComplete reports whether every typeable segment has content. A
// screen without typeable segments counts as complete.
func (s *Snapshot) SentenceComplete() bool {
	complete := true
	s.doc.Find(TypeableSelector).EachWithBreak(func(_ int, seg *goquery.Selection) bool {
		if seg.Text() == "" {
			complete = false
		}
		return complete
	})
	return complete
}

// CursorRect returns the cursor letter's position taken from its data-x,
// data-y, data-width and data-height attributes. Only x and y are required.
func (s *Snapshot) CursorRect() (practice.Rect, bool) {
	cur := s.doc.Find(CursorSelector).First()
	if cur.Length() == 0 {
		return practice.Rect{}, false
	}
	x, okX := floatAttr(cur, "data-x")
	y, okY := floatAttr(cur, "data-y")
	if !okX || !okY {
		return practice.Rect{}, false
	}
	w, _ := floatAttr(cur, "data-width")
	h, _ := floatAttr(cur, "data-height")
	return practice.Rect{X: x, Y: y, Width: w, Height: h}, true
}

// RenderedSentence joins the letter and space segments, substituting a blank
// for segments that have not been typed yet.
func (s *Snapshot) RenderedSentence() string {
	var b strings.Builder
	s.doc.Find(characterSelector).Each(func(_ int, seg *goquery.Selection) {
		if t := seg.Text(); t != "" {
			b.WriteString(t)
		} else {
			b.WriteByte(' ')
		}
	})
	return b.String()
}

func floatAttr(sel *goquery.Selection, name string) (float64, bool) {
	v, ok := sel.Attr(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
