package hostdom

import (
	"testing"

	"github.com/MrWong99/scribeline/internal/practice"
)

const midSentence = `
<div id="top-panel"><ul class="steps">
  <li class="step step-filled"></li><li class="step step-filled"></li><li class="step"></li>
</ul></div>
<div id="dictation_quiz_screen" class="screen current_screen">
  <span class="letter typeable">H</span><span class="letter typeable">i</span><span class="punctuation">,</span>
  <span class="space"> </span>
  <span class="letter typeable cursor" data-x="120.5" data-y="48" data-width="9" data-height="18"></span><span class="letter typeable"></span>
</div>`

const finished = `
<div id="top-panel"><ul class="steps"><li class="step-filled"></li></ul></div>
<div id="dictation_quiz_screen" class="current_screen">
  <span class="letter typeable">H</span><span class="letter typeable">i</span>
</div>`

const pausedScreen = `
<div id="dictation_quiz_screen" class="current_screen"><div class="paused"></div></div>`

const hiddenScreen = `<div id="dictation_quiz_screen" class="screen"></div>`

func mustParse(t *testing.T, html string) *Snapshot {
	t.Helper()
	s, err := Parse(html)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestSnapshot_MidSentence(t *testing.T) {
	t.Parallel()

	s := mustParse(t, midSentence)
	if !s.Visible() {
		t.Error("Visible = false")
	}
	if s.Paused() {
		t.Error("Paused = true")
	}
	if got := s.SentenceIndex(); got != 1 {
		t.Errorf("SentenceIndex = %d, want 1", got)
	}
	if got := s.CursorOffset(); got != 4 {
		t.Errorf("CursorOffset = %d, want 4", got)
	}
	if s.SentenceComplete() {
		t.Error("SentenceComplete = true with empty typeable segments")
	}
	rect, ok := s.CursorRect()
	if !ok || rect != (practice.Rect{X: 120.5, Y: 48, Width: 9, Height: 18}) {
		t.Errorf("CursorRect = %+v, %v", rect, ok)
	}
	if got := s.RenderedSentence(); got != "Hi   " {
		t.Errorf("RenderedSentence = %q", got)
	}
}

func TestSnapshot_Finished(t *testing.T) {
	t.Parallel()

	s := mustParse(t, finished)
	if !s.SentenceComplete() {
		t.Error("SentenceComplete = false")
	}
	if got := s.CursorOffset(); got != -1 {
		t.Errorf("CursorOffset = %d, want -1 without cursor", got)
	}
	if _, ok := s.CursorRect(); ok {
		t.Error("CursorRect ok without cursor")
	}
	if got := s.SentenceIndex(); got != 0 {
		t.Errorf("SentenceIndex = %d, want 0", got)
	}
}

func TestSnapshot_ScreenStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		html        string
		wantVisible bool
		wantPaused  bool
	}{
		{name: "paused", html: pausedScreen, wantVisible: true, wantPaused: true},
		{name: "hidden", html: hiddenScreen},
		{name: "other page", html: `<p>hello</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := mustParse(t, tt.html)
			if got := s.Visible(); got != tt.wantVisible {
				t.Errorf("Visible = %v, want %v", got, tt.wantVisible)
			}
			if got := s.Paused(); got != tt.wantPaused {
				t.Errorf("Paused = %v, want %v", got, tt.wantPaused)
			}
			if got := s.SentenceIndex(); got != -1 {
				t.Errorf("SentenceIndex = %d, want -1", got)
			}
		})
	}
}

func TestSnapshot_CursorRectNeedsCoordinates(t *testing.T) {
	t.Parallel()

	s := mustParse(t, `<div id="dictation_quiz_screen"><span class="letter cursor" data-x="oops" data-y="1"></span></div>`)
	if _, ok := s.CursorRect(); ok {
		t.Error("CursorRect ok with unparsable data-x")
	}
	if got := s.CursorOffset(); got != 0 {
		t.Errorf("CursorOffset = %d, want 0", got)
	}
}

func TestPage(t *testing.T) {
	t.Parallel()

	p := NewPage()
	if p.Visible() || p.Paused() || p.SentenceComplete() {
		t.Error("empty page reports state")
	}
	if p.SentenceIndex() != -1 || p.CursorOffset() != -1 {
		t.Error("empty page reports a position")
	}
	if _, ok := p.CursorRect(); ok {
		t.Error("empty page reports a cursor rect")
	}

	if err := p.Update(midSentence); err != nil {
		t.Fatal(err)
	}
	if !p.Visible() || p.CursorOffset() != 4 || p.SentenceIndex() != 1 {
		t.Errorf("page after update: visible=%v cursor=%d index=%d", p.Visible(), p.CursorOffset(), p.SentenceIndex())
	}

	if err := p.Update(finished); err != nil {
		t.Fatal(err)
	}
	if !p.SentenceComplete() {
		t.Error("page kept the stale snapshot")
	}
}
