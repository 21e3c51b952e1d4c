package practice

// Key is a DOM KeyboardEvent.key value.
type Key string

// Keys owned by the overlay while practicing.
const (
	KeyEnter     Key = "Enter"
	KeyBackspace Key = "Backspace"
	KeyLeft      Key = "ArrowLeft"
	KeyRight     Key = "ArrowRight"
	KeySpace     Key = " "
)

// Letter returns the key's character if it is a single ASCII letter.
func (k Key) Letter() (rune, bool) {
	if len(k) != 1 {
		return 0, false
	}
	r := rune(k[0])
	if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
		return r, true
	}
	return 0, false
}

// IsNavigation reports whether k is one of the keys the overlay takes over
// from the host.
func (k Key) IsNavigation() bool {
	switch k {
	case KeyEnter, KeyBackspace, KeyLeft, KeyRight, KeySpace:
		return true
	}
	return false
}

// Outcome classifies how a key event was handled.
type Outcome string

const (
	// OutcomePassThrough: the engine did not act and the host handles the key.
	OutcomePassThrough Outcome = "passthrough"

	// OutcomeIgnored: the engine could not evaluate the key (missing data)
	// and let it through.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeMatch: the letter matched the expected character.
	OutcomeMatch Outcome = "match"

	// OutcomeMismatch: the letter was wrong and was swallowed.
	OutcomeMismatch Outcome = "mismatch"

	// OutcomeNavigation: an overlay-owned key was handled and swallowed.
	OutcomeNavigation Outcome = "navigation"
)

// Verdict tells the caller what to do with the original key event.
type Verdict struct {
	// Suppress means the event must not reach the host page.
	Suppress bool

	Outcome Outcome
}
