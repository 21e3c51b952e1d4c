// Package audiopos maps character offsets inside a sentence to playback
// timestamps in the sentence's audio.
//
// Spoken audio does not spend equal time on every character: pauses at spaces
// and commas and sustained vowels take longer than consonants. Each character
// is classified into a weight class by an ordered rule table, and the offset is
// mapped proportionally to its cumulative weight.
//
// Weight tables are memoized per exact sentence text. A [Mapper] is safe for
// concurrent use.
package audiopos

import (
	"math"
	"sync"
	"unicode"
)

// Backtrack is the default rewind applied to every computed timestamp so that
// replay starts slightly before the point of failure.
const Backtrack = 1.0

// Rule assigns Weight to every character for which Match reports true.
type Rule struct {
	Name   string
	Match  func(r rune) bool
	Weight float64
}

// DefaultRules is the ordered weight-class table. The first matching rule wins.
var DefaultRules = []Rule{
	{Name: "whitespace", Match: unicode.IsSpace, Weight: 2.5},
	{Name: "comma", Match: func(r rune) bool { return r == ',' }, Weight: 1.5},
	{Name: "vowel", Match: isVowel, Weight: 2.0},
	{Name: "default", Match: func(rune) bool { return true }, Weight: 1.0},
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'i', 'u', 'e', 'o':
		return true
	}
	return false
}

// Option is a functional option for [New].
type Option func(*Mapper)

// WithBacktrack overrides [Backtrack]. Negative values are ignored.
func WithBacktrack(sec float64) Option {
	return func(m *Mapper) {
		if sec >= 0 {
			m.backtrack = sec
		}
	}
}

// WithRules replaces [DefaultRules]. An empty slice is ignored.
func WithRules(rules []Rule) Option {
	return func(m *Mapper) {
		if len(rules) > 0 {
			m.rules = rules
		}
	}
}

// Mapper computes and caches weight tables.
type Mapper struct {
	rules     []Rule
	backtrack float64

	mu     sync.Mutex
	tables map[string][]float64
}

// New returns a Mapper using [DefaultRules] and [Backtrack] unless overridden.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		rules:     DefaultRules,
		backtrack: Backtrack,
		tables:    make(map[string][]float64),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Weight returns the weight of r under rules. A character no rule matches
// weighs 0.
func Weight(rules []Rule, r rune) float64 {
	for _, rule := range rules {
		if rule.Match(r) {
			return rule.Weight
		}
	}
	return 0
}

// BuildTable returns the cumulative weight table for text. The table has one
// entry per character plus a trailing total: entry i is the summed weight of
// the characters before offset i, so entry 0 is always 0.
func BuildTable(rules []Rule, text string) []float64 {
	runes := []rune(text)
	table := make([]float64, len(runes)+1)
	for i, r := range runes {
		table[i+1] = table[i] + Weight(rules, r)
	}
	return table
}

// Prepare builds and caches the weight table for text unless one is already
// cached, and returns it.
func (m *Mapper) Prepare(text string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[text]; ok {
		return t
	}
	t := BuildTable(m.rules, text)
	m.tables[text] = t
	return t
}

// Table returns the cached table for text, if any.
func (m *Mapper) Table(text string) ([]float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[text]
	return t, ok
}

// Len reports how many distinct sentence texts are cached.
func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables)
}

// TimestampForOffset maps offset within text to a playback position in
// seconds. ok is false, and no seek should be performed, when duration is not
// known yet or no table has been prepared for text.
func (m *Mapper) TimestampForOffset(text string, offset int, duration float64) (sec float64, ok bool) {
	if !KnownDuration(duration) {
		return 0, false
	}
	table, ok := m.Table(text)
	if !ok {
		return 0, false
	}
	return Timestamp(table, offset, duration, m.backtrack), true
}

// Timestamp applies the mapping formula to a prepared table:
//
//	t = max(0, duration*table[offset]/table[last] - backtrack)
//
// offset is clamped to the table bounds.
func Timestamp(table []float64, offset int, duration, backtrack float64) float64 {
	if len(table) == 0 {
		return 0
	}
	last := len(table) - 1
	offset = max(0, min(offset, last))
	total := table[last]
	if total <= 0 {
		return 0
	}
	return math.Max(0, duration*table[offset]/total-backtrack)
}

// KnownDuration reports whether d is a usable media duration. Players report
// NaN or 0 before metadata has loaded and +Inf for live streams.
func KnownDuration(d float64) bool {
	return d > 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}
