// Package content joins the raw quiz and course payloads captured from the
// host page into normalized [Sentence] records.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
)

// QuizEntry is one practice step from the quiz ("study") payload. The order of
// entries in the payload defines the step index.
type QuizEntry struct {
	GoalID    int64 `json:"goal_id"`
	ItemID    int64 `json:"item_id"`
	ContentID int64 `json:"content_id"`
}

// Course is the goal lookup payload. It is keyed by ID, which matches
// [QuizEntry.GoalID].
type Course struct {
	ID        int64      `json:"id"`
	GoalItems []GoalItem `json:"goal_items"`
}

// GoalItem is one item of a course together with its example sentences.
type GoalItem struct {
	Item      ItemRef       `json:"item"`
	Sentences []SentenceRef `json:"sentences"`
}

// ItemRef identifies the item of a [GoalItem].
type ItemRef struct {
	ID int64 `json:"id"`
}

// SentenceRef is a raw sentence of an item. Cue may be absent.
type SentenceRef struct {
	Cue   *Cue   `json:"cue"`
	Sound string `json:"sound"`
}

// Cue holds the sentence display text, which may contain markup.
type Cue struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Sentence is a normalized practice unit.
type Sentence struct {
	// Index is the position of the originating [QuizEntry].
	Index int `json:"index"`

	// Text is the display text with markup removed.
	Text string `json:"text"`

	// AudioURL is the sentence audio. Empty when the payload carries none.
	AudioURL string `json:"audio_url,omitempty"`
}

// HasAudio reports whether s has an audio reference.
func (s *Sentence) HasAudio() bool {
	return s != nil && s.AudioURL != ""
}

// DecodeQuizzes parses a quiz payload. Both a bare JSON array and an object
// wrapping the array under "quizzes" are accepted.
func DecodeQuizzes(text string) ([]QuizEntry, error) {
	var entries []QuizEntry
	if err := json.Unmarshal([]byte(text), &entries); err == nil {
		if entries == nil {
			entries = []QuizEntry{}
		}
		return entries, nil
	}

	var wrapped struct {
		Quizzes *[]QuizEntry `json:"quizzes"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
		return nil, fmt.Errorf("content: decode quizzes: %w", err)
	}
	if wrapped.Quizzes == nil {
		return nil, errors.New("content: decode quizzes: payload has no quiz list")
	}
	return *wrapped.Quizzes, nil
}

// DecodeCourse parses a goal lookup payload.
func DecodeCourse(text string) (Course, error) {
	var c Course
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return Course{}, fmt.Errorf("content: decode course: %w", err)
	}
	return c, nil
}
