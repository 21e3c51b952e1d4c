package content

import (
	"log/slog"
	"regexp"
)

// markupRE matches a single tag. Quoted attribute values may contain '>'.
var markupRE = regexp.MustCompile(`<("[^"]*"|'[^']*'|[^'">])*>`)

// StripMarkup removes every <...> span from s and keeps the text between them.
// It is not an HTML parser: entities are left as-is.
func StripMarkup(s string) string {
	return markupRE.ReplaceAllString(s, "")
}

// Build resolves every quiz entry through its course, item and sentence and
// returns one Sentence per entry, in entry order.
//
// Build returns nil when either input is nil, meaning not enough data has
// arrived yet. An entry whose chain cannot be resolved produces a nil element
// at its index and a warning; the remaining entries are still resolved.
//
// Build is pure and may be called again whenever a new payload arrives.
func Build(quizzes []QuizEntry, courses []Course, logger *slog.Logger) []*Sentence {
	if quizzes == nil || courses == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]*Sentence, len(quizzes))
	for i, q := range quizzes {
		out[i] = resolve(i, q, courses, logger)
	}
	return out
}

func resolve(index int, q QuizEntry, courses []Course, logger *slog.Logger) *Sentence {
	course := findCourse(courses, q.GoalID)
	if course == nil || course.GoalItems == nil {
		logger.Warn("content: goal not found in courses",
			"index", index,
			"goal_id", q.GoalID,
			"courses", len(courses),
		)
		return nil
	}

	item := findItem(course.GoalItems, q.ItemID)
	if item == nil || len(item.Sentences) == 0 {
		logger.Warn("content: item not found in goal items",
			"index", index,
			"goal_id", q.GoalID,
			"item_id", q.ItemID,
		)
		return nil
	}

	ref := findSentence(item.Sentences, q.ContentID)
	if ref == nil {
		logger.Warn("content: content not found in item sentences",
			"index", index,
			"item_id", q.ItemID,
			"content_id", q.ContentID,
			"sentences", len(item.Sentences),
		)
		return nil
	}

	return &Sentence{
		Index:    index,
		Text:     StripMarkup(ref.Cue.Text),
		AudioURL: ref.Sound,
	}
}

func findCourse(courses []Course, goalID int64) *Course {
	for i := range courses {
		if courses[i].ID == goalID {
			return &courses[i]
		}
	}
	return nil
}

func findItem(items []GoalItem, itemID int64) *GoalItem {
	for i := range items {
		if items[i].Item.ID == itemID {
			return &items[i]
		}
	}
	return nil
}

func findSentence(refs []SentenceRef, contentID int64) *SentenceRef {
	for i := range refs {
		if refs[i].Cue != nil && refs[i].Cue.ID == contentID {
			return &refs[i]
		}
	}
	return nil
}
