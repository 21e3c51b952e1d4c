package catalog

import "regexp"

// Kind classifies a captured payload by the API route it came from.
type Kind int

const (
	// KindUnknown is a URL matching no route.
	KindUnknown Kind = iota

	// KindCourse is a goal lookup ("/api/v2/goals/<id>").
	KindCourse

	// KindQuiz is a quiz list ("/api/v2/<...>/study").
	KindQuiz

	// KindSettings is the user settings ("/api/v2/settings").
	KindSettings
)

// String returns the route name.
func (k Kind) String() string {
	switch k {
	case KindCourse:
		return "course"
	case KindQuiz:
		return "quiz"
	case KindSettings:
		return "settings"
	default:
		return "unknown"
	}
}

// Route binds a URL pattern to a payload kind. Patterns match both request
// URLs (with a query string) and canonical URLs (without one).
type Route struct {
	Kind    Kind
	Pattern *regexp.Regexp
}

// Routes is the fixed set of captured API routes.
var Routes = []Route{
	{Kind: KindCourse, Pattern: regexp.MustCompile(`/api/v2/goals/\d+(\?|$)`)},
	{Kind: KindQuiz, Pattern: regexp.MustCompile(`/api/v2/.+?/study(\?|$)`)},
	{Kind: KindSettings, Pattern: regexp.MustCompile(`/api/v2/settings(\?|$)`)},
}

// Patterns returns the source of every route pattern, for handing to the
// capturing side of the relay.
func Patterns() []string {
	out := make([]string, len(Routes))
	for i, r := range Routes {
		out[i] = r.Pattern.String()
	}
	return out
}

// Classify returns the kind of the first route matching url.
func Classify(url string) Kind {
	for _, r := range Routes {
		if r.Pattern.MatchString(url) {
			return r.Kind
		}
	}
	return KindUnknown
}
