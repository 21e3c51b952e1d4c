package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/MrWong99/scribeline/pkg/content"
)

// buildAction runs the content builder over saved payload files and prints
// the resulting sentence list as JSON. Unresolvable steps print as null.
func buildAction(c *cli.Context) error {
	logger, _ := newLogger(c.App.ErrWriter, "")

	raw, err := os.ReadFile(c.String("quiz"))
	if err != nil {
		return fmt.Errorf("build: read quiz: %w", err)
	}
	quizzes, err := content.DecodeQuizzes(string(raw))
	if err != nil {
		return fmt.Errorf("build: %s: %w", c.String("quiz"), err)
	}

	var courses []content.Course
	for _, path := range c.StringSlice("course") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("build: read course: %w", err)
		}
		course, err := content.DecodeCourse(string(raw))
		if err != nil {
			return fmt.Errorf("build: %s: %w", path, err)
		}
		courses = append(courses, course)
	}

	sentences := content.Build(quizzes, courses, logger)
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(sentences)
}
