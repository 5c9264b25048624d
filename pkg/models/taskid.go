package models

import (
	"regexp"
	"strings"
	"time"
)

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

// NewTaskID derives the canonical task id from a source channel and a
// timestamp, e.g. "gmail-20260301T081500.000000123".
func NewTaskID(source string, ts time.Time) string {
	slug := strings.Trim(nonIDChars.ReplaceAllString(strings.ToLower(source), "-"), "-")
	if slug == "" {
		slug = "task"
	}
	return slug + "-" + ts.UTC().Format("20060102T150405.000000000")
}
