package core

import (
	"strings"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
)

// PriorityClassifier derives a task priority from its payload.
type PriorityClassifier interface {
	Classify(payload string, hint string) models.Priority
}

type keywordClassifier struct {
	keywords map[models.Priority][]string
}

// NewPriorityClassifier creates a classifier over configurable keyword
// lists. The first matching level, from urgent down to low, wins.
func NewPriorityClassifier(keywords map[models.Priority][]string) PriorityClassifier {
	lowered := make(map[models.Priority][]string, len(keywords))
	for p, words := range keywords {
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				lowered[p] = append(lowered[p], w)
			}
		}
	}
	return &keywordClassifier{keywords: lowered}
}

// Classify returns the hint when it names a valid priority, otherwise the
// highest level whose keywords appear in payload, otherwise normal.
func (c *keywordClassifier) Classify(payload string, hint string) models.Priority {
	if p, ok := models.ParsePriority(hint); ok {
		return p
	}
	text := strings.ToLower(payload)
	for _, p := range []models.Priority{models.PriorityUrgent, models.PriorityHigh, models.PriorityNormal, models.PriorityLow} {
		for _, w := range c.keywords[p] {
			if strings.Contains(text, w) {
				return p
			}
		}
	}
	return models.PriorityNormal
}
