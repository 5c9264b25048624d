package core

import (
	"testing"

	"github.com/valter-silva-au/ai-task-engine/pkg/models"
	"pgregory.net/rapid"
)

func TestPriorityClassifier(t *testing.T) {
	c := NewPriorityClassifier(map[models.Priority][]string{
		models.PriorityUrgent: {"URGENT", "asap"},
		models.PriorityHigh:   {"deadline"},
		models.PriorityLow:    {"fyi", "  "},
	})

	tests := []struct {
		payload string
		hint    string
		want    models.Priority
	}{
		{"Server down, fix ASAP", "", models.PriorityUrgent},
		{"The deadline is Friday", "", models.PriorityHigh},
		{"fyi the deadline moved", "", models.PriorityHigh},
		{"FYI: lunch menu", "", models.PriorityLow},
		{"nothing special", "", models.PriorityNormal},
		{"fix asap", "low", models.PriorityLow},
		{"fyi", "Critical", models.PriorityUrgent},
		{"fyi", "whenever", models.PriorityLow},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.payload, tt.hint); got != tt.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", tt.payload, tt.hint, got, tt.want)
		}
	}
}

// Any payload containing an urgent keyword classifies as urgent when no
// hint is given.
func TestProperty_UrgentKeywordWins(t *testing.T) {
	c := NewPriorityClassifier(DefaultConfig().Priority.Keywords)
	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.StringMatching(`[a-z ]{0,20}`).Draw(rt, "prefix")
		suffix := rapid.StringMatching(`[a-z ]{0,20}`).Draw(rt, "suffix")
		kw := rapid.SampledFrom(DefaultConfig().Priority.Keywords[models.PriorityUrgent]).Draw(rt, "keyword")
		if got := c.Classify(prefix+" "+kw+" "+suffix, ""); got != models.PriorityUrgent {
			rt.Errorf("Classify with %q = %s, want urgent", kw, got)
		}
	})
}
