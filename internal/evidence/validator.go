package evidence

import (
	"sort"

	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/metrics"
	"github.com/study-agent/backend/pkg/logger"
)

// Validator filters retrieved items by credibility and relevance before a
// specialist may cite them. Scoring is a fixed weighted sum, deterministic
// for identical inputs.
type Validator struct {
	credibilityWeight float64
	relevanceWeight   float64
}

func NewValidator(credibilityWeight, relevanceWeight float64) *Validator {
	if credibilityWeight <= 0 && relevanceWeight <= 0 {
		credibilityWeight = 0.5
		relevanceWeight = 0.5
	}
	return &Validator{
		credibilityWeight: credibilityWeight,
		relevanceWeight:   relevanceWeight,
	}
}

// Score returns the combined score for one item.
func (v *Validator) Score(item Item) float64 {
	total := v.credibilityWeight + v.relevanceWeight
	return (item.Credibility*v.credibilityWeight + item.Relevance*v.relevanceWeight) / total
}

// Validate drops items below either threshold and returns the remainder
// sorted by combined score descending. Ties keep their original relative
// order. An empty input yields an empty output, not an error.
func (v *Validator) Validate(items []Item, minCredibility, minRelevance float64) []Item {
	passed := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Credibility < minCredibility || item.Relevance < minRelevance {
			continue
		}
		passed = append(passed, item)
	}

	sort.SliceStable(passed, func(i, j int) bool {
		return v.Score(passed[i]) > v.Score(passed[j])
	})

	if len(items) > 0 {
		metrics.SourcesValidated.WithLabelValues(string(items[0].Origin)).Observe(float64(len(passed)))
		logger.Debug("Evidence validated",
			zap.Int("candidates", len(items)),
			zap.Int("passed", len(passed)),
		)
	}

	return passed
}
