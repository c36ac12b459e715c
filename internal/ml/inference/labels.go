package inference

import (
	"fmt"
	"math"

	"github.com/linuzri/polymarket-bot/internal/domain"
)

// ToPrediction turns a class-probability vector into a label vote: the
// label is the argmax (first index on ties) and the confidence its
// probability. labels are in class-index order.
func ToPrediction(sourceID string, labels []string, probs []float64) (domain.SourcePrediction, error) {
	if len(probs) != len(labels) {
		return domain.SourcePrediction{}, fmt.Errorf("source %s: %d probabilities for %d labels", sourceID, len(probs), len(labels))
	}
	if len(probs) == 0 {
		return domain.SourcePrediction{}, fmt.Errorf("source %s: empty probability vector", sourceID)
	}

	best := 0
	dist := make(map[string]float64, len(labels))
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return domain.SourcePrediction{}, fmt.Errorf("source %s: probability %v outside [0,1]", sourceID, p)
		}
		dist[labels[i]] = p
		if p > probs[best] {
			best = i
		}
	}
	confidence := probs[best]
	return domain.SourcePrediction{
		SourceID:      sourceID,
		Label:         labels[best],
		Confidence:    &confidence,
		Probabilities: dist,
	}, nil
}
