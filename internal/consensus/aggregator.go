package consensus

import (
	"github.com/linuzri/polymarket-bot/internal/domain"

	"gonum.org/v1/gonum/stat"
)

// Vote is one usable source's normalized category.
type Vote struct {
	SourceID   string
	Category   string
	Confidence float64
}

// Aggregate is the Aggregator's verdict. Category is what the ensemble
// reports; Plurality is the raw most-voted category kept for audit.
type Aggregate struct {
	Mode           domain.Mode
	Category       string
	Plurality      string
	AgreementCount int
	Total          int
	Confidence     float64
	Majority       bool
}

// plurality returns the most voted category. Ties go to the category that
// appears first in vote order, so identical inputs always pick the same winner.
func plurality(votes []Vote) (string, int) {
	counts := make(map[string]int, len(votes))
	order := make([]string, 0, len(votes))
	for _, v := range votes {
		if _, seen := counts[v.Category]; !seen {
			order = append(order, v.Category)
		}
		counts[v.Category]++
	}

	winner := ""
	best := 0
	for _, category := range order {
		if counts[category] > best {
			winner = category
			best = counts[category]
		}
	}
	return winner, best
}

// AggregateLabels counts discrete votes that carry their own probability.
// Without a strict majority the ensemble reports neutral with confidence 0;
// otherwise confidence is the mean confidence of the agreeing sources.
func AggregateLabels(votes []Vote, neutral string) (Aggregate, error) {
	if neutral == "" {
		return Aggregate{}, domain.NewConfigError("neutral", "a neutral category is required for discrete ensembles")
	}
	if len(votes) == 0 {
		return Aggregate{}, &domain.InsufficientDataError{Usable: 0, Required: 1}
	}

	winner, count := plurality(votes)
	agg := Aggregate{
		Mode:           domain.ModeDiscrete,
		Plurality:      winner,
		AgreementCount: count,
		Total:          len(votes),
	}
	if count*2 <= len(votes) {
		agg.Category = neutral
		agg.Confidence = 0
		return agg, nil
	}

	agreeing := make([]float64, 0, count)
	for _, v := range votes {
		if v.Category == winner {
			agreeing = append(agreeing, v.Confidence)
		}
	}
	agg.Category = winner
	agg.Majority = true
	agg.Confidence = stat.Mean(agreeing, nil)
	return agg, nil
}

// AggregateBuckets counts continuous votes. Confidence is the share of
// sources in the winning bucket; no majority is required here.
func AggregateBuckets(votes []Vote) (Aggregate, error) {
	if len(votes) == 0 {
		return Aggregate{}, &domain.InsufficientDataError{Usable: 0, Required: 1}
	}

	winner, count := plurality(votes)
	return Aggregate{
		Mode:           domain.ModeContinuous,
		Category:       winner,
		Plurality:      winner,
		AgreementCount: count,
		Total:          len(votes),
		Confidence:     float64(count) / float64(len(votes)),
		Majority:       count*2 > len(votes),
	}, nil
}
