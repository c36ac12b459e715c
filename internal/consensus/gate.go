package consensus

import (
	"math"

	"github.com/linuzri/polymarket-bot/internal/domain"
)

// NoAction is the category emitted by continuous ensembles when the gate
// rejects the consensus.
const NoAction = "NO_ACTION"

// edgeTolerance absorbs float rounding when |edge| sits exactly on MinEdge.
const edgeTolerance = 1e-9

// Gate decides whether a consensus is strong enough to act on. It is kept
// apart from the Aggregator so each deployment can tune it independently.
type Gate struct {
	MinAgreementCount int
	MinTotalSources   int
	MinEdge           float64
	MinConfidence     float64
	// KellyScale is the fractional Kelly multiplier; 0 disables sizing.
	KellyScale float64
}

func (g Gate) Validate() error {
	if g.MinAgreementCount < 0 {
		return domain.NewConfigError("min_agreement_count", "must be >= 0, got %d", g.MinAgreementCount)
	}
	if g.MinTotalSources < 0 {
		return domain.NewConfigError("min_total_sources", "must be >= 0, got %d", g.MinTotalSources)
	}
	if !inUnitInterval(g.MinEdge) {
		return domain.NewConfigError("min_edge", "must be within [0,1], got %v", g.MinEdge)
	}
	if !inUnitInterval(g.MinConfidence) {
		return domain.NewConfigError("min_confidence", "must be within [0,1], got %v", g.MinConfidence)
	}
	if !inUnitInterval(g.KellyScale) {
		return domain.NewConfigError("kelly_scale", "must be within [0,1], got %v", g.KellyScale)
	}
	return nil
}

// Decision is the gate's verdict. Edge is nil without a reference price.
type Decision struct {
	Category   string
	Actionable bool
	Edge       *float64
	Kelly      *float64
}

// Decide applies the thresholds to an aggregate. A rejected consensus emits
// neutral as its category; the aggregate itself stays available for audit.
func (g Gate) Decide(agg Aggregate, neutral string, reference *float64) Decision {
	actionable := agg.AgreementCount >= g.MinAgreementCount && agg.Total >= g.MinTotalSources
	if g.MinConfidence > 0 && agg.Confidence < g.MinConfidence {
		actionable = false
	}

	var edge *float64
	if reference != nil {
		e := agg.Confidence - *reference
		edge = &e
		if math.Abs(e) < g.MinEdge-edgeTolerance {
			actionable = false
		}
	}

	d := Decision{Category: agg.Category, Actionable: actionable, Edge: edge}
	if !actionable {
		d.Category = neutral
		return d
	}
	if reference != nil && g.KellyScale > 0 {
		if k, ok := kellyFraction(agg.Confidence, *reference); ok {
			k *= g.KellyScale
			d.Kelly = &k
		}
	}
	return d
}

// kellyFraction is the full Kelly stake for a binary contract bought at
// price with win probability p: (p*b - (1-p)) / b where b = 1/price - 1.
func kellyFraction(p, price float64) (float64, bool) {
	if price <= 0 || price >= 1 {
		return 0, false
	}
	b := 1/price - 1
	k := (p*b - (1 - p)) / b
	if k < 0 {
		k = 0
	}
	return k, true
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
