package consensus

import (
	"errors"
	"fmt"
	"math"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/rs/zerolog"
)

// PriceBook looks up the reference price of a consensus bucket. It must be
// a pure lookup; any fetching happens before the engine runs.
type PriceBook interface {
	PriceFor(bucket domain.Bucket) (float64, bool)
}

// ContinuousRequest is one evaluation of forecast-style sources.
type ContinuousRequest struct {
	InstantID   string
	Instrument  string
	Calibration Calibration
	Predictions []domain.SourcePrediction
	Gate        Gate
	Prices      PriceBook
}

// DiscreteRequest is one evaluation of classifier-style sources.
type DiscreteRequest struct {
	InstantID      string
	Instrument     string
	Labels         []string
	Neutral        string
	Predictions    []domain.SourcePrediction
	Gate           Gate
	ReferencePrice *float64
}

// Engine runs Normalizer -> Aggregator -> Decision Gate -> Report Builder in
// a single pass. It performs no I/O and holds no state between calls.
type Engine struct {
	logger zerolog.Logger
}

func NewEngine(logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{logger: logger.With().Str("component", "consensus").Logger()}
}

func (e *Engine) EvaluateContinuous(req ContinuousRequest) (domain.ConsensusResult, error) {
	if err := req.Calibration.Validate(); err != nil {
		return domain.ConsensusResult{}, err
	}
	if err := req.Gate.Validate(); err != nil {
		return domain.ConsensusResult{}, err
	}

	rows := make([]domain.SourceBreakdown, 0, len(req.Predictions))
	votes := make([]Vote, 0, len(req.Predictions))
	buckets := make(map[string]domain.Bucket, len(req.Predictions))

	for _, p := range req.Predictions {
		row := domain.SourceBreakdown{SourceID: p.SourceID, RawValue: copyFloat(p.Value)}
		if reason := continuousExclusion(p); reason != "" {
			row.Reason = reason
			e.excluded(req.InstantID, p.SourceID, reason)
			rows = append(rows, row)
			continue
		}

		bucket, adjusted, err := req.Calibration.Apply(p)
		if err != nil {
			if errors.Is(err, domain.ErrConfig) {
				return domain.ConsensusResult{}, err
			}
			row.Reason = err.Error()
			e.excluded(req.InstantID, p.SourceID, row.Reason)
			rows = append(rows, row)
			continue
		}

		row.Adjusted = &adjusted
		row.Category = bucket.Label
		row.Included = true
		rows = append(rows, row)
		votes = append(votes, Vote{SourceID: p.SourceID, Category: bucket.Label})
		buckets[bucket.Label] = bucket
	}

	if len(votes) == 0 {
		return domain.ConsensusResult{}, &domain.InsufficientDataError{InstantID: req.InstantID, Usable: 0, Required: 1}
	}

	agg, err := AggregateBuckets(votes)
	if err != nil {
		return domain.ConsensusResult{}, err
	}

	var reference *float64
	if req.Prices != nil {
		if price, ok := req.Prices.PriceFor(buckets[agg.Category]); ok {
			reference = &price
		}
	}

	decision := req.Gate.Decide(agg, NoAction, reference)
	return BuildReport(ReportInput{
		InstantID:  req.InstantID,
		Instrument: req.Instrument,
		Sources:    rows,
		Aggregate:  agg,
		Decision:   decision,
		Reference:  reference,
	}), nil
}

func (e *Engine) EvaluateDiscrete(req DiscreteRequest) (domain.ConsensusResult, error) {
	if req.Neutral == "" {
		return domain.ConsensusResult{}, domain.NewConfigError("neutral", "a neutral category is required for discrete ensembles")
	}
	allowed := make(map[string]struct{}, len(req.Labels))
	for _, l := range req.Labels {
		allowed[l] = struct{}{}
	}
	if len(allowed) > 0 {
		if _, ok := allowed[req.Neutral]; !ok {
			return domain.ConsensusResult{}, domain.NewConfigError("neutral", "neutral category %q is not in the label set", req.Neutral)
		}
	}
	if err := req.Gate.Validate(); err != nil {
		return domain.ConsensusResult{}, err
	}
	if ref := req.ReferencePrice; ref != nil && !inUnitInterval(*ref) {
		return domain.ConsensusResult{}, domain.NewConfigError("reference_price", "must be within [0,1], got %v", *ref)
	}

	rows := make([]domain.SourceBreakdown, 0, len(req.Predictions))
	votes := make([]Vote, 0, len(req.Predictions))

	for _, p := range req.Predictions {
		row := domain.SourceBreakdown{SourceID: p.SourceID, Category: p.Label}
		confidence, reason := discreteConfidence(p, allowed)
		if reason != "" {
			row.Reason = reason
			e.excluded(req.InstantID, p.SourceID, reason)
			rows = append(rows, row)
			continue
		}

		row.Confidence = &confidence
		row.Included = true
		rows = append(rows, row)
		votes = append(votes, Vote{SourceID: p.SourceID, Category: p.Label, Confidence: confidence})
	}

	if len(votes) == 0 {
		return domain.ConsensusResult{}, &domain.InsufficientDataError{InstantID: req.InstantID, Usable: 0, Required: 1}
	}

	agg, err := AggregateLabels(votes, req.Neutral)
	if err != nil {
		return domain.ConsensusResult{}, err
	}

	decision := req.Gate.Decide(agg, req.Neutral, req.ReferencePrice)
	return BuildReport(ReportInput{
		InstantID:  req.InstantID,
		Instrument: req.Instrument,
		Sources:    rows,
		Aggregate:  agg,
		Decision:   decision,
		Reference:  req.ReferencePrice,
	}), nil
}

func (e *Engine) excluded(instantID, sourceID, reason string) {
	e.logger.Warn().
		Str("instant", instantID).
		Str("source", sourceID).
		Str("reason", reason).
		Msg("source excluded from vote")
}

func continuousExclusion(p domain.SourcePrediction) string {
	switch {
	case p.Err != nil:
		return fmt.Sprintf("fetch failed: %v", p.Err)
	case !p.IsContinuous():
		return "no continuous value"
	case math.IsNaN(*p.Value) || math.IsInf(*p.Value, 0):
		return "non-finite value"
	default:
		return ""
	}
}

// discreteConfidence validates a label vote. The confidence falls back to the
// probability assigned to the label when not set explicitly.
func discreteConfidence(p domain.SourcePrediction, allowed map[string]struct{}) (float64, string) {
	if p.Err != nil {
		return 0, fmt.Sprintf("fetch failed: %v", p.Err)
	}
	if !p.IsLabel() {
		return 0, "no label"
	}
	if len(allowed) > 0 {
		if _, ok := allowed[p.Label]; !ok {
			return 0, fmt.Sprintf("unknown label %q", p.Label)
		}
	}

	var confidence float64
	switch {
	case p.Confidence != nil:
		confidence = *p.Confidence
	case p.Probabilities != nil:
		prob, ok := p.Probabilities[p.Label]
		if !ok {
			return 0, "no confidence"
		}
		confidence = prob
	default:
		return 0, "no confidence"
	}
	if !inUnitInterval(confidence) {
		return 0, fmt.Sprintf("confidence %v outside [0,1]", confidence)
	}
	return confidence, ""
}
