package consensus

import "github.com/linuzri/polymarket-bot/internal/domain"

// ReportInput carries everything BuildReport needs. Sources keeps the
// original source order, including excluded sources.
type ReportInput struct {
	InstantID  string
	Instrument string
	Sources    []domain.SourceBreakdown
	Aggregate  Aggregate
	Decision   Decision
	Reference  *float64
}

// BuildReport assembles an immutable ConsensusResult. Every slice and pointer
// is copied so the result shares no memory with its inputs.
func BuildReport(in ReportInput) domain.ConsensusResult {
	perSource := make([]domain.SourceBreakdown, len(in.Sources))
	for i, s := range in.Sources {
		row := domain.SourceBreakdown{
			SourceID:   s.SourceID,
			Category:   s.Category,
			RawValue:   copyFloat(s.RawValue),
			Adjusted:   copyFloat(s.Adjusted),
			Confidence: copyFloat(s.Confidence),
			Included:   s.Included,
			Reason:     s.Reason,
		}
		row.Agrees = s.Included && s.Category == in.Aggregate.Plurality
		perSource[i] = row
	}

	return domain.ConsensusResult{
		InstantID:       in.InstantID,
		Instrument:      in.Instrument,
		Mode:            in.Aggregate.Mode,
		Signal:          in.Decision.Category,
		WinningCategory: in.Aggregate.Category,
		Plurality:       in.Aggregate.Plurality,
		AgreementCount:  in.Aggregate.AgreementCount,
		TotalSources:    in.Aggregate.Total,
		Confidence:      in.Aggregate.Confidence,
		Actionable:      in.Decision.Actionable,
		ReferencePrice:  copyFloat(in.Reference),
		Edge:            copyFloat(in.Decision.Edge),
		KellyFraction:   copyFloat(in.Decision.Kelly),
		PerSource:       perSource,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
