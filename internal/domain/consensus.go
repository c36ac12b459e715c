package domain

import "time"

// Unit is the measurement unit of a continuous forecast.
type Unit string

const (
	UnitFahrenheit Unit = "F"
	UnitCelsius    Unit = "C"
)

func (u Unit) IsValid() bool {
	return u == UnitFahrenheit || u == UnitCelsius
}

// Mode tells which confidence formula an evaluation used.
type Mode string

const (
	ModeDiscrete   Mode = "discrete"
	ModeContinuous Mode = "continuous"
)

const (
	LabelBuy  = "BUY"
	LabelSell = "SELL"
	LabelHold = "HOLD"
)

// SourcePrediction is one predictor's output for one evaluation instant.
// Exactly one of Label or Value is populated. Err is set when the source
// could not be fetched; such a prediction never votes.
type SourcePrediction struct {
	SourceID      string             `json:"source_id"`
	Label         string             `json:"label,omitempty"`
	Value         *float64           `json:"value,omitempty"`
	Unit          Unit               `json:"unit,omitempty"`
	Confidence    *float64           `json:"confidence,omitempty"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	Err           error              `json:"-"`
}

func (p SourcePrediction) IsLabel() bool {
	return p.Label != "" && p.Value == nil
}

func (p SourcePrediction) IsContinuous() bool {
	return p.Value != nil && p.Label == ""
}

// Bucket is the half-open interval [Base, Base+Step) in Unit.
type Bucket struct {
	Base  float64 `json:"base"`
	Step  float64 `json:"step"`
	Unit  Unit    `json:"unit"`
	Label string  `json:"label"`
}

func (b Bucket) Upper() float64 {
	return b.Base + b.Step
}

func (b Bucket) Contains(v float64) bool {
	return v >= b.Base && v < b.Upper()
}

// SourceBreakdown is the audit row of one source inside a ConsensusResult.
type SourceBreakdown struct {
	SourceID   string   `json:"source_id"`
	Category   string   `json:"category,omitempty"`
	RawValue   *float64 `json:"raw_value,omitempty"`
	Adjusted   *float64 `json:"adjusted_value,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Included   bool     `json:"included"`
	Agrees     bool     `json:"agrees"`
	Reason     string   `json:"reason,omitempty"`
}

// ConsensusResult is the output of one evaluation. It is built once and
// never mutated afterwards.
type ConsensusResult struct {
	InstantID       string            `json:"instant_id"`
	Instrument      string            `json:"instrument"`
	Mode            Mode              `json:"mode"`
	Signal          string            `json:"signal"`
	WinningCategory string            `json:"winning_category"`
	Plurality       string            `json:"plurality"`
	AgreementCount  int               `json:"agreement_count"`
	TotalSources    int               `json:"total_sources"`
	Confidence      float64           `json:"confidence"`
	Actionable      bool              `json:"actionable"`
	ReferencePrice  *float64          `json:"reference_price,omitempty"`
	Edge            *float64          `json:"edge,omitempty"`
	KellyFraction   *float64          `json:"kelly_fraction,omitempty"`
	PerSource       []SourceBreakdown `json:"per_source"`
}

// Outcome classifies a batch entry. A result that was produced but not
// actionable is distinct from no result at all.
type Outcome string

const (
	OutcomeActionable    Outcome = "actionable"
	OutcomeNotActionable Outcome = "not_actionable"
	OutcomeNoResult      Outcome = "no_result"
)

// Evaluation is one instant of a batch run.
type Evaluation struct {
	InstantID  string           `json:"instant_id"`
	Instrument string           `json:"instrument"`
	Outcome    Outcome          `json:"outcome"`
	Result     *ConsensusResult `json:"result,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Batch groups the evaluations of one run.
type Batch struct {
	InstantID   string       `json:"instant_id"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
	Evaluations []Evaluation `json:"evaluations"`
}

func (b Batch) ActionableCount() int {
	n := 0
	for _, e := range b.Evaluations {
		if e.Outcome == OutcomeActionable {
			n++
		}
	}
	return n
}

func NewEvaluation(result ConsensusResult) Evaluation {
	outcome := OutcomeNotActionable
	if result.Actionable {
		outcome = OutcomeActionable
	}
	r := result
	return Evaluation{
		InstantID:  result.InstantID,
		Instrument: result.Instrument,
		Outcome:    outcome,
		Result:     &r,
	}
}

func NoResult(instantID, instrument string, err error) Evaluation {
	reason := "no result"
	if err != nil {
		reason = err.Error()
	}
	return Evaluation{
		InstantID:  instantID,
		Instrument: instrument,
		Outcome:    OutcomeNoResult,
		Reason:     reason,
	}
}

// StoredResult is a persisted consensus result.
type StoredResult struct {
	ID          int64           `json:"id"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
	Result      ConsensusResult `json:"result"`
}

// ResultFilter narrows a result listing. An empty Instrument matches all.
type ResultFilter struct {
	Instrument     string
	ActionableOnly bool
	Limit          int
}
