package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitIsValid(t *testing.T) {
	assert.True(t, UnitFahrenheit.IsValid())
	assert.True(t, UnitCelsius.IsValid())
	assert.False(t, Unit("K").IsValid())
	assert.False(t, Unit("").IsValid())
}

func TestSourcePredictionKind(t *testing.T) {
	v := 71.5
	label := SourcePrediction{SourceID: "rf", Label: LabelBuy}
	value := SourcePrediction{SourceID: "gfs", Value: &v, Unit: UnitFahrenheit}
	both := SourcePrediction{SourceID: "bad", Label: LabelBuy, Value: &v}

	assert.True(t, label.IsLabel())
	assert.False(t, label.IsContinuous())
	assert.True(t, value.IsContinuous())
	assert.False(t, value.IsLabel())
	assert.False(t, both.IsLabel())
	assert.False(t, both.IsContinuous())
}

func TestBucketHalfOpen(t *testing.T) {
	b := Bucket{Base: 70, Step: 2, Unit: UnitFahrenheit}
	assert.Equal(t, 72.0, b.Upper())
	assert.True(t, b.Contains(70))
	assert.True(t, b.Contains(71.99))
	assert.False(t, b.Contains(72))
	assert.False(t, b.Contains(69.99))
}

func TestNewEvaluationOutcome(t *testing.T) {
	result := ConsensusResult{InstantID: "2026-03-05", Instrument: "NYC", Actionable: true}
	e := NewEvaluation(result)
	assert.Equal(t, OutcomeActionable, e.Outcome)
	require.NotNil(t, e.Result)
	assert.Equal(t, "NYC", e.Instrument)

	result.Actionable = false
	e = NewEvaluation(result)
	assert.Equal(t, OutcomeNotActionable, e.Outcome)
	assert.Empty(t, e.Reason)
}

func TestNoResult(t *testing.T) {
	e := NoResult("2026-03-05", "London", &InsufficientDataError{InstantID: "2026-03-05", Usable: 1, Required: 3})
	assert.Equal(t, OutcomeNoResult, e.Outcome)
	assert.Nil(t, e.Result)
	assert.Contains(t, e.Reason, "1 usable sources, need 3")

	assert.Equal(t, "no result", NoResult("x", "y", nil).Reason)
}

func TestBatchActionableCount(t *testing.T) {
	b := Batch{Evaluations: []Evaluation{
		NewEvaluation(ConsensusResult{Actionable: true}),
		NewEvaluation(ConsensusResult{}),
		NoResult("i", "x", nil),
		NewEvaluation(ConsensusResult{Actionable: true}),
	}}
	assert.Equal(t, 2, b.ActionableCount())
	assert.Zero(t, Batch{}.ActionableCount())
}

func TestErrorTaxonomy(t *testing.T) {
	cfgErr := NewConfigError("min_edge", "must be >= 0, got %v", -0.1)
	assert.ErrorIs(t, cfgErr, ErrConfig)
	assert.Equal(t, "config error: min_edge: must be >= 0, got -0.1", cfgErr.Error())
	assert.Equal(t, "config error: bad", (&ConfigError{Reason: "bad"}).Error())

	wrapped := fmt.Errorf("evaluate: %w", &InsufficientDataError{InstantID: "i", Usable: 0, Required: 2})
	assert.ErrorIs(t, wrapped, ErrInsufficientData)
	assert.NotErrorIs(t, wrapped, ErrConfig)
	var insufficient *InsufficientDataError
	require.ErrorAs(t, wrapped, &insufficient)
	assert.Equal(t, 2, insufficient.Required)

	fetchErr := &SourceFetchError{SourceID: "gfs", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, fetchErr, ErrSourceFetch)
	assert.True(t, errors.Is(fetchErr, context.DeadlineExceeded))
	assert.Equal(t, "source gfs: context deadline exceeded", fetchErr.Error())
}
