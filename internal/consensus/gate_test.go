package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAgreementThreshold(t *testing.T) {
	g := Gate{MinAgreementCount: 3, MinTotalSources: 3}
	agg := Aggregate{Category: "40-42°F", AgreementCount: 3, Total: 4, Confidence: 0.75}

	d := g.Decide(agg, NoAction, nil)
	assert.True(t, d.Actionable)
	assert.Equal(t, "40-42°F", d.Category)
	assert.Nil(t, d.Edge)

	agg.AgreementCount = 2
	d = g.Decide(agg, NoAction, nil)
	assert.False(t, d.Actionable)
	assert.Equal(t, NoAction, d.Category)
}

func TestGateMinTotalSources(t *testing.T) {
	g := Gate{MinAgreementCount: 2, MinTotalSources: 3}
	d := g.Decide(Aggregate{Category: "A", AgreementCount: 2, Total: 2, Confidence: 1}, NoAction, nil)
	assert.False(t, d.Actionable)
}

func TestGateEdgeSign(t *testing.T) {
	ref := 0.25
	agg := Aggregate{Category: "A", AgreementCount: 3, Total: 3, Confidence: 0.8}

	d := Gate{MinEdge: 0.5}.Decide(agg, NoAction, &ref)
	require.NotNil(t, d.Edge)
	assert.InDelta(t, 0.55, *d.Edge, 1e-12)
	assert.True(t, d.Actionable)

	d = Gate{MinEdge: 0.6}.Decide(agg, NoAction, &ref)
	assert.False(t, d.Actionable)
	assert.Equal(t, NoAction, d.Category)
	require.NotNil(t, d.Edge)
	assert.InDelta(t, 0.55, *d.Edge, 1e-12)

	high := 0.95
	d = Gate{}.Decide(agg, NoAction, &high)
	assert.Less(t, *d.Edge, 0.0)
}

func TestGateMinConfidence(t *testing.T) {
	g := Gate{MinAgreementCount: 2, MinTotalSources: 2, MinConfidence: 0.55}
	d := g.Decide(Aggregate{Category: "BUY", AgreementCount: 2, Total: 3, Confidence: 0.5}, "HOLD", nil)
	assert.False(t, d.Actionable)
	assert.Equal(t, "HOLD", d.Category)

	d = g.Decide(Aggregate{Category: "BUY", AgreementCount: 2, Total: 3, Confidence: 0.6}, "HOLD", nil)
	assert.True(t, d.Actionable)
}

func TestGateKellySizing(t *testing.T) {
	ref := 0.25
	g := Gate{KellyScale: 0.25}
	d := g.Decide(Aggregate{Category: "A", AgreementCount: 3, Total: 4, Confidence: 0.75}, NoAction, &ref)
	require.True(t, d.Actionable)
	require.NotNil(t, d.Kelly)
	// b = 3, full kelly = (0.75*3 - 0.25)/3 = 2/3
	assert.InDelta(t, 0.25*2.0/3.0, *d.Kelly, 1e-12)

	d = Gate{}.Decide(Aggregate{Category: "A", AgreementCount: 3, Total: 4, Confidence: 0.75}, NoAction, &ref)
	assert.Nil(t, d.Kelly)
}

func TestGateValidate(t *testing.T) {
	assert.NoError(t, Gate{MinAgreementCount: 3, MinTotalSources: 3, MinEdge: 0.15}.Validate())
	assert.Error(t, Gate{MinAgreementCount: -1}.Validate())
	assert.Error(t, Gate{MinEdge: 1.5}.Validate())
	assert.Error(t, Gate{MinConfidence: -0.1}.Validate())
}
