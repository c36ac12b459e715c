package consensus

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNegativeRoundsDown(t *testing.T) {
	b, err := Normalize(-0.5, domain.UnitCelsius, 1)
	require.NoError(t, err)
	assert.Equal(t, "-1-0°C", b.Label)
	assert.Equal(t, -1.0, b.Base)

	b, err = Normalize(-0.3, domain.UnitCelsius, 1)
	require.NoError(t, err)
	assert.Equal(t, "-1-0°C", b.Label)

	b, err = Normalize(-2, domain.UnitCelsius, 1)
	require.NoError(t, err)
	assert.Equal(t, "-2--1°C", b.Label)
}

func TestNormalizeFahrenheitStep(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{33.9, "32-34°F"},
		{34, "34-36°F"},
		{0, "0-2°F"},
		{-0.1, "-2-0°F"},
		{71.3, "70-72°F"},
	}
	for _, tc := range cases {
		b, err := Normalize(tc.value, domain.UnitFahrenheit, 2)
		require.NoError(t, err)
		assert.Equal(t, tc.want, b.Label, "value %v", tc.value)
	}
}

func TestNormalizeNegativeZero(t *testing.T) {
	b, err := Normalize(math.Copysign(0, -1), domain.UnitCelsius, 1)
	require.NoError(t, err)
	assert.Equal(t, "0-1°C", b.Label)
}

func TestNormalizeRejectsBadConfig(t *testing.T) {
	_, err := Normalize(10, domain.Unit("K"), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = Normalize(10, domain.UnitCelsius, 0)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = Normalize(math.NaN(), domain.UnitCelsius, 1)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestNormalizeContainsValueProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	steps := []float64{0.5, 1, 2, 5, 0.1}
	units := []domain.Unit{domain.UnitCelsius, domain.UnitFahrenheit}

	for i := 0; i < 20000; i++ {
		value := (rng.Float64() - 0.5) * 400
		step := steps[rng.Intn(len(steps))]
		unit := units[rng.Intn(len(units))]

		b, err := Normalize(value, unit, step)
		require.NoError(t, err)
		require.Truef(t, b.Contains(value), "value %v not in [%v,%v) step %v", value, b.Base, b.Upper(), step)

		k := b.Base / step
		require.InDeltaf(t, math.Round(k), k, 1e-6, "base %v not a multiple of step %v", b.Base, step)
	}
}

func TestNormalizeBucketsTileProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, step := range []float64{0.5, 1, 2} {
		for i := 0; i < 2000; i++ {
			value := (rng.Float64() - 0.5) * 200
			b, err := Normalize(value, domain.UnitCelsius, step)
			require.NoError(t, err)

			// The upper bound starts the next bucket; just below the base is the previous one.
			next, err := Normalize(b.Upper(), domain.UnitCelsius, step)
			require.NoError(t, err)
			assert.Equal(t, b.Upper(), next.Base)

			prev, err := Normalize(math.Nextafter(b.Base, math.Inf(-1)), domain.UnitCelsius, step)
			require.NoError(t, err)
			assert.Equal(t, b.Base, prev.Upper())
		}
	}
}

func TestCalibrationAppliesBiasOnce(t *testing.T) {
	cal := Calibration{Unit: domain.UnitFahrenheit, Step: 2, Bias: 1}
	v := 20.0
	b, adjusted, err := cal.Apply(domain.SourcePrediction{SourceID: "gfs", Value: &v, Unit: domain.UnitCelsius})
	require.NoError(t, err)
	assert.InDelta(t, 69.0, adjusted, 1e-9)
	assert.Equal(t, "68-70°F", b.Label)
	assert.Equal(t, 20.0, v)

	c := Calibration{Unit: domain.UnitCelsius, Step: 1, Bias: 0.5}
	raw := -0.7
	b, adjusted, err = c.Apply(domain.SourcePrediction{SourceID: "icon", Value: &raw})
	require.NoError(t, err)
	assert.InDelta(t, -0.2, adjusted, 1e-9)
	assert.Equal(t, "-1-0°C", b.Label)
}

func TestCalibrationValidate(t *testing.T) {
	assert.NoError(t, Calibration{Unit: domain.UnitCelsius, Step: 1}.Validate())
	assert.ErrorIs(t, Calibration{Unit: "X", Step: 1}.Validate(), domain.ErrConfig)
	assert.ErrorIs(t, Calibration{Unit: domain.UnitCelsius, Step: -1}.Validate(), domain.ErrConfig)
	assert.ErrorIs(t, Calibration{Unit: domain.UnitCelsius, Step: 1, Bias: math.Inf(1)}.Validate(), domain.ErrConfig)
}

func TestConvertTemperature(t *testing.T) {
	f, err := ConvertTemperature(100, domain.UnitCelsius, domain.UnitFahrenheit)
	require.NoError(t, err)
	assert.InDelta(t, 212.0, f, 1e-9)

	c, err := ConvertTemperature(32, domain.UnitFahrenheit, domain.UnitCelsius)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, c, 1e-9)
}
