package consensus

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/linuzri/polymarket-bot/internal/domain"
)

// ErrNonFinite is returned when a NaN or infinite value reaches the normalizer.
var ErrNonFinite = errors.New("non-finite value")

// Normalize places value in the half-open bucket [base, base+step) with base
// a multiple of step. Rounding is toward negative infinity, so -0.3 with a
// step of 1 lands in [-1, 0).
func Normalize(value float64, unit domain.Unit, step float64) (domain.Bucket, error) {
	if !unit.IsValid() {
		return domain.Bucket{}, domain.NewConfigError("unit", "unsupported unit %q", unit)
	}
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return domain.Bucket{}, domain.NewConfigError("step", "bucket step must be a positive finite number, got %v", step)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.Bucket{}, ErrNonFinite
	}

	base := math.Floor(value/step) * step
	// value/step can round across an integer boundary for steps that are not
	// powers of two
	if value < base {
		base -= step
	} else if value >= base+step {
		base += step
	}
	if base == 0 {
		base = 0 // drop negative zero
	}

	return domain.Bucket{
		Base:  base,
		Step:  step,
		Unit:  unit,
		Label: bucketLabel(base, step, unit),
	}, nil
}

func bucketLabel(base, step float64, unit domain.Unit) string {
	return fmt.Sprintf("%s-%s°%s", formatBound(base), formatBound(base+step), unit)
}

func formatBound(v float64) string {
	v = math.Round(v*1e9) / 1e9
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ConvertTemperature converts v between Fahrenheit and Celsius.
func ConvertTemperature(v float64, from, to domain.Unit) (float64, error) {
	if !from.IsValid() {
		return 0, domain.NewConfigError("unit", "unsupported unit %q", from)
	}
	if !to.IsValid() {
		return 0, domain.NewConfigError("unit", "unsupported unit %q", to)
	}
	switch {
	case from == to:
		return v, nil
	case from == domain.UnitCelsius:
		return v*9.0/5.0 + 32.0, nil
	default:
		return (v - 32.0) * 5.0 / 9.0, nil
	}
}

// Calibration holds the per-location (or per-instrument) bucket parameters.
// Bias is additive and expressed in Unit.
type Calibration struct {
	Unit domain.Unit
	Step float64
	Bias float64
}

func (c Calibration) Validate() error {
	if !c.Unit.IsValid() {
		return domain.NewConfigError("unit", "unsupported unit %q", c.Unit)
	}
	if c.Step <= 0 || math.IsNaN(c.Step) || math.IsInf(c.Step, 0) {
		return domain.NewConfigError("step", "bucket step must be a positive finite number, got %v", c.Step)
	}
	if math.IsNaN(c.Bias) || math.IsInf(c.Bias, 0) {
		return domain.NewConfigError("bias", "bias must be finite, got %v", c.Bias)
	}
	return nil
}

// Adjust converts a raw reading into the calibration unit and adds the bias.
// An empty unit means the reading is already in the calibration unit.
func (c Calibration) Adjust(value float64, unit domain.Unit) (float64, error) {
	if unit == "" {
		unit = c.Unit
	}
	converted, err := ConvertTemperature(value, unit, c.Unit)
	if err != nil {
		return 0, err
	}
	return converted + c.Bias, nil
}

// Apply adjusts the prediction's value exactly once and buckets it. The
// adjusted value is returned for the audit breakdown.
func (c Calibration) Apply(p domain.SourcePrediction) (domain.Bucket, float64, error) {
	if p.Value == nil {
		return domain.Bucket{}, 0, fmt.Errorf("source %s has no continuous value", p.SourceID)
	}
	adjusted, err := c.Adjust(*p.Value, p.Unit)
	if err != nil {
		return domain.Bucket{}, 0, err
	}
	bucket, err := Normalize(adjusted, c.Unit, c.Step)
	if err != nil {
		return domain.Bucket{}, 0, err
	}
	return bucket, adjusted, nil
}
