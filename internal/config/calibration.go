package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/linuzri/polymarket-bot/internal/consensus"
	"github.com/linuzri/polymarket-bot/internal/domain"
)

//go:embed calibration.yaml
var defaultCalibration []byte

var validate = validator.New()

// Location is one forecast target: a weather station and the market it
// settles.
type Location struct {
	Key        string      `yaml:"key" validate:"required"`
	Latitude   float64     `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64     `yaml:"longitude" validate:"gte=-180,lte=180"`
	Station    string      `yaml:"station"`
	Unit       domain.Unit `yaml:"unit" validate:"required,oneof=F C"`
	Step       float64     `yaml:"step" validate:"gte=0"`
	Bias       float64     `yaml:"bias"`
	MarketSlug string      `yaml:"market_slug"`
}

func (l Location) Calibration() consensus.Calibration {
	return consensus.Calibration{Unit: l.Unit, Step: l.Step, Bias: l.Bias}
}

// Instrument configures a discrete ensemble. Labels are listed in class
// index order of the underlying classifiers.
type Instrument struct {
	Key     string   `yaml:"key" validate:"required"`
	Labels  []string `yaml:"labels" default:"[\"SELL\",\"BUY\",\"HOLD\"]" validate:"min=2,unique,dive,required"`
	Neutral string   `yaml:"neutral" default:"HOLD" validate:"required"`
	Sources []string `yaml:"sources" default:"[\"rf\",\"xgb\",\"lgb\"]" validate:"min=1,unique,dive,required"`
}

type GateConfig struct {
	MinAgreementCount int     `yaml:"min_agreement_count" validate:"gte=0"`
	MinTotalSources   int     `yaml:"min_total_sources" validate:"gte=0"`
	MinEdge           float64 `yaml:"min_edge" validate:"gte=0,lte=1"`
	MinConfidence     float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	KellyScale        float64 `yaml:"kelly_scale" default:"0.25" validate:"gte=0,lte=1"`
}

func (g GateConfig) Gate() consensus.Gate {
	return consensus.Gate{
		MinAgreementCount: g.MinAgreementCount,
		MinTotalSources:   g.MinTotalSources,
		MinEdge:           g.MinEdge,
		MinConfidence:     g.MinConfidence,
		KellyScale:        g.KellyScale,
	}
}

type Gates struct {
	Weather GateConfig `yaml:"weather"`
	Signal  GateConfig `yaml:"signal"`
}

// Calibration is the immutable per-process table of locations, instruments
// and decision thresholds.
type Calibration struct {
	Locations      []Location   `yaml:"locations" validate:"dive"`
	ForecastModels []string     `yaml:"forecast_models" default:"[\"best_match\",\"gfs_seamless\",\"icon_seamless\",\"ecmwf_ifs025\"]" validate:"min=1,unique,dive,required"`
	Instruments    []Instrument `yaml:"instruments" validate:"dive"`
	Gates          Gates        `yaml:"gates"`

	locations   map[string]Location
	instruments map[string]Instrument
}

// LoadCalibration reads the table from path, or the embedded default when
// path is empty.
func LoadCalibration(path string) (*Calibration, error) {
	raw := defaultCalibration
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewConfigError("calibration_file", "read %s: %v", path, err)
		}
		raw = b
	}
	return ParseCalibration(raw)
}

func ParseCalibration(raw []byte) (*Calibration, error) {
	var c Calibration
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, domain.NewConfigError("calibration", "parse yaml: %v", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, domain.NewConfigError("calibration", "apply defaults: %v", err)
	}
	for i := range c.Locations {
		if c.Locations[i].Step == 0 {
			c.Locations[i].Step = defaultStep(c.Locations[i].Unit)
		}
	}
	if err := validate.Struct(&c); err != nil {
		return nil, validationError(err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func defaultStep(unit domain.Unit) float64 {
	if unit == domain.UnitCelsius {
		return 1
	}
	return 2
}

func (c *Calibration) index() error {
	c.locations = make(map[string]Location, len(c.Locations))
	for _, l := range c.Locations {
		key := normalizeKey(l.Key)
		if _, dup := c.locations[key]; dup {
			return domain.NewConfigError("locations", "duplicate location %q", l.Key)
		}
		if err := l.Calibration().Validate(); err != nil {
			return fmt.Errorf("location %s: %w", l.Key, err)
		}
		c.locations[key] = l
	}

	c.instruments = make(map[string]Instrument, len(c.Instruments))
	for _, in := range c.Instruments {
		key := normalizeKey(in.Key)
		if _, dup := c.instruments[key]; dup {
			return domain.NewConfigError("instruments", "duplicate instrument %q", in.Key)
		}
		if !contains(in.Labels, in.Neutral) {
			return domain.NewConfigError("neutral", "instrument %s: neutral %q is not one of %v", in.Key, in.Neutral, in.Labels)
		}
		c.instruments[key] = in
	}

	if err := c.Gates.Weather.Gate().Validate(); err != nil {
		return fmt.Errorf("weather gate: %w", err)
	}
	if err := c.Gates.Signal.Gate().Validate(); err != nil {
		return fmt.Errorf("signal gate: %w", err)
	}
	return nil
}

// Location looks up a location case-insensitively.
func (c *Calibration) Location(key string) (Location, error) {
	l, ok := c.locations[normalizeKey(key)]
	if !ok {
		return Location{}, domain.NewConfigError("location", "unknown location %q", key)
	}
	return l, nil
}

func (c *Calibration) Instrument(key string) (Instrument, error) {
	in, ok := c.instruments[normalizeKey(key)]
	if !ok {
		return Instrument{}, domain.NewConfigError("instrument", "unknown instrument %q", key)
	}
	return in, nil
}

// LocationKeys returns every configured location in table order.
func (c *Calibration) LocationKeys() []string {
	keys := make([]string, 0, len(c.Locations))
	for _, l := range c.Locations {
		keys = append(keys, l.Key)
	}
	return keys
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.NewConfigError(fe.Namespace(), "failed %s=%s validation (value %v)", fe.Tag(), fe.Param(), fe.Value())
	}
	return domain.NewConfigError("calibration", "%v", err)
}
