package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/linuzri/polymarket-bot/internal/ml/models/logreg"
	"github.com/linuzri/polymarket-bot/internal/ml/models/xgboost"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	KindLogReg  = "logreg"
	KindXGBoost = "xgboost"
)

// ErrUnknownModel is returned for an instrument/source pair with no loaded
// artifact.
var ErrUnknownModel = errors.New("no model loaded")

type Classifier interface {
	PredictProba(sample []float64) ([]float64, error)
	Classes() int
}

// envelope is the on-disk artifact format: {instrument}_{source}.json.
type envelope struct {
	Kind  string          `json:"kind"`
	Model json.RawMessage `json:"model"`
}

// ArtifactProvider serves class probabilities from locally loaded models.
type ArtifactProvider struct {
	tracer trace.Tracer
	models map[string]Classifier
}

func NewArtifactProvider(tracer trace.Tracer, models map[string]Classifier) *ArtifactProvider {
	m := make(map[string]Classifier, len(models))
	for k, v := range models {
		m[strings.ToLower(k)] = v
	}
	return &ArtifactProvider{tracer: tracer, models: m}
}

// LoadDir reads every *.json artifact in dir. Files that fail to decode are
// skipped with a warning so one bad artifact cannot take down the others.
func LoadDir(tracer trace.Tracer, dir string) (*ArtifactProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	models := make(map[string]Classifier)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".json")
		blob, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", e.Name(), err)
		}
		model, err := Decode(blob)
		if err != nil {
			log.Warn().Err(err).Str("artifact", e.Name()).Msg("skipping model artifact")
			continue
		}
		models[key] = model
	}
	return NewArtifactProvider(tracer, models), nil
}

func Decode(blob []byte) (Classifier, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindLogReg:
		return logreg.UnmarshalBinary(env.Model)
	case KindXGBoost:
		return xgboost.UnmarshalBinary(env.Model)
	default:
		return nil, fmt.Errorf("unsupported model kind %q", env.Kind)
	}
}

// Encode wraps a serialized model in the artifact envelope.
func Encode(kind string, model []byte) ([]byte, error) {
	return json.Marshal(envelope{Kind: kind, Model: model})
}

func ArtifactKey(instrument, source string) string {
	return strings.ToLower(instrument + "_" + source)
}

func (p *ArtifactProvider) Predict(ctx context.Context, instrument, source string, features []float64) ([]float64, error) {
	_, span := p.tracer.Start(ctx, "ml-inference.predict",
		trace.WithAttributes(attribute.String("instrument", instrument), attribute.String("source", source)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	model, ok := p.models[ArtifactKey(instrument, source)]
	if !ok {
		return nil, fmt.Errorf("%w for %s/%s", ErrUnknownModel, instrument, source)
	}
	probs, err := model.PredictProba(features)
	if err != nil {
		return nil, fmt.Errorf("predict %s/%s: %w", instrument, source, err)
	}
	return probs, nil
}

// Sources lists the loaded artifact keys for instrument.
func (p *ArtifactProvider) Sources(instrument string) []string {
	prefix := strings.ToLower(instrument) + "_"
	var out []string
	for k := range p.models {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	return out
}
