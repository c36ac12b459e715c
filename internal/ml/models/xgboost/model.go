package xgboost

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

type TrainOptions struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

type artifact struct {
	Classes      int      `json:"classes"`
	FeatureNames []string `json:"feature_names"`
	ModelText    string   `json:"model_text"`
}

// Model is a gradient-boosted multi-class classifier. Class indices follow
// the label order used at training time.
type Model struct {
	classes      int
	featureNames []string
	boost        *boo.MultiClass
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Rounds:       40,
		LearningRate: 0.1,
		MaxDepth:     4,
	}
}

func Train(samples [][]float64, labels []int, classes int, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	if len(samples[0]) == 0 {
		return nil, errors.New("empty feature vectors")
	}
	seen := make(map[int]struct{}, classes)
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("label %d at row %d outside [0,%d)", l, i, classes)
		}
		seen[l] = struct{}{}
	}
	if len(seen) < 2 {
		return nil, errors.New("xgboost requires at least two classes")
	}
	def := DefaultTrainOptions()
	if opts.Rounds <= 0 {
		opts.Rounds = def.Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = def.LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if len(featureNames) != len(samples[0]) {
		featureNames = make([]string, len(samples[0]))
		for i := range featureNames {
			featureNames[i] = fmt.Sprintf("f%d", i)
		}
	}

	o := boo.DefaultXOptions()
	o.Rounds = opts.Rounds
	o.LearningRate = opts.LearningRate
	o.MaxDepth = opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	data := &utils.DataBunch{
		Data:   samples,
		Labels: append([]int(nil), labels...),
		Keys:   featureNames,
	}
	model := boo.NewMultiClass(data, o)
	if model == nil {
		return nil, errors.New("failed to train xgboost model")
	}
	return &Model{
		classes:      classes,
		featureNames: append([]string(nil), featureNames...),
		boost:        model,
	}, nil
}

// PredictProba maps the booster's output onto a dense vector indexed by
// class. Classes absent from training get probability 0.
func (m *Model) PredictProba(sample []float64) ([]float64, error) {
	if m == nil || m.boost == nil {
		return nil, errors.New("nil model")
	}
	if len(sample) != len(m.featureNames) {
		return nil, fmt.Errorf("expected %d features, got %d", len(m.featureNames), len(sample))
	}
	raw := m.boost.PredictSingle(sample)
	labels := m.boost.ClassLabels()

	out := make([]float64, m.classes)
	sum := 0.0
	for i := range raw {
		if i >= len(labels) || labels[i] < 0 || labels[i] >= m.classes {
			continue
		}
		p := clamp01(raw[i])
		out[labels[i]] = p
		sum += p
	}
	if sum <= 0 {
		return nil, errors.New("booster returned no usable probabilities")
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

func (m *Model) Classes() int {
	if m == nil {
		return 0
	}
	return m.classes
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil || m.boost == nil {
		return nil, errors.New("nil model")
	}
	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		Classes:      m.classes,
		FeatureNames: m.featureNames,
		ModelText:    buf.String(),
	})
}

func UnmarshalBinary(blob []byte) (*Model, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return nil, err
	}
	if a.Classes < 2 {
		return nil, errors.New("invalid artifact: class count")
	}
	model, err := boo.UnJSONMultiClass(bufio.NewReader(bytes.NewReader([]byte(a.ModelText))))
	if err != nil {
		return nil, err
	}
	return &Model{
		classes:      a.Classes,
		featureNames: append([]string(nil), a.FeatureNames...),
		boost:        model,
	}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.featureNames))
	copy(out, m.featureNames)
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
