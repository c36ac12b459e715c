package logreg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

type TrainOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

// Artifact is the serialized form of a multinomial logistic regression.
// Weights has one row per class.
type Artifact struct {
	Classes      int         `json:"classes"`
	FeatureNames []string    `json:"feature_names"`
	Weights      [][]float64 `json:"weights"`
	Biases       []float64   `json:"biases"`
	Means        []float64   `json:"means"`
	Stds         []float64   `json:"stds"`
	L2           float64     `json:"l2"`
	LearningRate float64     `json:"learning_rate"`
	Epochs       int         `json:"epochs"`
}

type Model struct {
	artifact Artifact
}

func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		LearningRate: 0.1,
		Epochs:       500,
		L2:           0.0001,
	}
}

// Train fits a softmax regression. labels are class indices in [0, classes).
func Train(samples [][]float64, labels []int, classes int, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(samples) == 0 || len(samples) != len(labels) {
		return nil, errors.New("invalid training dataset")
	}
	if len(samples[0]) == 0 {
		return nil, errors.New("empty feature vectors")
	}
	if classes < 2 {
		return nil, errors.New("at least two classes required")
	}
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, fmt.Errorf("label %d at row %d outside [0,%d)", l, i, classes)
		}
	}
	def := DefaultTrainOptions()
	if opts.LearningRate <= 0 {
		opts.LearningRate = def.LearningRate
	}
	if opts.Epochs <= 0 {
		opts.Epochs = def.Epochs
	}
	if opts.L2 < 0 {
		opts.L2 = def.L2
	}

	featCount := len(samples[0])
	means, stds := moments(samples, featCount)

	weights := make([][]float64, classes)
	for k := range weights {
		weights[k] = make([]float64, featCount)
	}
	biases := make([]float64, classes)

	xs := make([][]float64, len(samples))
	for i := range samples {
		xs[i] = normalize(samples[i], means, stds)
	}

	n := float64(len(samples))
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		grads := make([][]float64, classes)
		for k := range grads {
			grads[k] = make([]float64, featCount)
		}
		gradBias := make([]float64, classes)

		for i, x := range xs {
			p := softmax(logits(weights, biases, x))
			for k := 0; k < classes; k++ {
				err := p[k]
				if labels[i] == k {
					err -= 1
				}
				for j := range x {
					grads[k][j] += err * x[j]
				}
				gradBias[k] += err
			}
		}
		for k := 0; k < classes; k++ {
			for j := range weights[k] {
				weights[k][j] -= opts.LearningRate * (grads[k][j]/n + opts.L2*weights[k][j])
			}
			biases[k] -= opts.LearningRate * (gradBias[k] / n)
		}
	}

	if len(featureNames) != featCount {
		featureNames = defaultFeatureNames(featCount)
	}

	return &Model{artifact: Artifact{
		Classes:      classes,
		FeatureNames: append([]string(nil), featureNames...),
		Weights:      weights,
		Biases:       biases,
		Means:        means,
		Stds:         stds,
		L2:           opts.L2,
		LearningRate: opts.LearningRate,
		Epochs:       opts.Epochs,
	}}, nil
}

// PredictProba returns one probability per class, summing to 1.
func (m *Model) PredictProba(sample []float64) ([]float64, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	if len(sample) != len(m.artifact.Means) {
		return nil, fmt.Errorf("expected %d features, got %d", len(m.artifact.Means), len(sample))
	}
	x := normalize(sample, m.artifact.Means, m.artifact.Stds)
	return softmax(logits(m.artifact.Weights, m.artifact.Biases, x)), nil
}

func (m *Model) Classes() int {
	if m == nil {
		return 0
	}
	return m.artifact.Classes
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(m.artifact)
}

func UnmarshalBinary(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, errors.New("empty artifact")
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if a.Classes < 2 || len(a.Weights) != a.Classes || len(a.Biases) != a.Classes {
		return nil, errors.New("invalid artifact: class shape")
	}
	feat := len(a.Means)
	if feat == 0 || len(a.Stds) != feat {
		return nil, errors.New("invalid artifact: feature shape")
	}
	for _, row := range a.Weights {
		if len(row) != feat {
			return nil, errors.New("invalid artifact: weight shape")
		}
	}
	return &Model{artifact: a}, nil
}

func (m *Model) FeatureNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.artifact.FeatureNames))
	copy(out, m.artifact.FeatureNames)
	return out
}

func moments(samples [][]float64, featCount int) ([]float64, []float64) {
	means := make([]float64, featCount)
	stds := make([]float64, featCount)
	for j := 0; j < featCount; j++ {
		for i := range samples {
			means[j] += samples[i][j]
		}
		means[j] /= float64(len(samples))
		for i := range samples {
			d := samples[i][j] - means[j]
			stds[j] += d * d
		}
		stds[j] = math.Sqrt(stds[j] / float64(len(samples)))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}

func logits(weights [][]float64, biases []float64, x []float64) []float64 {
	out := make([]float64, len(weights))
	for k := range weights {
		out[k] = dot(weights[k], x) + biases[k]
	}
	return out
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func normalize(in, means, stds []float64) []float64 {
	out := make([]float64, len(in))
	for i := range in {
		out[i] = (in[i] - means[i]) / stds[i]
	}
	return out
}

func defaultFeatureNames(n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = fmt.Sprintf("f%d", i)
	}
	return out
}
