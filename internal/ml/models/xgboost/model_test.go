package xgboost

import (
	"math"
	"testing"
)

func TestTrainPredictAndRoundTrip(t *testing.T) {
	samples, labels := dataset()
	model, err := Train(samples, labels, 3, []string{"x1", "x2"}, DefaultTrainOptions())
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}

	probs, err := model.PredictProba([]float64{2.3, 2.3})
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if len(probs) != 3 {
		t.Fatalf("expected 3 class probabilities, got %d", len(probs))
	}
	sum := 0.0
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability out of range: %v", probs)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("expected normalized probabilities, sum %.6f", sum)
	}
	if probs[1] <= probs[0] {
		t.Fatalf("expected class 1 to dominate near its cluster, got %v", probs)
	}

	blob, err := model.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	restored, err := UnmarshalBinary(blob)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if restored.Classes() != 3 {
		t.Fatalf("expected 3 classes after roundtrip, got %d", restored.Classes())
	}
	if _, err := restored.PredictProba([]float64{2.3, 2.3}); err != nil {
		t.Fatalf("roundtrip predict failed: %v", err)
	}
}

func TestTrainRejectsSingleClass(t *testing.T) {
	_, err := Train([][]float64{{1}, {2}}, []int{0, 0}, 3, nil, DefaultTrainOptions())
	if err == nil {
		t.Fatal("expected single-class error")
	}
}

func TestPredictProbaRejectsWrongWidth(t *testing.T) {
	samples, labels := dataset()
	model, err := Train(samples, labels, 3, nil, TrainOptions{Rounds: 5})
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if _, err := model.PredictProba([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected feature width error")
	}
}

func dataset() ([][]float64, []int) {
	centers := [][]float64{{-2, -2}, {2, 2}, {2, -2}}
	samples := make([][]float64, 0, 150)
	labels := make([]int, 0, 150)
	for class, c := range centers {
		for i := 0; i < 50; i++ {
			samples = append(samples, []float64{c[0] + float64(i%10)/20 - 0.25, c[1] + float64(i/10)/10 - 0.2})
			labels = append(labels, class)
		}
	}
	return samples, labels
}
