package training

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/linuzri/polymarket-bot/internal/ml/inference"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

var labels = []string{"SELL", "BUY", "HOLD"}

// clusters returns three well separated blobs, interleaved so both halves
// of a chronological split see every class.
func clusters(n int) Dataset {
	rng := rand.New(rand.NewSource(7))
	centers := [][2]float64{{-3, -3}, {3, 3}, {3, -3}}
	ds := Dataset{FeatureNames: []string{"x1", "x2"}}
	for i := 0; i < n; i++ {
		c := i % 3
		ds.Samples = append(ds.Samples, []float64{
			centers[c][0] + rng.NormFloat64()*0.5,
			centers[c][1] + rng.NormFloat64()*0.5,
		})
		ds.Labels = append(ds.Labels, c)
	}
	return ds
}

func TestReadCSV(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader("rsi,macd,label\n30,0.1,buy\n70,-0.2,SELL\n50,0,HOLD\n"), labels)
	require.NoError(t, err)
	assert.Equal(t, []string{"rsi", "macd"}, ds.FeatureNames)
	assert.Equal(t, [][]float64{{30, 0.1}, {70, -0.2}, {50, 0}}, ds.Samples)
	assert.Equal(t, []int{1, 0, 2}, ds.Labels)
}

func TestReadCSVRejectsBadInput(t *testing.T) {
	for name, raw := range map[string]string{
		"no label column": "a,b\n1,2\n",
		"no rows":         "a,label\n",
		"bad number":      "a,label\nx,BUY\n",
		"unknown label":   "a,label\n1,MOON\n",
		"ragged":          "a,label\n1,BUY,3\n",
		"only label":      "label\nBUY\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(raw), labels)
			assert.Error(t, err)
		})
	}
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, inference.KindLogReg, KindFor("logreg"))
	assert.Equal(t, inference.KindLogReg, KindFor("LR"))
	assert.Equal(t, inference.KindXGBoost, KindFor("xgb"))
	assert.Equal(t, inference.KindXGBoost, KindFor("rf"))
}

func TestTrainInstrumentWritesLoadableArtifacts(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(testTracer, Config{ArtifactDir: dir, MinTrainSamples: 30})

	results, err := svc.TrainInstrument(context.Background(), "BTCUSD", labels, []string{"logreg", "xgb"}, clusters(150))
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.Equal(t, 120, r.SampleCount)
		assert.Equal(t, 30, r.TestCount)
		assert.GreaterOrEqual(t, r.Accuracy, 0.9, r.Source)
		_, err := os.Stat(r.Path)
		require.NoError(t, err)
	}
	assert.Equal(t, inference.KindLogReg, results[0].Kind)
	assert.Equal(t, inference.KindXGBoost, results[1].Kind)

	provider, err := inference.LoadDir(testTracer, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"logreg", "xgb"}, provider.Sources("btcusd"))

	probs, err := provider.Predict(context.Background(), "BTCUSD", "logreg", []float64{3, 3})
	require.NoError(t, err)
	pred, err := inference.ToPrediction("logreg", labels, probs)
	require.NoError(t, err)
	assert.Equal(t, "BUY", pred.Label)
}

func TestTrainInstrumentGuards(t *testing.T) {
	svc := NewService(testTracer, Config{ArtifactDir: t.TempDir()})

	_, err := svc.TrainInstrument(context.Background(), "BTCUSD", labels, []string{"xgb"}, clusters(20))
	assert.ErrorContains(t, err, "not enough labeled samples")

	_, err = svc.TrainInstrument(context.Background(), "BTCUSD", labels, nil, clusters(150))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.TrainInstrument(ctx, "BTCUSD", labels, []string{"xgb"}, clusters(150))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChronologicalSplit(t *testing.T) {
	samples := make([][]float64, 10)
	lbls := make([]int, 10)
	for i := range samples {
		samples[i] = []float64{float64(i)}
		lbls[i] = i
	}
	trX, trY, teX, teY := chronologicalSplit(samples, lbls, 0.2)
	assert.Len(t, trX, 8)
	assert.Len(t, teX, 2)
	assert.Equal(t, 8, teY[0])
	assert.Equal(t, 7, trY[len(trY)-1])
	assert.Equal(t, fmt.Sprint([]float64{9}), fmt.Sprint(teX[1]))
}
