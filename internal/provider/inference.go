package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InferenceClient asks a remote model server for class probabilities. The
// server hosts one model per (instrument, source).
type InferenceClient struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
}

func NewInferenceClient(tracer trace.Tracer, baseURL string) *InferenceClient {
	return &InferenceClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
	}
}

type predictRequest struct {
	Instrument string    `json:"instrument"`
	Source     string    `json:"source"`
	Features   []float64 `json:"features"`
}

type predictResponse struct {
	Probabilities []float64 `json:"probabilities"`
}

func (c *InferenceClient) Predict(ctx context.Context, instrument, source string, features []float64) ([]float64, error) {
	ctx, span := c.tracer.Start(ctx, "model-server.predict",
		trace.WithAttributes(attribute.String("instrument", instrument), attribute.String("source", source)))
	defer span.End()

	payload, err := json.Marshal(predictRequest{Instrument: instrument, Source: source, Features: features})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := doRequest(ctx, c.client, nil, "model-server", req)
	if err != nil {
		return nil, fmt.Errorf("predict %s/%s: %w", instrument, source, err)
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse prediction %s/%s: %w", instrument, source, err)
	}
	if len(out.Probabilities) == 0 {
		return nil, fmt.Errorf("model server returned no probabilities for %s/%s", instrument, source)
	}
	return out.Probabilities, nil
}
