package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes caps upstream responses; a full Gamma event is well under this.
const maxBodyBytes = 4 << 20

type httpError struct {
	upstream string
	status   int
	body     string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.upstream, e.status, e.body)
}

func doRequest(ctx context.Context, client *http.Client, limiter *RateLimiter, upstream string, req *http.Request) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", upstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, &httpError{upstream: upstream, status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}
