// Package httpeval calls remote evaluators that accept a JSON POST of one
// branch and reply with its scores.
package httpeval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	cfotel "github.com/Strob0t/Boardroom/internal/adapter/otel"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/logger"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
)

const maxResponseBytes = 1 << 20

// Client is an evaluator reachable over HTTP(S). Timeouts come from the
// caller's context.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for endpoint. A nil httpClient uses one with
// the otelhttp transport.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: cfotel.Transport(nil)}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

// Evaluate posts the branch and decodes the reply.
func (c *Client) Evaluate(ctx context.Context, t *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error) {
	body, err := json.Marshal(evaluator.NewRequest(t, b))
	if err != nil {
		return nil, fmt.Errorf("marshal evaluate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("evaluator %s returned %d: %s", c.endpoint, resp.StatusCode, bytes.TrimSpace(data))
	}

	var out evaluator.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode evaluator response: %w", err)
	}
	return out.Score()
}

// Factory builds HTTP evaluators sharing one http.Client.
type Factory struct {
	HTTPClient *http.Client
}

// New implements evaluator.Factory.
func (f Factory) New(reg evaluator.Registration) (evaluator.Evaluator, error) {
	scheme, err := reg.Scheme()
	if err != nil {
		return nil, err
	}
	if scheme != evaluator.SchemeHTTP && scheme != evaluator.SchemeHTTPS {
		return nil, fmt.Errorf("http factory cannot serve %s endpoint %q", scheme, reg.Endpoint)
	}
	return NewClient(reg.Endpoint, f.HTTPClient), nil
}
