package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davik/stock_day_trader/internal/domain"
)

// Client talks to the external advisory service. Indicator computation,
// scoring and prompt handling all live on the other side of this HTTP
// boundary; responses come back as raw JSON and are validated in usecase.
type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("advisory error %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// AssessRiskBatch submits all flagged positions in one request; the service
// answers with a symbol-keyed verdict object.
func (c *Client) AssessRiskBatch(ctx context.Context, qs []domain.RiskQuery) (json.RawMessage, error) {
	return c.post(ctx, "/v1/risk", map[string]any{"positions": qs})
}

func (c *Client) AssessOvernight(ctx context.Context, q *domain.RiskQuery) (json.RawMessage, error) {
	return c.post(ctx, "/v1/overnight", q)
}

func (c *Client) TuneStrategy(ctx context.Context, req *domain.TuneRequest) (json.RawMessage, error) {
	return c.post(ctx, "/v1/tune", req)
}

// SelectCandidates asks the scanner side of the service for entry signals.
func (c *Client) SelectCandidates(ctx context.Context, market domain.Market, budget float64, count int) ([]domain.Candidate, error) {
	raw, err := c.post(ctx, "/v1/candidates", map[string]any{
		"market": market,
		"budget": budget,
		"count":  count,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Candidates []domain.Candidate `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result.Candidates, nil
}
