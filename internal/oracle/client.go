package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Client is an HTTP client for a price-feed service exposing a Pyth-style
// REST surface: POST /v1/updates to submit proofs, GET /v1/price/{feed} to
// read the latest value.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a feed service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

var _ PriceOracle = (*Client)(nil)

// refreshRequest is the proof submission envelope.
type refreshRequest struct {
	Updates []string `json:"updates"` // hex-encoded proof blobs
}

type refreshResponse struct {
	FeeOwed int64 `json:"feeOwed"`
}

// priceResponse is the feed read envelope.
type priceResponse struct {
	FeedRef     string `json:"feedRef"`
	Value       int64  `json:"value"`
	Confidence  uint64 `json:"confidence"`
	Exponent    int32  `json:"exponent"`
	PublishedAt int64  `json:"publishedAt"` // unix seconds
}

// Refresh submits the update proofs and returns the fee the service charges
// for applying them.
func (c *Client) Refresh(ctx context.Context, proof [][]byte) (int64, error) {
	updates := make([]string, len(proof))
	for i, p := range proof {
		updates[i] = hex.EncodeToString(p)
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/v1/updates", refreshRequest{Updates: updates})
	if err != nil {
		return 0, fmt.Errorf("oracle: refresh: %w", err)
	}

	var resp refreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("oracle: decode refresh response: %w", err)
	}
	return resp.FeeOwed, nil
}

// GetPrice reads the latest value for the feed and enforces the staleness
// bound client-side against the published timestamp.
func (c *Client) GetPrice(ctx context.Context, feedRef string, maxStaleness time.Duration) (Price, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/v1/price/"+url.PathEscape(feedRef), nil)
	if err != nil {
		return Price{}, fmt.Errorf("oracle: get price: %w", err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Price{}, fmt.Errorf("oracle: decode price response: %w", err)
	}

	publishedAt := time.Unix(resp.PublishedAt, 0)
	if time.Since(publishedAt) > maxStaleness {
		return Price{}, fmt.Errorf("oracle: %s published %s ago: %w", feedRef, time.Since(publishedAt).Round(time.Second), domain.ErrStalePrice)
	}

	return Price{
		FeedRef:     resp.FeedRef,
		Value:       resp.Value,
		Confidence:  resp.Confidence,
		Exponent:    resp.Exponent,
		PublishedAt: publishedAt,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doJSON executes one request against the feed service and returns the raw
// response body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
