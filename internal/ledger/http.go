package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to a ledger gateway over HTTP. The gateway wraps the
// actual chain node; this client only understands its JSON read API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPClient creates a client for the gateway at baseURL. If timeout is
// <= 0, it defaults to 10s per call.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

type supplyResponse struct {
	Total int64 `json:"total"`
}

type mutationsResponse struct {
	ItemID    int64 `json:"item_id"`
	Mutations int64 `json:"mutations"`
}

func (c *HTTPClient) TotalCount(ctx context.Context) (int64, error) {
	var resp supplyResponse
	if err := c.getJSON(ctx, "/supply", &resp); err != nil {
		return 0, fmt.Errorf("reading total supply: %w", err)
	}
	if resp.Total < 0 {
		return 0, fmt.Errorf("ledger reported negative supply %d", resp.Total)
	}
	return resp.Total, nil
}

func (c *HTTPClient) MutationCount(ctx context.Context, itemID int64) (int64, error) {
	var resp mutationsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/items/%d/mutations", itemID), &resp); err != nil {
		return 0, fmt.Errorf("reading mutations for item %d: %w", itemID, err)
	}
	if resp.Mutations < 0 {
		return 0, fmt.Errorf("ledger reported negative mutation count %d for item %d", resp.Mutations, itemID)
	}
	return resp.Mutations, nil
}

func (c *HTTPClient) Exists(ctx context.Context, itemID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/items/%d", c.baseURL, itemID), nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking item %d: %w", itemID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("checking item %d: ledger returned status %d", itemID, resp.StatusCode)
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
