package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPRenderer invokes a render service over HTTP. The service owns the
// scripted visual engine; this adapter only moves frames across the wire.
// The per-request context carries the deadline, so closing the response body
// on every path is what releases the service's rendering session.
type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRenderer creates an adapter for the render service at baseURL.
func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// No client-level timeout: the caller's context bounds the call.
			Timeout: 0,
		},
	}
}

type renderResponse struct {
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	MutationCount int64    `json:"mutation_count"`
	Frames        []string `json:"frames"` // base64-encoded pixel buffers
}

func (r *HTTPRenderer) Render(ctx context.Context, itemID int64) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/render/%d", r.baseURL, itemID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating render request for item %d: %w", itemID, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("rendering item %d: %w", itemID, err)
		}
		return nil, fmt.Errorf("rendering item %d: %w: %v", itemID, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rendering item %d: service returned status %d: %s", itemID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding render response for item %d: %w", itemID, err)
	}

	res := &Result{
		Width:         wire.Width,
		Height:        wire.Height,
		MutationCount: wire.MutationCount,
		Frames:        make([][]byte, len(wire.Frames)),
	}
	for i, enc := range wire.Frames {
		frame, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decoding frame %d for item %d: %w", i, itemID, err)
		}
		res.Frames[i] = frame
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("rendering item %d: %w", itemID, err)
	}
	return res, nil
}
