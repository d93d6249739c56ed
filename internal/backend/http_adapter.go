package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTPAdapterConfig configures an HTTP provider adapter.
type HTTPAdapterConfig struct {
	// BackendID is the stable identifier for breaker/budget keys.
	BackendID string

	// BaseURL is the provider endpoint, e.g. "https://api.provider.example".
	BaseURL string

	// Path is the dispatch path. Defaults to "/v1/dispatch".
	Path string

	// CostPerCall is the estimated billing per dispatch (USD).
	CostPerCall float64

	// HTTPClient overrides the transport, for tests. Timeouts are carried by
	// the per-call context, not by the client.
	HTTPClient *http.Client
}

// HTTPAdapter dispatches requests to a provider over HTTP. The provider may
// report actual billing in an X-Billed-Cost response header; otherwise the
// estimate stands in for the actual cost.
type HTTPAdapter struct {
	id          string
	baseURL     string
	path        string
	costPerCall float64
	client      *http.Client
}

// NewHTTPAdapter validates cfg and returns an adapter.
func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	if cfg.BackendID == "" {
		return nil, fmt.Errorf("backend id required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/v1/dispatch"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAdapter{
		id:          cfg.BackendID,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		path:        path,
		costPerCall: cfg.CostPerCall,
		client:      client,
	}, nil
}

func (a *HTTPAdapter) ID() string { return a.id }

func (a *HTTPAdapter) EstimatedCost(payload []byte) float64 { return a.costPerCall }

// Dispatch performs a single HTTP POST. Retrying belongs to the router's
// candidate iteration, not here.
func (a *HTTPAdapter) Dispatch(ctx context.Context, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+a.path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{BackendID: a.id, Kind: Permanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// Network errors and context timeouts are transient.
		return nil, &Error{BackendID: a.id, Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	billed := a.costPerCall
	if h := resp.Header.Get("X-Billed-Cost"); h != "" {
		if v, err := strconv.ParseFloat(h, 64); err == nil && v >= 0 {
			billed = v
		}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{
			BackendID:   a.id,
			Kind:        Transient,
			MeteredCost: billed,
			Err:         fmt.Errorf("backend unavailable: %s", resp.Status),
		}
	case resp.StatusCode >= 400:
		return nil, &Error{
			BackendID:   a.id,
			Kind:        Permanent,
			MeteredCost: billed,
			Err:         fmt.Errorf("backend rejected request: %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{BackendID: a.id, Kind: Transient, MeteredCost: billed, Err: fmt.Errorf("read response: %w", err)}
	}
	return &Response{Payload: body, ActualCost: billed}, nil
}
