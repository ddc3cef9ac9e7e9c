// Package source talks to the asset-management platform's REST API.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/telhawk-systems/assetsync/internal/asset"
)

// ErrNotConfigured is returned by a nil client.
var ErrNotConfigured = errors.New("source client not configured")

// Config holds source connection settings.
type Config struct {
	InstanceURL string
	APIKey      string
	APISecret   string
	Timeout     time.Duration
}

// Client is a session against one platform instance. Close releases it.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for cfg.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, fmt.Errorf("instance url is required")
	}
	if _, err := url.Parse(cfg.InstanceURL); err != nil {
		return nil, fmt.Errorf("parse instance url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.InstanceURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		logger: logger,
	}, nil
}

type discoveryResponse struct {
	HasSucceeded bool `json:"has_succeeded"`
}

// Ready reports whether the platform's last discovery cycle succeeded.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	if c == nil {
		return false, ErrNotConfigured
	}

	var resp discoveryResponse
	if err := c.do(ctx, "/api/v2/discovery", nil, &resp); err != nil {
		return false, fmt.Errorf("check discovery: %w", err)
	}
	return resp.HasSucceeded, nil
}

// PageRequestBody is the JSON body of an asset page request.
type PageRequestBody struct {
	IncludeMetadata bool     `json:"include_metadata"`
	Page            PageSpec `json:"page"`
	UseCacheEntry   bool     `json:"use_cache_entry"`
	ReturnPlainData bool     `json:"return_plain_data"`
	Fields          []string `json:"fields"`
}

// PageSpec is the limit/offset window of a page request.
type PageSpec struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type pageResponse struct {
	Assets []asset.RawRecord `json:"assets"`
	Page   struct {
		TotalResources *int `json:"totalResources"`
	} `json:"page"`
}

// FetchPage returns one window of assets.
func (c *Client) FetchPage(ctx context.Context, req asset.PageRequest) ([]asset.RawRecord, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	if req.AssetType == "" {
		return nil, fmt.Errorf("asset type is required")
	}

	fields := req.Fields
	if fields == nil {
		fields = []string{}
	}
	body := PageRequestBody{
		IncludeMetadata: true,
		Page:            PageSpec{Limit: req.Limit, Offset: req.Offset},
		UseCacheEntry:   true,
		ReturnPlainData: true,
		Fields:          fields,
	}

	var resp pageResponse
	if err := c.do(ctx, "/api/v2/assets/"+url.PathEscape(req.AssetType), body, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s page at offset %d: %w", req.AssetType, req.Offset, err)
	}

	if resp.Page.TotalResources != nil {
		c.logger.DebugContext(ctx, "source page metadata",
			slog.String("asset_type", req.AssetType),
			slog.Int("total_resources", *resp.Page.TotalResources),
		)
	}
	return resp.Assets, nil
}

// Close releases idle connections held by the session.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// do issues a GET with an optional JSON body and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("api-key", c.apiKey)
	request.Header.Set("api-secret", c.apiSecret)
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("source response status %d", e.StatusCode)
	}
	return fmt.Sprintf("source response status %d: %s", e.StatusCode, e.Body)
}
