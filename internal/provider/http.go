// Package provider fetches the initial stop dataset from a remote source.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/go-playground/validator/v10"
)

const (
	// defaultTimeout bounds a full dataset download.
	defaultTimeout = 15 * time.Second

	// maxBodyBytes caps the response size we are willing to decode.
	maxBodyBytes = 32 << 20

	httpMaxIdleConns    = 4
	httpIdleConnTimeout = 30 * time.Second
)

// ErrNotConfigured is returned when no provider URL was configured.
var ErrNotConfigured = errors.New("provider: no dataset URL configured")

// stopJSON is one element of the provider's JSON array.
type stopJSON struct {
	StopID   int64   `json:"stop_id" validate:"gt=0"`
	StopName string  `json:"stop_name" validate:"required"`
	NextStop *string `json:"next_stop" validate:"omitempty"`
}

// HTTPProvider downloads the stop dataset as a JSON array over HTTP:
//
//	[{"stop_id":101,"stop_name":"City Hall","next_stop":"Market"}]
type HTTPProvider struct {
	url        string
	httpClient *http.Client
	validate   *validator.Validate
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.httpClient = c }
}

// WithTimeout sets the client timeout for the whole download.
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// NewHTTPProvider creates a provider that fetches from url.
func NewHTTPProvider(url string, opts ...HTTPOption) *HTTPProvider {
	transport := &http.Transport{
		MaxIdleConns:        httpMaxIdleConns,
		MaxIdleConnsPerHost: httpMaxIdleConns,
		IdleConnTimeout:     httpIdleConnTimeout,
	}
	p := &HTTPProvider{
		url: url,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		validate: validator.New(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FetchInitialStops downloads and validates the full stop dataset.
// A malformed record fails the whole fetch; nothing partial is returned.
func (p *HTTPProvider) FetchInitialStops(ctx context.Context) ([]storage.StopRecord, error) {
	if p.url == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	var raw []stopJSON
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}

	records := make([]storage.StopRecord, 0, len(raw))
	for i, s := range raw {
		if err := p.validate.Struct(s); err != nil {
			return nil, fmt.Errorf("provider: record %d: %w", i, err)
		}
		records = append(records, storage.StopRecord{
			StopID:   s.StopID,
			StopName: s.StopName,
			NextStop: s.NextStop,
		})
	}
	return records, nil
}
