// Package extractor provides the HTTP client for the feature extraction
// service, which maps an image to a fixed-dimension embedding vector.
package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantumvision/quantum-image-search/pkg/fn"
	"github.com/quantumvision/quantum-image-search/pkg/resilience"
)

// DefaultDimension is the embedding size produced by the extraction model.
const DefaultDimension = 2048

// Opts configures the client.
type Opts struct {
	// BaseURL is the extraction service root, e.g. http://extractor:9090.
	BaseURL string
	// Model names the extraction model to request. Empty uses the service
	// default.
	Model string
	// Dimension is the expected vector size; responses of any other size
	// are rejected. Zero means DefaultDimension.
	Dimension int
	// RPS caps requests per second to the service. Zero disables the cap.
	RPS float64
	// Timeout caps one HTTP round trip. Zero means 30s.
	Timeout time.Duration
	// Breaker protects the service; nil builds one from the defaults.
	Breaker *resilience.Breaker
}

// Client calls the feature extraction service. The call path is wrapped in a
// rate limiter and a circuit breaker, with a trace span per extraction.
type Client struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	limiter   *rate.Limiter
	stage     fn.Stage[[]byte, []float32]
}

// New creates an extraction client.
func New(opts Opts) *Client {
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}

	c := &Client{
		baseURL:   opts.BaseURL,
		model:     opts.Model,
		dimension: opts.Dimension,
		client:    &http.Client{Timeout: opts.Timeout},
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	c.stage = fn.TracedStage("extractor.extract",
		resilience.BreakerStage(breaker, func(ctx context.Context, image []byte) fn.Result[[]float32] {
			return fn.FromPair(c.post(ctx, image))
		}))
	return c
}

type extractRequest struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image"` // base64
}

type extractResponse struct {
	Features []float64 `json:"features"`
	Error    string    `json:"error,omitempty"`
}

// ExtractFeatures returns the embedding for one image.
func (c *Client) ExtractFeatures(ctx context.Context, image []byte) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("extractor: rate wait: %w", err)
		}
	}
	return c.stage(ctx, image).Unwrap()
}

func (c *Client) post(ctx context.Context, image []byte) ([]float32, error) {
	body, err := json.Marshal(extractRequest{
		Model: c.model,
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("extractor: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extractor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extractor: status %d: %s", resp.StatusCode, snippet)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("extractor: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("extractor: service error: %s", out.Error)
	}
	if len(out.Features) != c.dimension {
		return nil, fmt.Errorf("extractor: got %d features, want %d", len(out.Features), c.dimension)
	}

	vec := make([]float32, len(out.Features))
	for i, v := range out.Features {
		vec[i] = float32(v)
	}
	return vec, nil
}
