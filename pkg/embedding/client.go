// Package embedding provides vector embedding generation for company
// contexts. The Provider interface lets the core swap providers without
// changing consumers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "text-embedding-3-small"
	defaultDimensions = 1536
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// DimensionMismatchError reports an embedding whose width differs from the
// storage schema's expected width. This is a fatal configuration error:
// vectors are never silently truncated or padded.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return eris.Errorf("embedding: dimension mismatch: provider returned %d, schema expects %d", e.Got, e.Want).Error()
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithDimensions overrides the expected embedding width.
func WithDimensions(dims int) Option {
	return func(c *httpClient) {
		c.dims = dims
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	dims    int
	http    *http.Client
}

// NewClient creates an OpenAI-compatible embeddings client.
func NewClient(apiKey string, opts ...Option) Provider {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		dims:    defaultDimensions,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Dimensions() int {
	return c.dims
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *httpClient) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	body, err := json.Marshal(embedRequest{Input: []string{text}, Model: c.model})
	if err != nil {
		return pgvector.Vector{}, eris.Wrap(err, "embedding: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return pgvector.Vector{}, eris.Wrap(err, "embedding: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return pgvector.Vector{}, eris.Wrap(err, "embedding: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pgvector.Vector{}, eris.Wrap(err, "embedding: read response")
	}

	var result embedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return pgvector.Vector{}, eris.Wrap(err, "embedding: unmarshal response")
	}
	if result.Error != nil {
		return pgvector.Vector{}, eris.Errorf("embedding: provider error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return pgvector.Vector{}, eris.Errorf("embedding: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(result.Data) == 0 {
		return pgvector.Vector{}, eris.New("embedding: empty response")
	}

	vec := result.Data[0].Embedding
	if len(vec) != c.dims {
		return pgvector.Vector{}, &DimensionMismatchError{Want: c.dims, Got: len(vec)}
	}
	return pgvector.NewVector(vec), nil
}
