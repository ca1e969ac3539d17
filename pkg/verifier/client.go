// Package verifier wraps the email validation oracle. Transient oracle
// failures (429/5xx) surface as resilience.TransientError so callers can
// apply their bounded retry policy.
package verifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/email-intel/internal/model"
	"github.com/sells-group/email-intel/internal/resilience"
)

const defaultBaseURL = "https://api.emailable.com/v1"

// Client verifies email addresses against the validation oracle.
type Client interface {
	Verify(ctx context.Context, email string) (*Result, error)
}

// Result is the oracle's verdict for one address.
type Result struct {
	Email  string             `json:"email"`
	Status model.VerifyStatus `json:"state"`
	Score  float64            `json:"score"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a validation oracle client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
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

func (c *httpClient) Verify(ctx context.Context, email string) (*Result, error) {
	q := url.Values{}
	q.Set("email", email)
	q.Set("api_key", c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/verify?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "verifier: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "verifier: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "verifier: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("verifier: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "verifier: unmarshal response")
	}

	// Oracle statuses outside the known set are treated as unknown rather
	// than failing the probe.
	switch result.Status {
	case model.VerifyValid, model.VerifyInvalid, model.VerifyAcceptAll,
		model.VerifyUnknown, model.VerifyTimeout, model.VerifyError:
	default:
		result.Status = model.VerifyUnknown
	}
	return &result, nil
}
