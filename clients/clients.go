// Package clients implements the gateway's outbound JSON/HTTP clients to
// the four backends the Turn Pipeline consumes: the Model Router, the
// Memory Engine, the Tool Executor, and the Perception Service.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Config configures one backend's HTTP client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// BearerToken is a static service-to-service token. Used only when
	// OAuth2 is nil.
	BearerToken string

	// OAuth2, when set, obtains and refreshes the bearer token via the
	// client-credentials grant instead of a static token.
	OAuth2 *clientcredentials.Config
}

// StatusError reports a non-2xx HTTP response from a backend, carrying
// enough signal for retrytaxonomy.Classify to bucket it correctly.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("clients: %s responded %d: %s", e.Backend, e.StatusCode, e.Body)
}

// baseClient is the shared JSON-over-HTTP transport every backend client
// embeds, grounded on the teacher's runtime/a2a/httpclient.Client.
type baseClient struct {
	name    string
	baseURL string
	http    *http.Client
}

func newBaseClient(name string, cfg Config) *baseClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	switch {
	case cfg.OAuth2 != nil:
		hc = cfg.OAuth2.Client(context.Background())
		hc.Timeout = timeout
	case cfg.BearerToken != "":
		hc.Transport = &bearerTransport{token: cfg.BearerToken, base: http.DefaultTransport}
	}
	return &baseClient{name: name, baseURL: cfg.BaseURL, http: hc}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// doJSON POSTs reqBody as JSON to path and decodes the response into
// respBody. A non-2xx response is returned as a *StatusError so callers can
// feed it straight into retrytaxonomy.Classify.
func (c *baseClient) doJSON(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("clients: %s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("clients: %s: build request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("clients: %s: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Backend: c.name, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("clients: %s: decode response: %w", c.name, err)
	}
	return nil
}
