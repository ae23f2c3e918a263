// Package apify runs Apify actors synchronously and returns their dataset
// items.
package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

const (
	defaultBaseURL = "https://api.apify.com/v2"
	service        = "apify"
)

// Client defines the Apify operations used by the pipeline.
type Client interface {
	// RunSync runs actorID with input and decodes the dataset items into out.
	RunSync(ctx context.Context, actorID string, input any, out any) error
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates an Apify client for an API token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) RunSync(ctx context.Context, actorID string, input any, out any) error {
	buf, err := json.Marshal(input)
	if err != nil {
		return eris.Wrap(err, "apify: marshal input")
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		c.baseURL, url.PathEscape(actorID), url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "apify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.NewExternalError(service, resilience.Typed(err), err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "apify: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.FromHTTPStatus(service, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resilience.NewExternalError(service, model.ErrParse, eris.Wrapf(err, "apify: decode %s items", actorID))
	}
	return nil
}
