package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
)

// JinaAdapter wraps a Jina Reader client as a Scraper. An open breaker makes
// the chain skip Jina entirely.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter. breaker may be nil.
func NewJinaAdapter(client jina.Client, breaker *resilience.CircuitBreaker) *JinaAdapter {
	return &JinaAdapter{client: client, breaker: breaker}
}

// Name implements Scraper.
func (j *JinaAdapter) Name() string { return "jina" }

// Supports returns false while the breaker is open.
func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker == nil || j.breaker.State() != resilience.CircuitOpen
}

// Scrape reads targetURL through Jina and rejects challenge pages.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	read := func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, err
		}
		if needsFallback(resp) {
			return nil, eris.Errorf("jina: unusable content for %s", targetURL)
		}
		return resp, nil
	}

	var (
		resp *jina.ReadResponse
		err  error
	)
	if j.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, j.breaker, read)
	} else {
		resp, err = read(ctx)
	}
	if err != nil {
		return nil, err
	}

	page := Page{
		URL:         resp.Data.URL,
		Title:       resp.Data.Title,
		Description: resp.Data.Description,
		Content:     resp.Data.Content,
		StatusCode:  resp.Code,
	}
	if page.URL == "" {
		page.URL = targetURL
	}
	return &Result{Page: page, Source: "jina"}, nil
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
}

// needsFallback reports whether a Jina response is too thin or is a bot
// challenge page.
func needsFallback(resp *jina.ReadResponse) bool {
	if resp == nil {
		return true
	}
	if resp.Code != 0 && resp.Code != 200 {
		return true
	}
	content := strings.TrimSpace(resp.Data.Content)
	if len(content) < 100 {
		return true
	}
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
