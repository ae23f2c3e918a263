package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

const maxLocalBody = 512 * 1024

// LocalScraper fetches HTML directly and parses it with goquery. It costs
// nothing, so the chain tries it first and falls through when blocked.
type LocalScraper struct {
	client    *http.Client
	userAgent string
}

// NewLocalScraper creates a LocalScraper.
func NewLocalScraper(userAgent string) *LocalScraper {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; TendHunt/1.0)"
	}
	return &LocalScraper{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// Name implements Scraper.
func (l *LocalScraper) Name() string { return "local_http" }

// Supports implements Scraper.
func (l *LocalScraper) Supports(_ string) bool { return true }

// Scrape fetches targetURL and parses it, failing on blocks and near-empty
// pages so the chain moves on.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, resilience.NewExternalError("local_http", resilience.Typed(err), err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLocalBody))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", kind)
	}
	if resp.StatusCode >= 400 {
		return nil, resilience.FromHTTPStatus("local_http", resp.StatusCode, "")
	}
	if len(body) < 100 {
		return nil, eris.New("local_http: empty page")
	}

	// Redirects may land elsewhere; links resolve against the final URL.
	page, err := ParseHTML(resp.Request.URL.String(), body)
	if err != nil {
		return nil, err
	}
	page.StatusCode = resp.StatusCode
	return &Result{Page: page, Source: "local_http"}, nil
}
