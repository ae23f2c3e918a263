// Package ocds pages through UK public procurement notices published as OCDS
// release packages by Contracts Finder and Find a Tender.
package ocds

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

const (
	defaultContractsFinderURL = "https://www.contractsfinder.service.gov.uk/Published/Notices/OCDS/Search"
	defaultFindTenderURL      = "https://www.find-tender.service.gov.uk/api/1.0/ocdsReleasePackages"

	// AwardCursor restarts Find a Tender paging at the award stage once the
	// tender stage is drained.
	AwardCursor = "STAGE:award"

	pageLimit = "100"
)

// Page is one page of releases. An empty NextCursor means the source is
// drained for the requested window.
type Page struct {
	Releases   []Release
	NextCursor string
}

// Done reports whether no further pages remain.
func (p Page) Done() bool { return p.NextCursor == "" }

// Client fetches release pages.
type Client interface {
	// FetchPage returns the page at cursor for source. An empty cursor starts
	// at from (RFC 3339).
	FetchPage(ctx context.Context, source, cursor, from string) (Page, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithContractsFinderURL overrides the Contracts Finder search endpoint.
func WithContractsFinderURL(u string) Option {
	return func(c *httpClient) { c.cfURL = u }
}

// WithFindTenderURL overrides the Find a Tender release package endpoint.
func WithFindTenderURL(u string) Option {
	return func(c *httpClient) { c.fatURL = u }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithPageDelay spaces requests at least d apart. Both services rate limit
// aggressively without documenting the limits.
func WithPageDelay(d time.Duration) Option {
	return func(c *httpClient) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

type httpClient struct {
	cfURL   string
	fatURL  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an OCDS client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		cfURL:   defaultContractsFinderURL,
		fatURL:  defaultFindTenderURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type releasePackage struct {
	Releases []Release `json:"releases"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

func (c *httpClient) FetchPage(ctx context.Context, source, cursor, from string) (Page, error) {
	switch source {
	case model.SourceContractsFinder:
		return c.fetchContractsFinder(ctx, cursor, from)
	case model.SourceFindTender:
		return c.fetchFindTender(ctx, cursor, from)
	default:
		return Page{}, eris.Errorf("ocds: unknown source %q", source)
	}
}

// Contracts Finder serves both stages from one query and pages via the full
// links.next URL.
func (c *httpClient) fetchContractsFinder(ctx context.Context, cursor, from string) (Page, error) {
	target := cursor
	if !isURL(cursor) {
		q := url.Values{}
		q.Set("publishedFrom", from)
		q.Set("stages", "tender,award")
		q.Set("limit", pageLimit)
		target = c.cfURL + "?" + q.Encode()
	}

	pkg, err := c.get(ctx, model.SourceContractsFinder, target)
	if err != nil {
		return Page{}, err
	}
	if len(pkg.Releases) == 0 {
		return Page{}, nil
	}
	return Page{Releases: pkg.Releases, NextCursor: pkg.Links.Next}, nil
}

// Find a Tender accepts one stage per query, so tender notices are drained
// first and the cursor then moves to AwardCursor.
func (c *httpClient) fetchFindTender(ctx context.Context, cursor, from string) (Page, error) {
	var target, stage string
	switch {
	case isURL(cursor):
		target = cursor
		stage = stageOf(cursor)
	case cursor == AwardCursor:
		stage = "award"
	default:
		stage = "tender"
	}
	if target == "" {
		q := url.Values{}
		q.Set("updatedFrom", from)
		q.Set("stages", stage)
		q.Set("limit", pageLimit)
		target = c.fatURL + "?" + q.Encode()
	}

	pkg, err := c.get(ctx, model.SourceFindTender, target)
	if err != nil {
		return Page{}, err
	}

	next := pkg.Links.Next
	if len(pkg.Releases) == 0 {
		next = ""
	}
	if next == "" && stage == "tender" {
		next = AwardCursor
	}
	return Page{Releases: pkg.Releases, NextCursor: next}, nil
}

func (c *httpClient) get(ctx context.Context, service, target string) (*releasePackage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ocds: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ocds: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewExternalError(service, resilience.Typed(err), err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocds: read response body")
	}
	// Both services answer 403 when throttling.
	if resp.StatusCode == http.StatusForbidden {
		return nil, resilience.FromHTTPStatus(service, http.StatusTooManyRequests, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.FromHTTPStatus(service, resp.StatusCode, string(body))
	}

	var pkg releasePackage
	if err := json.Unmarshal(body, &pkg); err != nil {
		return nil, resilience.NewExternalError(service, model.ErrParse, eris.Wrap(err, "ocds: decode release package"))
	}
	return &pkg, nil
}

func isURL(cursor string) bool {
	return strings.HasPrefix(cursor, "http://") || strings.HasPrefix(cursor, "https://")
}

func stageOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "tender"
	}
	if s := u.Query().Get("stages"); s == "award" {
		return s
	}
	return "tender"
}
