package fetcher

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

const service = "http"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps Fetch downloads. Zero means 50 MiB.
	MaxBytes int64
	// HostRate is the initial per-host request rate. Zero means 2/s.
	HostRate  rate.Limit
	HostBurst int
}

// AdaptiveLimiter wraps a rate.Limiter that slows down after 429s and
// recovers on success, between initial/4 and 2x initial.
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initial, burst),
		maxRate:     initial * 2,
		minRate:     initial / 4,
		currentRate: initial,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 20%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher downloads over HTTP with a polite per-host rate. Retries are
// left to the caller's resilience policy.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "TendHunt/1.0"
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 50 << 20
	}
	if opts.HostRate == 0 {
		opts.HostRate = 2
	}
	if opts.HostBurst == 0 {
		opts.HostBurst = 2
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.HostRate, f.opts.HostBurst)
		f.limiters[host] = lim
	}
	return lim
}

// do sends req under the host limiter and maps non-2xx statuses to typed
// errors. The caller owns the returned body.
func (f *HTTPFetcher) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	lim := f.limiterFor(u.Host)
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewExternalError(service, resilience.Typed(err), err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		lim.OnRateLimit()
		zap.L().Warn("fetcher: rate limited, slowing host",
			zap.String("host", u.Host),
			zap.Float64("rate", float64(lim.Limit())),
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, resilience.FromHTTPStatus(service, resp.StatusCode, string(body))
	}
	lim.OnSuccess()
	return resp, nil
}

// Fetch downloads a data file. Responses whose content type is not CSV,
// plain text, octet-stream or a vendor type are rejected with
// ErrUnsupportedType.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*File, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	ct := resp.Header.Get("Content-Type")
	if !AcceptableType(ct) {
		return nil, eris.Wrapf(ErrUnsupportedType, "fetcher: %s served %q", rawURL, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, resilience.NewExternalError(service, resilience.Typed(err), eris.Wrapf(err, "fetcher: read %s", rawURL))
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "fetcher: %s exceeds %d bytes", rawURL, f.opts.MaxBytes)
	}
	return &File{URL: rawURL, ContentType: ct, Body: body}, nil
}

// FetchPrefix returns at most n bytes of the response body, for reading page
// heads without downloading the whole document.
func (f *HTTPFetcher) FetchPrefix(ctx context.Context, rawURL string, n int64) ([]byte, error) {
	resp, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, n))
	if err != nil {
		return nil, resilience.NewExternalError(service, resilience.Typed(err), eris.Wrapf(err, "fetcher: read %s", rawURL))
	}
	return body, nil
}

// Head reports whether rawURL answers a HEAD request with a 2xx status.
func (f *HTTPFetcher) Head(ctx context.Context, rawURL string) (bool, error) {
	resp, err := f.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		var ext *resilience.ExternalError
		if errors.As(err, &ext) && ext.StatusCode >= 400 && ext.StatusCode < 500 && ext.StatusCode != http.StatusTooManyRequests {
			return false, nil
		}
		return false, err
	}
	_ = resp.Body.Close()
	return true, nil
}

// AcceptableType reports whether a Content-Type header denotes a data file.
// A missing header is accepted.
func AcceptableType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case mt == "text/csv", mt == "text/plain", mt == "application/csv",
		mt == "application/x-csv", mt == "text/comma-separated-values",
		mt == "application/octet-stream", mt == "application/zip":
		return true
	case strings.HasPrefix(mt, "application/vnd."):
		return true
	}
	return false
}
