package scrape

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/k1p1l0/tendhunt-sub005/pkg/firecrawl"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
)

type mockJinaClient struct {
	mock.Mock
}

func (m *mockJinaClient) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

func (m *mockJinaClient) Search(ctx context.Context, query string, opts ...jina.SearchOption) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

type mockFirecrawlClient struct {
	mock.Mock
}

func (m *mockFirecrawlClient) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*firecrawl.ScrapeResponse), args.Error(1)
}

// stubScraper is a fixed-outcome Scraper.
type stubScraper struct {
	name     string
	supports bool
	result   *Result
	err      error
	calls    atomic.Int32
}

func (s *stubScraper) Name() string           { return s.name }
func (s *stubScraper) Supports(_ string) bool { return s.supports }
func (s *stubScraper) Scrape(_ context.Context, u string) (*Result, error) {
	s.calls.Add(1)
	if s.result != nil {
		r := *s.result
		r.Page.URL = u
		return &r, nil
	}
	return nil, s.err
}
