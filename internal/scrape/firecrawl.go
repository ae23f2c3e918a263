package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/pkg/firecrawl"
)

// FirecrawlAdapter wraps a Firecrawl client as the last-resort Scraper.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

// Name implements Scraper.
func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports implements Scraper.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape fetches targetURL as markdown and HTML so links can be extracted.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown", "html"},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.Data.Markdown == "" {
		return nil, eris.Errorf("firecrawl: empty markdown for %s", targetURL)
	}

	md := resp.Data.Metadata
	page := Page{
		URL:         md.SourceURL,
		Title:       md.Title,
		Description: md.Description,
		Content:     resp.Data.Markdown,
		OGImage:     md.OGImage,
		StatusCode:  md.StatusCode,
	}
	if page.URL == "" {
		page.URL = targetURL
	}
	if resp.Data.HTML != "" {
		if parsed, err := ParseHTML(page.URL, []byte(resp.Data.HTML)); err == nil {
			page.Links = parsed.Links
		}
	}
	return &Result{Page: page, Source: "firecrawl"}, nil
}
