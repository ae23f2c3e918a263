// Package scrape fetches web pages through a chain of scrapers: a local
// goquery scraper first, then Jina Reader, then Firecrawl.
package scrape

import "context"

// Page is a scraped page reduced to what the enrichment stages read.
type Page struct {
	URL         string
	Title       string
	Description string
	// Content is plain text or markdown, depending on the scraper.
	Content    string
	OGImage    string
	Links      []Link
	StatusCode int
}

// Link is an anchor found on a page, resolved to an absolute URL.
type Link struct {
	URL  string
	Text string
}

// Result holds a scraped page with the scraper that produced it.
type Result struct {
	Page   Page
	Source string // e.g. "local_http", "jina", "firecrawl"
	// Requested is the URL passed to the chain, before any redirect.
	Requested string
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
