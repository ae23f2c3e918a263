package spend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/scrape"
	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
)

const maxPromptLinks = 250

const discoverPrompt = `You are analyzing a UK public sector website to find spending transparency data.

Organization: %s
Website: %s
Organization type: %s

Links on the homepage (anchor text | URL):
%s

Find links to:
1. "transparency", "spending", "payments over 500", "expenditure", "open data" pages
2. Direct CSV/Excel file download links containing spending/payment data
3. Links to external open data portals (data.gov.uk, etc.)

UK councils typically have these under "Your Council" > "Transparency" or "About Us" > "Spending".

Return ONLY valid JSON (no markdown):
{
  "transparencyUrl": "full URL or null if not found",
  "csvLinks": ["array of direct CSV/XLS download URLs found, empty if none"],
  "confidence": "HIGH|MEDIUM|LOW|NONE"
}`

const linksPrompt = `You are extracting CSV/Excel download links from a UK public sector transparency page.

Organization: %s
Page URL: %s

Links on the page (anchor text | URL):
%s

Find ALL download links for spending/payment CSV or Excel files. These are typically monthly or quarterly reports titled like "Payments over 500 - January 2024" or "Expenditure 2023-24 Q1".

Return ONLY valid JSON:
{
  "csvLinks": ["array of full download URLs"]
}`

// discovery is where a buyer's spend files are published.
type discovery struct {
	PageURL string
	Page    *scrape.Page
	// Suggested holds file links proposed by the model during discovery.
	Suggested []string
	Method    string
}

type discoverAnswer struct {
	TransparencyURL string   `json:"transparencyUrl"`
	CSVLinks        []string `json:"csvLinks"`
	Confidence      string   `json:"confidence"`
}

// discover locates the buyer's transparency page: the stored URL, then the
// well-known paths for its org type, then homepage navigation, then the
// model. A miss is a not_found error.
func (g *Ingest) discover(ctx context.Context, b *model.Buyer) (*discovery, error) {
	if b.TransparencyPageURL != "" && b.TransparencyPageURL != model.TransparencyNone {
		page, err := g.fetchPage(ctx, b.TransparencyPageURL)
		if err != nil {
			return nil, err
		}
		return &discovery{PageURL: b.TransparencyPageURL, Page: page, Method: "stored"}, nil
	}

	site := siteURL(b.Website)
	for _, p := range TransparencyPaths(b.OrgType) {
		candidate := site + p
		page, err := g.probePage(ctx, candidate)
		if err != nil {
			continue
		}
		if HasSpendKeywords(page.Title + " " + page.Content) {
			return &discovery{PageURL: candidate, Page: page, Method: "pattern_match"}, nil
		}
	}

	home, err := g.fetchPage(ctx, site)
	if err != nil {
		return nil, err
	}
	if link, ok := TransparencyLink(home.Links); ok {
		if page, err := g.fetchPage(ctx, link); err == nil {
			return &discovery{PageURL: link, Page: page, Method: "homepage_link"}, nil
		}
	}

	if g.ai == nil {
		return nil, notFound(b)
	}
	text, err := g.ask(ctx, "spend_discover", fmt.Sprintf(discoverPrompt, b.Name, site, orDefault(b.OrgType, "unknown"), linkList(home.Links, maxPromptLinks)))
	if err != nil {
		return nil, err
	}
	ans, err := parseDiscoverAnswer(text)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(ans.Confidence, "NONE") || ans.TransparencyURL == "" {
		return nil, notFound(b)
	}
	d := &discovery{
		PageURL:   resolveAgainst(site, ans.TransparencyURL),
		Suggested: resolveAll(site, ans.CSVLinks),
		Method:    "ai_discovery",
	}
	if d.PageURL == "" {
		return nil, notFound(b)
	}
	page, err := g.fetchPage(ctx, d.PageURL)
	if err != nil {
		g.log.Debug("suggested transparency page unreachable", zap.String("url", d.PageURL), zap.Error(err))
	} else {
		d.Page = page
	}
	return d, nil
}

func parseDiscoverAnswer(text string) (discoverAnswer, error) {
	raw, err := anthropic.ExtractJSON(text)
	if err != nil {
		return discoverAnswer{}, err
	}
	var ans discoverAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return discoverAnswer{}, resilience.NewExternalError("anthropic", model.ErrParse, eris.Wrap(err, "spend: decode discovery answer"))
	}
	return ans, nil
}

// fileLinks lists the spend file URLs for a discovered page: scored page
// links, the model's suggestions and the buyer's previously known files.
// The model is asked for more when the page yields fewer than
// minPageLinks.
func (g *Ingest) fileLinks(ctx context.Context, b *model.Buyer, d *discovery) []string {
	var scored []ScoredLink
	if d.Page != nil {
		scored = SpendLinks(d.Page.Links)
	}
	urls := make([]string, 0, len(scored))
	for _, s := range scored {
		urls = append(urls, s.URL)
	}
	urls = append(urls, d.Suggested...)

	if len(scored) < minPageLinks && g.ai != nil && d.Page != nil && len(d.Page.Links) > 0 {
		text, err := g.ask(ctx, "spend_links", fmt.Sprintf(linksPrompt, b.Name, d.PageURL, linkList(d.Page.Links, maxPromptLinks)))
		if err == nil {
			urls = append(urls, parseLinksAnswer(d.PageURL, text)...)
		} else {
			g.log.Warn("link extraction fallback failed", zap.String("buyer", b.Name), zap.Error(err))
		}
	}
	urls = append(urls, b.SpendFileURLs...)
	return dedupe(urls)
}

func parseLinksAnswer(base, text string) []string {
	raw, err := anthropic.ExtractJSON(text)
	if err != nil {
		return nil
	}
	var ans struct {
		CSVLinks []string `json:"csvLinks"`
	}
	if err := json.Unmarshal([]byte(raw), &ans); err != nil {
		return nil
	}
	return resolveAll(base, ans.CSVLinks)
}

func (g *Ingest) fetchPage(ctx context.Context, u string) (*scrape.Page, error) {
	body, err := resilience.Call(ctx, g.breakers, g.retry, "spend", func(ctx context.Context) ([]byte, error) {
		return g.web.FetchPrefix(ctx, u, maxPageBytes)
	})
	if err != nil {
		return nil, err
	}
	return parsePage(u, body)
}

// probePage fetches a guessed URL once, outside the retry policy and the
// breaker.
func (g *Ingest) probePage(ctx context.Context, u string) (*scrape.Page, error) {
	body, err := g.web.FetchPrefix(ctx, u, maxPageBytes)
	if err != nil {
		return nil, err
	}
	return parsePage(u, body)
}

func parsePage(u string, body []byte) (*scrape.Page, error) {
	page, err := scrape.ParseHTML(u, body)
	if err != nil {
		return nil, resilience.NewExternalError("spend", model.ErrParse, err)
	}
	return &page, nil
}

func notFound(b *model.Buyer) error {
	return resilience.NewExternalError("spend", model.ErrNotFound, eris.Errorf("spend: no transparency page for %s", b.Name))
}

func siteURL(website string) string {
	s := strings.TrimRight(strings.TrimSpace(website), "/")
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	return s
}

// resolveAgainst resolves ref against base, keeping only web and FTP URLs.
func resolveAgainst(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	abs := b.ResolveReference(r)
	switch abs.Scheme {
	case "http", "https", "ftp":
		return abs.String()
	}
	return ""
}

func resolveAll(base string, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if abs := resolveAgainst(base, r); abs != "" {
			out = append(out, abs)
		}
	}
	return out
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
