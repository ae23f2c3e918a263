package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/scrape"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
)

const (
	// maxDocumentChars bounds stored page content.
	maxDocumentChars = 20000
	// minDocumentChars drops cookie walls and empty shells.
	minDocumentChars  = 200
	scrapeConcurrency = 3
)

// leadershipPaths are tried on every buyer website.
var leadershipPaths = []string{"/about", "/about-us", "/our-board", "/council/councillors", "/leadership"}

// ScrapePages stores a buyer's homepage, board papers page and common
// leadership pages as web_page documents for personnel extraction.
type ScrapePages struct {
	svc *Services
}

// NewScrapePages creates the scrape stage.
func NewScrapePages(svc *Services) *ScrapePages {
	svc.applyDefaults()
	return &ScrapePages{svc: svc}
}

// Name implements stage.Stage.
func (s *ScrapePages) Name() model.Stage { return model.StageScrape }

// Filter implements stage.Stage.
func (s *ScrapePages) Filter() model.BuyerFilter {
	return model.BuyerFilter{HasWebsite: true, LacksSource: model.SourceScrape}
}

// CheckConfig implements stage.Stage.
func (s *ScrapePages) CheckConfig() error {
	if s.svc.Scraper == nil {
		return resilience.NewConfigError("scrape: scraper chain is not configured")
	}
	return nil
}

// Process implements stage.Stage. A buyer with no usable page is left
// untagged so a later rescan tries again.
func (s *ScrapePages) Process(ctx context.Context, b *model.Buyer) error {
	targets := ScrapeTargets(*b)
	if len(targets) == 0 {
		return nil
	}

	results := s.svc.Scraper.ScrapeAll(ctx, targets, scrapeConcurrency)
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "scrape: cancelled")
	}

	var (
		docs        []model.BoardDocument
		description string
	)
	for _, r := range results {
		if description == "" {
			description = strings.TrimSpace(r.Page.Description)
		}
		content := strings.TrimSpace(r.Page.Content)
		if len(content) < minDocumentChars {
			continue
		}
		docs = append(docs, model.BoardDocument{
			BuyerID:          b.ID,
			SourceURL:        sourceOf(r),
			Title:            firstNonEmpty(strings.TrimSpace(r.Page.Title), b.Name),
			DocumentType:     model.DocWebPage,
			Content:          truncateRunes(content, maxDocumentChars),
			ExtractionStatus: model.ExtractionExtracted,
		})
	}

	if len(docs) == 0 {
		return resilience.NewExternalError("scrape", model.ErrNotFound,
			eris.Errorf("scrape: no usable pages for %q among %d urls", b.Name, len(targets)))
	}
	if _, err := s.svc.Store.UpsertBoardDocuments(ctx, docs); err != nil {
		return stage.Fatal(eris.Wrapf(err, "scrape: save pages for %s", b.ID))
	}
	zap.L().Debug("scrape: pages saved", zap.String("buyer_id", b.ID), zap.Int("pages", len(docs)))

	var patch model.BuyerPatch
	if b.Description == "" && description != "" {
		patch.Description = strPtr(description)
	}
	return s.svc.commit(ctx, b, patch, model.SourceScrape)
}

// ScrapeTargets lists the URLs scraped for a buyer: homepage, board papers
// page, then leadership paths, without duplicates.
func ScrapeTargets(b model.Buyer) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		u = strings.TrimRight(u, "/")
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	var home string
	if b.Website != "" {
		home = strings.TrimRight(siteURL(b.Website), "/")
		add(home)
	}
	add(b.BoardPapersURL)
	if home != "" {
		for _, p := range leadershipPaths {
			add(home + p)
		}
	}
	return out
}

func sourceOf(r scrape.Result) string {
	if r.Requested != "" {
		return r.Requested
	}
	return r.Page.URL
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
