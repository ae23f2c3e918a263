package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
)

// aggregatorDomains never count as an organization's own website. A host
// matches when it equals the domain or is a subdomain of it.
var aggregatorDomains = []string{
	"wikipedia.org",
	"linkedin.com",
	"facebook.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"instagram.com",
	"companieshouse.gov.uk",
	"company-information.service.gov.uk",
	"opencorporates.com",
	"moderngov.co.uk",
	"indeed.com",
	"glassdoor.co.uk",
}

// nationalPortals are excluded only as exact hosts; their subdomains belong
// to individual organizations.
var nationalPortals = []string{"gov.uk", "nhs.uk"}

// publicSectorSuffixes are accepted without a name check.
var publicSectorSuffixes = []string{".gov.uk", ".nhs.uk", ".ac.uk", ".org.uk", ".police.uk", ".sch.uk"}

// genericNameWords do not identify an organization on their own.
var genericNameWords = map[string]bool{
	"council": true, "borough": true, "county": true, "district": true,
	"city": true, "trust": true, "foundation": true, "limited": true,
	"services": true, "group": true, "national": true, "authority": true,
	"royal": true, "university": true, "college": true, "school": true,
}

// WebsiteDiscovery finds a buyer's official website with a web search.
type WebsiteDiscovery struct {
	svc *Services
}

// NewWebsiteDiscovery creates the website discovery stage.
func NewWebsiteDiscovery(svc *Services) *WebsiteDiscovery {
	svc.applyDefaults()
	return &WebsiteDiscovery{svc: svc}
}

// Name implements stage.Stage.
func (w *WebsiteDiscovery) Name() model.Stage { return model.StageWebsiteDiscovery }

// Filter implements stage.Stage.
func (w *WebsiteDiscovery) Filter() model.BuyerFilter {
	return model.BuyerFilter{MissingWebsite: true, ExcludeDiscovery: model.DiscoveryFailed}
}

// CheckConfig implements stage.Stage.
func (w *WebsiteDiscovery) CheckConfig() error {
	if w.svc.Jina == nil {
		return resilience.NewConfigError("website_discovery: jina api key is not configured")
	}
	return nil
}

// Process implements stage.Stage. A search with no usable result marks the
// buyer as failed so the stage does not revisit it until an operator reset.
func (w *WebsiteDiscovery) Process(ctx context.Context, b *model.Buyer) error {
	if b.Website != "" {
		return nil
	}
	query := fmt.Sprintf("%s official website", b.Name)
	resp, err := call(ctx, w.svc, "jina", func(ctx context.Context) (*jina.SearchResponse, error) {
		return w.svc.Jina.Search(ctx, query, jina.WithCountry("GB"))
	})
	if err != nil {
		return eris.Wrapf(err, "website_discovery: search %q", b.Name)
	}

	var results []jina.SearchResult
	if resp != nil {
		results = resp.Data
	}
	site := PickOfficialWebsite(b.Name, results)
	if site == "" {
		patch := model.BuyerPatch{DiscoveryMethod: strPtr(model.DiscoveryFailed)}
		if err := w.svc.commit(ctx, b, patch, ""); err != nil {
			return err
		}
		return resilience.NewExternalError("jina", model.ErrNotFound,
			eris.Errorf("website_discovery: no official website for %q", b.Name))
	}

	patch := model.BuyerPatch{
		Website:         strPtr(site),
		DiscoveryMethod: strPtr(model.DiscoverySearch),
	}
	return w.svc.commit(ctx, b, patch, model.SourceSearch)
}

// PickOfficialWebsite returns the origin of the first search result that is
// not an aggregator and either sits under a UK public-sector suffix or
// shares a distinctive word with the organization name.
func PickOfficialWebsite(name string, results []jina.SearchResult) string {
	tokens := nameTokens(name)
	for _, r := range results {
		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		bare := strings.TrimPrefix(host, "www.")
		if isAggregator(bare) {
			continue
		}
		if hasPublicSuffix(bare) || sharesToken(bare, tokens) {
			return u.Scheme + "://" + host
		}
	}
	return ""
}

func isAggregator(host string) bool {
	for _, p := range nationalPortals {
		if host == p {
			return true
		}
	}
	for _, d := range aggregatorDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hasPublicSuffix(host string) bool {
	for _, s := range publicSectorSuffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

func nameTokens(name string) []string {
	var out []string
	for _, f := range strings.Fields(nonAlnum.ReplaceAllString(strings.ToLower(foldAccents(name)), " ")) {
		if len(f) >= 4 && !genericNameWords[f] {
			out = append(out, f)
		}
	}
	return out
}

func sharesToken(host string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(host, t) {
			return true
		}
	}
	return false
}
