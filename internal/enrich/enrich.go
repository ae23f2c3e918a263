// Package enrich implements the eight buyer enrichment stages. Each stage
// visits one buyer at a time and writes only the buyer fields it owns.
package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/scrape"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
	"github.com/k1p1l0/tendhunt-sub005/pkg/apify"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
	"github.com/k1p1l0/tendhunt-sub005/pkg/moderngov"
)

const (
	defaultHaikuModel    = "claude-haiku-4-5-20251001"
	defaultLinkedInActor = "curious_coder~linkedin-company-search"
	defaultLogoDevURL    = "https://img.logo.dev"
)

// WebFetcher reads pages directly. *fetcher.HTTPFetcher satisfies it.
type WebFetcher interface {
	Head(ctx context.Context, rawURL string) (bool, error)
	FetchPrefix(ctx context.Context, rawURL string, n int64) ([]byte, error)
}

// Services bundles the store, external clients and call policy the stages
// share. A nil client disables the stages that need it: their CheckConfig
// reports a config error.
type Services struct {
	Store store.Store

	Jina      jina.Client
	Apify     apify.Client
	Web       WebFetcher
	ModernGov moderngov.Client
	Scraper   *scrape.Chain
	AI        anthropic.Client

	LinkedInActor  string
	LogoDevToken   string
	LogoDevBaseURL string
	HaikuModel     string
	MaxTokens      int64
	LookbackMonths int

	Breakers *resilience.ServiceBreakers
	Retry    resilience.RetryConfig
	Now      func() time.Time
}

func (s *Services) applyDefaults() {
	if s.Breakers == nil {
		s.Breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry = resilience.DefaultRetryConfig()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.HaikuModel == "" {
		s.HaikuModel = defaultHaikuModel
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = 1024
	}
	if s.LookbackMonths == 0 {
		s.LookbackMonths = 12
	}
	if s.LinkedInActor == "" {
		s.LinkedInActor = defaultLinkedInActor
	}
	if s.LogoDevBaseURL == "" {
		s.LogoDevBaseURL = defaultLogoDevURL
	}
}

// Stages returns the enrichment stages in pipeline order.
func Stages(svc *Services) []stage.Stage {
	svc.applyDefaults()
	return []stage.Stage{
		NewClassify(svc),
		NewWebsiteDiscovery(svc),
		NewLogoLinkedIn(svc),
		NewGovernanceURLs(svc),
		NewModernGov(svc),
		NewScrapePages(svc),
		NewPersonnel(svc),
		NewScore(svc),
	}
}

// call runs fn under the shared retry policy and the service's breaker.
func call[T any](ctx context.Context, svc *Services, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.Call(ctx, svc.Breakers, svc.Retry, service, fn)
}

// commit writes patch, tagging the buyer with source when non-empty, and
// mirrors the change onto b. Store failures are fatal to the batch.
func (s *Services) commit(ctx context.Context, b *model.Buyer, patch model.BuyerPatch, source string) error {
	if source != "" && !b.HasSource(source) {
		patch.EnrichmentSources = model.WithSource(b.EnrichmentSources, source)
	}
	if patch.IsEmpty() {
		return nil
	}
	now := s.Now().UTC()
	patch.LastEnrichedAt = &now
	if err := s.Store.UpdateBuyer(ctx, b.ID, patch); err != nil {
		return stage.Fatal(eris.Wrapf(err, "enrich: update buyer %s", b.ID))
	}
	*b = patch.Apply(*b)
	return nil
}

func strPtr(s string) *string { return &s }
