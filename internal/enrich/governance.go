package enrich

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

// GovernanceURLs copies democracy portal and board paper URLs from a
// buyer's catalog entry.
type GovernanceURLs struct {
	svc *Services
}

// NewGovernanceURLs creates the governance URL stage.
func NewGovernanceURLs(svc *Services) *GovernanceURLs {
	svc.applyDefaults()
	return &GovernanceURLs{svc: svc}
}

// Name implements stage.Stage.
func (g *GovernanceURLs) Name() model.Stage { return model.StageGovernanceURLs }

// Filter implements stage.Stage.
func (g *GovernanceURLs) Filter() model.BuyerFilter {
	return model.BuyerFilter{HasDataSource: true, MissingPortal: true}
}

// CheckConfig implements stage.Stage.
func (g *GovernanceURLs) CheckConfig() error { return nil }

// Process implements stage.Stage.
func (g *GovernanceURLs) Process(ctx context.Context, b *model.Buyer) error {
	if b.DataSourceID == "" || b.DemocracyPortalURL != "" {
		return nil
	}
	ds, err := g.svc.Store.GetDataSource(ctx, b.DataSourceID)
	if errors.Is(err, store.ErrNotFound) {
		return resilience.NewExternalError("catalog", model.ErrNotFound,
			eris.Wrapf(err, "governance_urls: data source %s", b.DataSourceID))
	}
	if err != nil {
		return stage.Fatal(eris.Wrapf(err, "governance_urls: load data source %s", b.DataSourceID))
	}

	var patch model.BuyerPatch
	if ds.DemocracyPortalURL != "" {
		patch.DemocracyPortalURL = strPtr(ds.DemocracyPortalURL)
	}
	if ds.DemocracyPlatform != "" {
		patch.DemocracyPlatform = strPtr(ds.DemocracyPlatform)
	}
	if ds.BoardPapersURL != "" {
		patch.BoardPapersURL = strPtr(ds.BoardPapersURL)
	}
	if ds.Website != "" && b.Website == "" {
		patch.Website = strPtr(ds.Website)
		patch.DiscoveryMethod = strPtr(model.DiscoveryCatalog)
	}
	if patch.IsEmpty() {
		return nil
	}
	return g.svc.commit(ctx, b, patch, model.SourceDataSource)
}
