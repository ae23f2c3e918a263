package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
)

// catalogTTL bounds how long a loaded catalog is reused across invocations.
const catalogTTL = 10 * time.Minute

type catalogEntry struct {
	ds   model.DataSource
	norm string
}

// Classify matches buyer names against the DataSource catalog, falling back
// to keyword heuristics for the org type.
type Classify struct {
	svc *Services

	mu       sync.Mutex
	entries  []catalogEntry
	loadedAt time.Time
}

// NewClassify creates the classify stage.
func NewClassify(svc *Services) *Classify {
	svc.applyDefaults()
	return &Classify{svc: svc}
}

// Name implements stage.Stage.
func (c *Classify) Name() model.Stage { return model.StageClassify }

// Filter implements stage.Stage.
func (c *Classify) Filter() model.BuyerFilter {
	return model.BuyerFilter{MissingClassification: true}
}

// CheckConfig implements stage.Stage. Classification needs no credentials.
func (c *Classify) CheckConfig() error { return nil }

// Process implements stage.Stage.
func (c *Classify) Process(ctx context.Context, b *model.Buyer) error {
	if b.OrgType != "" && b.DataSourceID != "" {
		return nil
	}
	entries, err := c.catalog(ctx)
	if err != nil {
		return stage.Fatal(err)
	}

	if ds, score, ok := bestMatch(b.Name, entries); ok {
		zap.L().Debug("classify: catalog match",
			zap.String("buyer_id", b.ID),
			zap.String("data_source", ds.Name),
			zap.Float64("similarity", score),
		)
		return c.svc.commit(ctx, b, catalogPatch(*b, ds), model.SourceDataSource)
	}

	if b.OrgType != "" {
		return nil
	}
	if t := HeuristicOrgType(b.Name, b.Sector); t != "" {
		return c.svc.commit(ctx, b, model.BuyerPatch{OrgType: strPtr(t)}, model.SourceHeuristic)
	}
	return nil
}

// catalog returns the normalized catalog, reloading it after catalogTTL.
func (c *Classify) catalog(ctx context.Context) ([]catalogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries != nil && c.svc.Now().Sub(c.loadedAt) < catalogTTL {
		return c.entries, nil
	}
	list, err := c.svc.Store.ListDataSources(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "classify: load catalog")
	}
	entries := make([]catalogEntry, 0, len(list))
	for _, ds := range list {
		entries = append(entries, catalogEntry{ds: ds, norm: NormalizeName(ds.Name)})
	}
	c.entries = entries
	c.loadedAt = c.svc.Now()
	return entries, nil
}

// bestMatch returns the most similar catalog entry for name. Ties keep the
// earlier entry, so results are deterministic for a given catalog order.
func bestMatch(name string, entries []catalogEntry) (model.DataSource, float64, bool) {
	norm := NormalizeName(name)
	if len(norm) < minMatchChars {
		return model.DataSource{}, 0, false
	}
	best, bestScore := -1, 0.0
	for i, e := range entries {
		if len(e.norm) < minMatchChars {
			continue
		}
		if s := Similarity(norm, e.norm); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < MatchThreshold {
		return model.DataSource{}, bestScore, false
	}
	return entries[best].ds, bestScore, true
}

// catalogPatch copies the catalog fields onto a buyer. The website is only
// filled when the buyer has none.
func catalogPatch(b model.Buyer, ds model.DataSource) model.BuyerPatch {
	p := model.BuyerPatch{
		OrgType:      strPtr(ds.OrgType),
		DataSourceID: strPtr(ds.ID),
	}
	if ds.Region != "" {
		p.Region = strPtr(ds.Region)
	}
	if ds.DemocracyPortalURL != "" {
		p.DemocracyPortalURL = strPtr(ds.DemocracyPortalURL)
	}
	if ds.DemocracyPlatform != "" {
		p.DemocracyPlatform = strPtr(ds.DemocracyPlatform)
	}
	if ds.BoardPapersURL != "" {
		p.BoardPapersURL = strPtr(ds.BoardPapersURL)
	}
	if ds.Website != "" && b.Website == "" {
		p.Website = strPtr(ds.Website)
		p.DiscoveryMethod = strPtr(model.DiscoveryCatalog)
	}
	return p
}
