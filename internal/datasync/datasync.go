// Package datasync ingests contract notices from the OCDS feeds and creates
// the buyers they name.
package datasync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
	"github.com/k1p1l0/tendhunt-sub005/pkg/ocds"
)

// Syncer is the paged stage for one OCDS source.
type Syncer struct {
	name     model.Stage
	source   string
	from     string
	client   ocds.Client
	st       store.Store
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithResilience sets the retry policy and breakers used for page fetches.
func WithResilience(breakers *resilience.ServiceBreakers, retry resilience.RetryConfig) Option {
	return func(s *Syncer) {
		s.breakers = breakers
		s.retry = retry
	}
}

// New creates the stage for source. from is the RFC 3339 backfill origin
// used when the cursor is empty.
func New(source string, client ocds.Client, st store.Store, from string, opts ...Option) *Syncer {
	s := &Syncer{
		source: source,
		from:   from,
		client: client,
		st:     st,
		retry:  resilience.DefaultRetryConfig(),
	}
	switch source {
	case model.SourceContractsFinder:
		s.name = model.StageSyncContractsFinder
	case model.SourceFindTender:
		s.name = model.StageSyncFindTender
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breakers == nil {
		s.breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return s
}

// Name implements stage.Paged.
func (s *Syncer) Name() model.Stage { return s.name }

// CheckConfig implements stage.Paged.
func (s *Syncer) CheckConfig() error {
	if s.name == "" {
		return resilience.NewConfigError("datasync: unknown source %q", s.source)
	}
	if _, err := time.Parse(time.RFC3339, s.from); err != nil {
		return resilience.NewConfigError("datasync: backfill start %q is not RFC 3339", s.from)
	}
	return nil
}

// RunPages implements stage.Paged. A page that cannot be fetched ends the
// run with the cursor left on that page; store failures are fatal.
func (s *Syncer) RunPages(ctx context.Context, cursor string, budget int) (stage.PageResult, error) {
	log := zap.L().With(zap.String("component", "datasync"), zap.String("source", s.source))
	res := stage.PageResult{NextCursor: cursor}

	for res.Processed < budget {
		page, err := resilience.Call(ctx, s.breakers, s.retry, s.source, func(ctx context.Context) (ocds.Page, error) {
			return s.client.FetchPage(ctx, s.source, res.NextCursor, s.from)
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, eris.Wrap(ctx.Err(), "datasync: cancelled")
			}
			res.Errors++
			res.ItemErrors = append(res.ItemErrors, stage.ItemError{
				Type:    resilience.Typed(err),
				Message: eris.Wrapf(err, "datasync: fetch %s page", s.source).Error(),
			})
			log.Warn("page fetch failed", zap.String("cursor", res.NextCursor), zap.Error(err))
			return res, nil
		}

		if err := s.ingest(ctx, page.Releases, &res); err != nil {
			return res, err
		}

		res.NextCursor = page.NextCursor
		log.Debug("page ingested",
			zap.Int("releases", len(page.Releases)),
			zap.Int("processed", res.Processed),
		)
		if page.Done() {
			res.Exhausted = true
			break
		}
	}
	return res, nil
}

// ingest maps releases, creates missing buyers and upserts contracts.
func (s *Syncer) ingest(ctx context.Context, releases []ocds.Release, res *stage.PageResult) error {
	contracts := make([]model.Contract, 0, len(releases))
	buyers := make(map[string]model.Buyer)
	var order []string

	for _, r := range releases {
		res.Processed++
		m, err := ocds.MapRelease(r, s.source)
		if err != nil {
			res.Errors++
			res.ItemErrors = append(res.ItemErrors, stage.ItemError{
				Type:    model.ErrParse,
				Message: err.Error(),
			})
			continue
		}
		contracts = append(contracts, m.Contract)
		if _, seen := buyers[m.Buyer.OrgID]; !seen {
			buyers[m.Buyer.OrgID] = m.Buyer
			order = append(order, m.Buyer.OrgID)
		}
	}

	for _, id := range order {
		if _, err := s.st.UpsertBuyer(ctx, buyers[id]); err != nil {
			return stage.Fatal(eris.Wrapf(err, "datasync: upsert buyer %s", id))
		}
	}
	if len(contracts) == 0 {
		return nil
	}
	if _, err := s.st.UpsertContracts(ctx, contracts); err != nil {
		return stage.Fatal(eris.Wrap(err, "datasync: upsert contracts"))
	}
	return nil
}
