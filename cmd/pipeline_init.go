package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/budget"
	"github.com/k1p1l0/tendhunt-sub005/internal/datasync"
	"github.com/k1p1l0/tendhunt-sub005/internal/enrich"
	"github.com/k1p1l0/tendhunt-sub005/internal/errlog"
	"github.com/k1p1l0/tendhunt-sub005/internal/fetcher"
	"github.com/k1p1l0/tendhunt-sub005/internal/jobstate"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/runner"
	"github.com/k1p1l0/tendhunt-sub005/internal/scrape"
	"github.com/k1p1l0/tendhunt-sub005/internal/spend"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
	anthropicpkg "github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
	"github.com/k1p1l0/tendhunt-sub005/pkg/apify"
	"github.com/k1p1l0/tendhunt-sub005/pkg/firecrawl"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
	"github.com/k1p1l0/tendhunt-sub005/pkg/moderngov"
	"github.com/k1p1l0/tendhunt-sub005/pkg/ocds"
)

const (
	pageTimeout = 30 * time.Second
	fileTimeout = 2 * time.Minute
)

// pipelineEnv holds the store and the pipeline components the serve, run
// and admin commands share.
type pipelineEnv struct {
	Store   store.Store
	Jobs    *jobstate.Machine
	Budgets *budget.Governor
	Errors  *errlog.Reporter
	Runner  *runner.Runner
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initPipeline opens and migrates the store, builds every stage from the
// configured clients and wires the runner. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return newPipelineEnv(st, buildRegistry(st)), nil
}

// newPipelineEnv wires the runner and its collaborators around st.
func newPipelineEnv(st store.Store, reg *runner.Registry) *pipelineEnv {
	jobs := jobstate.New(st, cfg.Pipeline.ErrorLogSize)
	budgets := budget.New(st, budget.Defaults(cfg.Budgets), cfg.Pipeline.HardCap)
	errs := errlog.New(st)
	return &pipelineEnv{
		Store:   st,
		Jobs:    jobs,
		Budgets: budgets,
		Errors:  errs,
		Runner: runner.New(st, jobs, budgets, errs, reg, runner.Options{
			ItemTimeout: cfg.Pipeline.ItemTimeout(),
			RescanAfter: cfg.Pipeline.RescanAfter(),
		}),
	}
}

// buildRegistry registers the enrichment, spend and data-sync stages. A
// client whose credentials are missing is left nil; the stages that need it
// report a config error when they become active.
func buildRegistry(st store.Store) *runner.Registry {
	log := zap.L().With(zap.String("component", "init"))
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(cfg.Circuit))
	retry := resilience.FromRetryConfig(cfg.Retry)

	web := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Spend.UserAgent,
		Timeout:   pageTimeout,
		MaxBytes:  cfg.Spend.MaxFileBytes,
	})
	files := &fetcher.Mux{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: cfg.Spend.UserAgent,
			Timeout:   fileTimeout,
			MaxBytes:  cfg.Spend.MaxFileBytes,
		}),
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: fileTimeout, MaxBytes: cfg.Spend.MaxFileBytes}),
	}

	svc := &enrich.Services{
		Store:          st,
		Web:            web,
		ModernGov:      moderngov.NewClient(moderngov.WithTimeouts(secs(cfg.ModernGov.ConnectTimeoutSecs), secs(cfg.ModernGov.MeetingsTimeoutSecs))),
		LinkedInActor:  cfg.Apify.ActorID,
		LogoDevToken:   cfg.LogoDev.Token,
		LogoDevBaseURL: cfg.LogoDev.BaseURL,
		HaikuModel:     cfg.Anthropic.HaikuModel,
		MaxTokens:      cfg.Anthropic.MaxTokens,
		LookbackMonths: cfg.ModernGov.LookbackMonths,
		Breakers:       breakers,
		Retry:          retry,
	}

	scrapers := []scrape.Scraper{scrape.NewLocalScraper(cfg.Spend.UserAgent)}
	if cfg.Jina.Key != "" {
		jinaClient := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL), jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		svc.Jina = jinaClient
		scrapers = append(scrapers, scrape.NewJinaAdapter(jinaClient, breakers.Get("jina")))
	} else {
		log.Warn("TENDHUNT_JINA_KEY not set, website discovery and governance search disabled")
	}
	if cfg.Firecrawl.Key != "" {
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))))
	}
	svc.Scraper = scrape.NewChain(nil, scrapers...)

	if cfg.Apify.Token != "" {
		svc.Apify = apify.NewClient(cfg.Apify.Token, apify.WithBaseURL(cfg.Apify.BaseURL))
	}

	spendOpts := []spend.Option{
		spend.WithResilience(breakers, retry),
		spend.WithMaxFiles(cfg.Spend.MaxFilesPerBuyer),
	}
	if cfg.Anthropic.Key != "" {
		ai := anthropicpkg.NewClient(cfg.Anthropic.Key)
		svc.AI = ai
		spendOpts = append(spendOpts, spend.WithAI(ai, cfg.Anthropic.HaikuModel))
	} else {
		log.Warn("TENDHUNT_ANTHROPIC_KEY not set, personnel extraction and spend model fallbacks disabled")
	}

	reg := runner.NewRegistry()
	for _, s := range enrich.Stages(svc) {
		reg.Register(s)
	}
	reg.Register(spend.New(st, files, web, spendOpts...))

	feed := ocds.NewClient(
		ocds.WithContractsFinderURL(cfg.DataSync.ContractsFinderURL),
		ocds.WithFindTenderURL(cfg.DataSync.FindTenderURL),
		ocds.WithPageDelay(time.Duration(cfg.DataSync.PageDelayMillis)*time.Millisecond),
	)
	for _, source := range []string{model.SourceContractsFinder, model.SourceFindTender} {
		reg.RegisterPaged(datasync.New(source, feed, st, cfg.DataSync.BackfillStart, datasync.WithResilience(breakers, retry)))
	}
	return reg
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
