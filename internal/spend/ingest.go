// Package spend finds, downloads and aggregates the spend files UK public
// bodies publish under their transparency obligations.
package spend

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/k1p1l0/tendhunt-sub005/internal/fetcher"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
)

const (
	defaultModel        = "claude-haiku-4-5-20251001"
	defaultMaxFiles     = 12
	maxTransactions     = 5000
	upsertChunk         = 500
	downloadConcurrency = 2
	minPageLinks        = 3
	maxPageBytes        = 2 << 20
)

// PageFetcher reads HTML pages. *fetcher.HTTPFetcher satisfies it.
type PageFetcher interface {
	FetchPrefix(ctx context.Context, rawURL string, n int64) ([]byte, error)
}

// Ingest is the spend_ingest stage.
type Ingest struct {
	st       store.Store
	files    fetcher.Fetcher
	web      PageFetcher
	ai       anthropic.Client
	model    string
	maxFiles int
	columns  *ColumnMapper
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
	now      func() time.Time
	log      *zap.Logger
}

// Option configures an Ingest.
type Option func(*Ingest)

// WithAI enables the model fallbacks for discovery, link extraction and
// column mapping.
func WithAI(client anthropic.Client, model string) Option {
	return func(g *Ingest) {
		g.ai = client
		if model != "" {
			g.model = model
		}
	}
}

// WithResilience sets the retry policy and breakers for outbound calls.
func WithResilience(breakers *resilience.ServiceBreakers, retry resilience.RetryConfig) Option {
	return func(g *Ingest) {
		g.breakers = breakers
		g.retry = retry
	}
}

// WithMaxFiles caps the files downloaded per buyer.
func WithMaxFiles(n int) Option {
	return func(g *Ingest) {
		if n > 0 {
			g.maxFiles = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Ingest) { g.now = now }
}

// New creates the stage. files downloads data files; web reads HTML pages.
func New(st store.Store, files fetcher.Fetcher, web PageFetcher, opts ...Option) *Ingest {
	g := &Ingest{
		st:       st,
		files:    files,
		web:      web,
		model:    defaultModel,
		maxFiles: defaultMaxFiles,
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "spend")),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breakers == nil {
		g.breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	var ask Asker
	if g.ai != nil {
		ask = g.ask
	}
	g.columns = NewColumnMapper(ask)
	return g
}

func (g *Ingest) Name() model.Stage { return model.StageSpendIngest }

func (g *Ingest) Filter() model.BuyerFilter {
	return model.BuyerFilter{HasWebsite: true, SpendNotIngested: true}
}

func (g *Ingest) CheckConfig() error {
	if g.files == nil || g.web == nil {
		return resilience.NewConfigError("spend: no fetcher configured")
	}
	return nil
}

type fileResult struct {
	url  string
	txns []model.SpendTransaction
	err  error
}

// Process ingests one buyer. A buyer without a findable transparency page
// is marked ingested with transparencyPageUrl "none" and reported as
// not_found. Files listed in the buyer's stored summary are not downloaded
// again; any other file is read in full and only rows missing from the
// store are written.
func (g *Ingest) Process(ctx context.Context, b *model.Buyer) error {
	now := g.now().UTC()
	d, err := g.discover(ctx, b)
	if err != nil {
		if resilience.Typed(err) == model.ErrNotFound {
			if perr := g.markNoPage(ctx, b, now); perr != nil {
				return perr
			}
		}
		return err
	}

	links := g.fileLinks(ctx, b, d)
	if len(links) > g.maxFiles {
		links = links[:g.maxFiles]
	}

	done, err := g.processedFiles(ctx, b.ID)
	if err != nil {
		return stage.Fatal(err)
	}
	existing, err := g.st.ListSpendTransactions(ctx, b.ID)
	if err != nil {
		return stage.Fatal(eris.Wrapf(err, "spend: list transactions for %s", b.ID))
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[txnKey(t)] = true
	}
	budget := maxTransactions - len(existing)
	var pending []string
	for _, l := range links {
		if !done[l] {
			pending = append(pending, l)
		}
	}

	var (
		txns    []model.SpendTransaction
		parsed  int
		lastErr error
	)
	for _, r := range g.download(ctx, b.ID, pending) {
		if r.err != nil {
			lastErr = r.err
			g.log.Warn("spend file skipped", zap.String("buyer", b.Name), zap.String("url", r.url), zap.Error(r.err))
			continue
		}
		parsed++
		for _, t := range r.txns {
			k := txnKey(t)
			if seen[k] || len(txns) >= budget {
				continue
			}
			seen[k] = true
			txns = append(txns, t)
		}
	}
	if parsed == 0 && done == nil && lastErr != nil && resilience.IsTransient(lastErr) {
		return lastErr
	}

	for i := 0; i < len(txns); i += upsertChunk {
		end := min(i+upsertChunk, len(txns))
		if _, err := g.st.UpsertSpendTransactions(ctx, txns[i:end]); err != nil {
			return stage.Fatal(eris.Wrapf(err, "spend: upsert transactions for %s", b.ID))
		}
	}

	total := len(existing) + len(txns)
	if total > 0 {
		if _, err := Recompute(ctx, g.st, b.ID, now); err != nil {
			return stage.Fatal(err)
		}
	}

	ingestedFlag, available := true, total > 0
	patch := model.BuyerPatch{
		TransparencyPageURL: &d.PageURL,
		SpendFileURLs:       links,
		SpendDataIngested:   &ingestedFlag,
		SpendDataAvailable:  &available,
		LastSpendIngestAt:   &now,
	}
	if err := g.st.UpdateBuyer(ctx, b.ID, patch); err != nil {
		return stage.Fatal(eris.Wrapf(err, "spend: update buyer %s", b.ID))
	}
	*b = patch.Apply(*b)

	g.log.Info("spend ingested",
		zap.String("buyer", b.Name),
		zap.String("method", d.Method),
		zap.Int("files", len(links)),
		zap.Int("parsed", parsed),
		zap.Int("new_transactions", len(txns)),
	)
	return nil
}

// processedFiles returns the files of the buyer's last summary, or nil when
// no summary exists. The summary is written after every chunk of a run has
// committed, so a file that was only partly written is not in the set.
func (g *Ingest) processedFiles(ctx context.Context, buyerID string) (map[string]bool, error) {
	sum, err := g.st.GetSpendSummary(ctx, buyerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "spend: get summary for %s", buyerID)
	}
	done := make(map[string]bool, len(sum.CSVFilesProcessed))
	for _, f := range sum.CSVFilesProcessed {
		done[f] = true
	}
	return done, nil
}

// txnKey is the natural key the store upserts transactions on.
func txnKey(t model.SpendTransaction) string {
	return strings.Join([]string{
		t.BuyerID,
		t.Date.UTC().Format(time.DateOnly),
		t.Vendor,
		strconv.FormatFloat(t.Amount, 'f', -1, 64),
		t.Reference,
	}, "\x00")
}

func (g *Ingest) markNoPage(ctx context.Context, b *model.Buyer, now time.Time) error {
	none, ingested := model.TransparencyNone, true
	patch := model.BuyerPatch{
		TransparencyPageURL: &none,
		SpendDataIngested:   &ingested,
		LastSpendIngestAt:   &now,
	}
	if err := g.st.UpdateBuyer(ctx, b.ID, patch); err != nil {
		return stage.Fatal(eris.Wrapf(err, "spend: update buyer %s", b.ID))
	}
	*b = patch.Apply(*b)
	return nil
}

func (g *Ingest) download(ctx context.Context, buyerID string, urls []string) []fileResult {
	results := make([]fileResult, len(urls))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(downloadConcurrency)
	for i, u := range urls {
		eg.Go(func() error {
			txns, err := g.ingestFile(egCtx, buyerID, u)
			results[i] = fileResult{url: u, txns: txns, err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func (g *Ingest) ingestFile(ctx context.Context, buyerID, u string) ([]model.SpendTransaction, error) {
	f, err := resilience.Call(ctx, g.breakers, g.retry, "spend", func(ctx context.Context) (*fetcher.File, error) {
		return g.files.Fetch(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	table, err := fetcher.ParseFile(f)
	if err != nil {
		return nil, err
	}
	if len(table.Header) == 0 {
		return nil, resilience.NewExternalError("spend", model.ErrParse, eris.Errorf("spend: %s has no header row", u))
	}
	cols, ok := g.columns.Map(ctx, table.Header, table.Sample(3))
	if !ok {
		return nil, resilience.NewExternalError("spend", model.ErrParse, eris.Errorf("spend: cannot map columns of %s", u))
	}
	return Transactions(buyerID, u, table, cols), nil
}

// Transactions converts table rows to transactions. Rows without a date,
// with a zero amount or without a vendor are skipped.
func Transactions(buyerID, source string, t fetcher.Table, m ColumnMap) []model.SpendTransaction {
	out := make([]model.SpendTransaction, 0, len(t.Rows))
	for _, row := range t.Rows {
		date, ok := ParseFlexibleDate(cell(row, m.Date))
		if !ok {
			continue
		}
		amount := ParseAmount(cell(row, m.Amount))
		if amount == 0 {
			continue
		}
		vendor := cell(row, m.Vendor)
		if vendor == "" {
			continue
		}
		out = append(out, model.SpendTransaction{
			BuyerID:          buyerID,
			Date:             date,
			Amount:           amount,
			Vendor:           vendor,
			VendorNormalized: NormalizeVendor(vendor),
			Category:         NormalizeCategory(cell(row, m.Category)),
			Subcategory:      cell(row, m.Subcategory),
			Department:       cell(row, m.Department),
			Reference:        cell(row, m.Reference),
			SourceFile:       source,
		})
	}
	return out
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.Join(strings.Fields(row[i]), " ")
}

func (g *Ingest) ask(ctx context.Context, purpose, prompt string) (string, error) {
	resp, err := resilience.Call(ctx, g.breakers, g.retry, "anthropic", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     g.model,
			MaxTokens: 1024,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(g.model, purpose)
	return resp.Text(), nil
}
