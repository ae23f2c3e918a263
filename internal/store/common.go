package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/db"
	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// tables lists the tables reported by Counts.
var tables = []string{
	"buyers", "data_sources", "board_documents", "key_personnel",
	"spend_transactions", "spend_summaries", "contracts", "jobs", "pipeline_errors",
}

var (
	buyerInsertSpec = db.UpsertSpec{
		Table:      "buyers",
		Key:        []string{"org_id"},
		InsertOnly: []string{"id", "name", "sector", "region", "created_at", "updated_at"},
	}
	dataSourceSpec = db.UpsertSpec{
		Table:      "data_sources",
		Key:        []string{"name"},
		Set:        []string{"org_type", "region", "website", "democracy_portal_url", "democracy_platform", "board_papers_url"},
		InsertOnly: []string{"id"},
		Touch:      []string{"updated_at"},
	}
	boardDocSpec = db.UpsertSpec{
		Table:      "board_documents",
		Key:        []string{"buyer_id", "source_url"},
		Set:        []string{"title", "document_type", "committee_name", "meeting_date", "content", "extraction_status"},
		InsertOnly: []string{"id", "created_at"},
		Touch:      []string{"updated_at"},
	}
	personnelSpec = db.UpsertSpec{
		Table:      "key_personnel",
		Key:        []string{"buyer_id", "name"},
		Set:        []string{"title", "role", "department", "email", "phone", "confidence", "extraction_method", "source_url"},
		InsertOnly: []string{"id", "created_at"},
		Touch:      []string{"updated_at"},
	}
	spendSpec = db.UpsertSpec{
		Table:      "spend_transactions",
		Key:        []string{"buyer_id", "date", "vendor", "amount", "reference"},
		Set:        []string{"vendor_normalized", "category", "subcategory", "department", "source_file"},
		InsertOnly: []string{"id", "created_at"},
	}
	contractSpec = db.UpsertSpec{
		Table:      "contracts",
		Key:        []string{"source", "release_id"},
		Set:        []string{"ocid", "title", "description", "buyer_name", "buyer_org_id", "value", "currency", "stage", "published_at"},
		InsertOnly: []string{"id"},
		Touch:      []string{"updated_at"},
	}
	summarySpec = db.UpsertSpec{
		Table: "spend_summaries",
		Key:   []string{"buyer_id"},
		Set:   []string{"summary", "last_computed_at"},
	}
	settingSpec = db.UpsertSpec{
		Table: "settings",
		Key:   []string{"key"},
		Set:   []string{"value"},
		Touch: []string{"updated_at"},
	}
)

func newID() string {
	return uuid.New().String()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// args accumulates query arguments and renders dialect placeholders.
type args struct {
	d    db.Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	if a.d == db.Postgres {
		return fmt.Sprintf("$%d", len(a.vals))
	}
	return "?"
}

func (a *args) json(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal json")
	}
	if a.d == db.Postgres {
		return a.add(b), nil
	}
	return a.add(string(b)), nil
}

// jsonArg encodes v for a JSON column. Postgres takes raw bytes; SQLite takes
// text so its json functions do not treat the value as a JSONB blob.
func jsonArg(d db.Dialect, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal json")
	}
	if d == db.Postgres {
		return b, nil
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// hasSource renders a membership test on the enrichment_sources JSON array.
func hasSource(a *args, source string) string {
	if a.d == db.Postgres {
		return fmt.Sprintf("jsonb_exists(enrichment_sources, %s)", a.add(source))
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(buyers.enrichment_sources) WHERE value = %s)", a.add(source))
}

// buyerFilterSQL translates a BuyerFilter into AND-ed predicates.
func buyerFilterSQL(a *args, f model.BuyerFilter) []string {
	var where []string
	if f.MissingClassification {
		where = append(where, "(org_type = '' OR data_source_id = '')")
	}
	if f.MissingWebsite {
		where = append(where, "website = ''")
	}
	if f.HasWebsite {
		where = append(where, "website <> ''")
	}
	if f.ExcludeDiscovery != "" {
		where = append(where, "discovery_method <> "+a.add(f.ExcludeDiscovery))
	}
	if f.MissingLogoOrLinkedIn {
		where = append(where, "(logo_url = '' OR linkedin_url = '')")
	}
	if f.HasDataSource {
		where = append(where, "data_source_id <> ''")
	}
	if f.MissingPortal {
		where = append(where, "democracy_portal_url = ''")
	}
	if f.HasPortal {
		where = append(where, "democracy_portal_url <> ''")
	}
	if f.Platform != "" {
		where = append(where, "democracy_platform = "+a.add(f.Platform))
	}
	if f.LacksSource != "" {
		where = append(where, "NOT "+hasSource(a, f.LacksSource))
	}
	if len(f.HasAnySource) > 0 {
		var ors []string
		for _, s := range f.HasAnySource {
			ors = append(ors, hasSource(a, s))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if f.SpendNotIngested {
		where = append(where, "spend_data_ingested = false")
	}
	return where
}

// buyerPatchSQL renders SET assignments for the non-nil fields of a patch.
func buyerPatchSQL(a *args, p model.BuyerPatch) ([]string, error) {
	var sets []string
	str := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = "+a.add(*v))
		}
	}
	str("org_type", p.OrgType)
	str("region", p.Region)
	str("data_source_id", p.DataSourceID)
	str("website", p.Website)
	str("logo_url", p.LogoURL)
	str("linkedin_url", p.LinkedInURL)
	str("democracy_portal_url", p.DemocracyPortalURL)
	str("democracy_platform", p.DemocracyPlatform)
	str("board_papers_url", p.BoardPapersURL)
	str("description", p.Description)
	str("transparency_page_url", p.TransparencyPageURL)
	str("discovery_method", p.DiscoveryMethod)
	str("enrichment_priority", p.EnrichmentPriority)
	if p.StaffCount != nil {
		sets = append(sets, "staff_count = "+a.add(*p.StaffCount))
	}
	if p.AnnualBudget != nil {
		sets = append(sets, "annual_budget = "+a.add(*p.AnnualBudget))
	}
	if p.SpendFileURLs != nil {
		ph, err := a.json(p.SpendFileURLs)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "spend_file_urls = "+ph)
	}
	if p.EnrichmentSources != nil {
		ph, err := a.json(p.EnrichmentSources)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "enrichment_sources = "+ph)
	}
	if p.EnrichmentScore != nil {
		sets = append(sets, "enrichment_score = "+a.add(*p.EnrichmentScore))
	}
	if p.EnrichmentVersion != nil {
		sets = append(sets, "enrichment_version = "+a.add(*p.EnrichmentVersion))
	}
	if p.LastEnrichedAt != nil {
		sets = append(sets, "last_enriched_at = "+a.add(p.LastEnrichedAt.UTC()))
	}
	if p.SpendDataIngested != nil {
		sets = append(sets, "spend_data_ingested = "+a.add(*p.SpendDataIngested))
	}
	if p.SpendDataAvailable != nil {
		sets = append(sets, "spend_data_available = "+a.add(*p.SpendDataAvailable))
	}
	if p.LastSpendIngestAt != nil {
		sets = append(sets, "last_spend_ingest_at = "+a.add(p.LastSpendIngestAt.UTC()))
	}
	return sets, nil
}

// errorFilterSQL translates an ErrorFilter into AND-ed predicates.
func errorFilterSQL(a *args, f model.ErrorFilter) []string {
	var where []string
	if f.Worker != "" {
		where = append(where, "worker = "+a.add(string(f.Worker)))
	}
	if f.Stage != "" {
		where = append(where, "stage = "+a.add(string(f.Stage)))
	}
	if f.ErrorType != "" {
		where = append(where, "error_type = "+a.add(string(f.ErrorType)))
	}
	if f.Resolved != nil {
		if *f.Resolved {
			where = append(where, "resolved_at IS NOT NULL")
		} else {
			where = append(where, "resolved_at IS NULL")
		}
	}
	return where
}

func joinSets(sets []string) string {
	return strings.Join(sets, ", ")
}

// listLimit applies the default page size for error listings.
func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

func whereClause(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

// selectCols renders a select list, casting JSON columns to text on Postgres
// so both backends scan them into strings.
func selectCols(d db.Dialect, cols []string, jsonCols ...string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c
		if d == db.Postgres {
			for _, j := range jsonCols {
				if c == j {
					out[i] = c + "::text"
				}
			}
		}
	}
	return strings.Join(out, ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

var buyerCols = []string{
	"id", "org_id", "name", "sector", "region", "org_type", "data_source_id",
	"website", "logo_url", "linkedin_url", "democracy_portal_url", "democracy_platform",
	"board_papers_url", "description", "staff_count", "annual_budget",
	"transparency_page_url", "spend_file_urls", "discovery_method", "enrichment_sources",
	"enrichment_score", "enrichment_priority", "enrichment_version", "last_enriched_at",
	"spend_data_ingested", "spend_data_available", "last_spend_ingest_at",
	"created_at", "updated_at",
}

var buyerJSONCols = []string{"spend_file_urls", "enrichment_sources"}

func scanBuyer(row scannable) (*model.Buyer, error) {
	var b model.Buyer
	var spendURLs, sources string
	err := row.Scan(
		&b.ID, &b.OrgID, &b.Name, &b.Sector, &b.Region, &b.OrgType, &b.DataSourceID,
		&b.Website, &b.LogoURL, &b.LinkedInURL, &b.DemocracyPortalURL, &b.DemocracyPlatform,
		&b.BoardPapersURL, &b.Description, &b.StaffCount, &b.AnnualBudget,
		&b.TransparencyPageURL, &spendURLs, &b.DiscoveryMethod, &sources,
		&b.EnrichmentScore, &b.EnrichmentPriority, &b.EnrichmentVersion, &b.LastEnrichedAt,
		&b.SpendDataIngested, &b.SpendDataAvailable, &b.LastSpendIngestAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalList(spendURLs, &b.SpendFileURLs); err != nil {
		return nil, err
	}
	if err := unmarshalList(sources, &b.EnrichmentSources); err != nil {
		return nil, err
	}
	return &b, nil
}

var dataSourceCols = []string{
	"id", "name", "org_type", "region", "website", "democracy_portal_url",
	"democracy_platform", "board_papers_url", "updated_at",
}

func scanDataSource(row scannable) (*model.DataSource, error) {
	var ds model.DataSource
	err := row.Scan(&ds.ID, &ds.Name, &ds.OrgType, &ds.Region, &ds.Website,
		&ds.DemocracyPortalURL, &ds.DemocracyPlatform, &ds.BoardPapersURL, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

var boardDocCols = []string{
	"id", "buyer_id", "source_url", "title", "document_type", "committee_name",
	"meeting_date", "content", "extraction_status", "created_at", "updated_at",
}

func scanBoardDoc(row scannable) (*model.BoardDocument, error) {
	var d model.BoardDocument
	err := row.Scan(&d.ID, &d.BuyerID, &d.SourceURL, &d.Title, &d.DocumentType, &d.CommitteeName,
		&d.MeetingDate, &d.Content, &d.ExtractionStatus, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var personnelCols = []string{
	"id", "buyer_id", "name", "title", "role", "department", "email", "phone",
	"confidence", "extraction_method", "source_url", "created_at", "updated_at",
}

func scanPersonnel(row scannable) (*model.KeyPersonnel, error) {
	var p model.KeyPersonnel
	var role string
	err := row.Scan(&p.ID, &p.BuyerID, &p.Name, &p.Title, &role, &p.Department, &p.Email, &p.Phone,
		&p.Confidence, &p.ExtractionMethod, &p.SourceURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return &p, nil
}

var spendCols = []string{
	"id", "buyer_id", "date", "amount", "vendor", "vendor_normalized", "category",
	"subcategory", "department", "reference", "source_file", "created_at",
}

func scanSpend(row scannable) (*model.SpendTransaction, error) {
	var t model.SpendTransaction
	err := row.Scan(&t.ID, &t.BuyerID, &t.Date, &t.Amount, &t.Vendor, &t.VendorNormalized, &t.Category,
		&t.Subcategory, &t.Department, &t.Reference, &t.SourceFile, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var jobCols = []string{
	"stage", "worker", "status", "cursor", "batch_size", "total_processed", "total_errors",
	"error_log", "started_at", "last_run_at", "completed_at", "version",
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var worker, status, stage, errorLog string
	err := row.Scan(&stage, &worker, &status, &j.Cursor, &j.BatchSize, &j.TotalProcessed, &j.TotalErrors,
		&errorLog, &j.StartedAt, &j.LastRunAt, &j.CompletedAt, &j.Version)
	if err != nil {
		return nil, err
	}
	j.Stage = model.Stage(stage)
	j.Worker = model.Worker(worker)
	j.Status = model.JobStatus(status)
	if err := unmarshalList(errorLog, &j.ErrorLog); err != nil {
		return nil, err
	}
	return &j, nil
}

var pipelineErrorCols = []string{
	"id", "worker", "stage", "error_type", "message", "buyer_id", "buyer_name", "created_at", "resolved_at",
}

func scanPipelineError(row scannable) (*model.PipelineError, error) {
	var e model.PipelineError
	var worker, stage, typ string
	err := row.Scan(&e.ID, &worker, &stage, &typ, &e.Message, &e.BuyerID, &e.BuyerName, &e.CreatedAt, &e.ResolvedAt)
	if err != nil {
		return nil, err
	}
	e.Worker = model.Worker(worker)
	e.Stage = model.Stage(stage)
	e.ErrorType = model.ErrorType(typ)
	return &e, nil
}

func unmarshalList(raw string, dst *[]string) error {
	if raw == "" {
		*dst = []string{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return eris.Wrap(err, "store: unmarshal json list")
	}
	if *dst == nil {
		*dst = []string{}
	}
	return nil
}

// Row builders produce arguments in UpsertSpec.Columns() order.

func boardDocRow(doc model.BoardDocument, now time.Time) []any {
	id := doc.ID
	if id == "" {
		id = newID()
	}
	return []any{
		doc.BuyerID, doc.SourceURL,
		doc.Title, doc.DocumentType, doc.CommitteeName, nullTime(doc.MeetingDate), doc.Content, doc.ExtractionStatus,
		id, now,
		now,
	}
}

func personnelRow(p model.KeyPersonnel, now time.Time) []any {
	id := p.ID
	if id == "" {
		id = newID()
	}
	return []any{
		p.BuyerID, p.Name,
		p.Title, string(p.Role), p.Department, p.Email, p.Phone, p.Confidence, p.ExtractionMethod, p.SourceURL,
		id, now,
		now,
	}
}

func spendRow(t model.SpendTransaction, now time.Time) []any {
	id := t.ID
	if id == "" {
		id = newID()
	}
	category := t.Category
	if category == "" {
		category = model.DefaultCategory
	}
	return []any{
		t.BuyerID, t.Date.UTC(), t.Vendor, t.Amount, t.Reference,
		t.VendorNormalized, category, t.Subcategory, t.Department, t.SourceFile,
		id, now,
	}
}

func contractRow(c model.Contract, now time.Time) []any {
	id := c.ID
	if id == "" {
		id = newID()
	}
	return []any{
		c.Source, c.ReleaseID,
		c.OCID, c.Title, c.Description, c.BuyerName, c.BuyerOrgID, c.Value, c.Currency, c.Stage, nullTime(c.PublishedAt),
		id,
		now,
	}
}

func dataSourceRow(ds model.DataSource, now time.Time) []any {
	id := ds.ID
	if id == "" {
		id = newID()
	}
	return []any{
		ds.Name,
		ds.OrgType, ds.Region, ds.Website, ds.DemocracyPortalURL, ds.DemocracyPlatform, ds.BoardPapersURL,
		id,
		now,
	}
}

func buyerInsertRow(b model.Buyer, now time.Time) []any {
	id := b.ID
	if id == "" {
		id = newID()
	}
	return []any{b.OrgID, id, b.Name, b.Sector, b.Region, now, now}
}

// nullTime returns nil for a missing timestamp so both drivers bind NULL.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func truncateMessage(msg string) string {
	if len(msg) > model.MaxErrorMessage {
		return msg[:model.MaxErrorMessage]
	}
	return msg
}
