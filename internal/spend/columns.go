package spend

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/pkg/anthropic"
)

// ColumnMap holds the header index of each spend field, -1 when absent.
type ColumnMap struct {
	Date        int
	Amount      int
	Vendor      int
	Category    int
	Subcategory int
	Department  int
	Reference   int
	// Schema names the known layout or "heuristic" or "ai".
	Schema string
}

func emptyColumnMap() ColumnMap {
	return ColumnMap{Date: -1, Amount: -1, Vendor: -1, Category: -1, Subcategory: -1, Department: -1, Reference: -1}
}

// Complete reports whether the three required fields are mapped.
func (m ColumnMap) Complete() bool {
	return m.Date >= 0 && m.Amount >= 0 && m.Vendor >= 0
}

type schemaFields struct {
	date, amount, vendor, category, subcategory, department, reference string
}

type knownSchema struct {
	name   string
	detect []string
	fields schemaFields
}

// knownSchemas are published council layouts, most specific first. A schema
// applies when every detect fragment occurs in some header.
var knownSchemas = []knownSchema{
	{"devon", []string{"expense area", "expense type", "supplier name"},
		schemaFields{date: "date", amount: "amount", vendor: "supplier name", category: "expense area", subcategory: "expense type"}},
	{"rochdale", []string{"directorate", "purpose", "supplier name", "effective date"},
		schemaFields{date: "effective date", amount: "amount (gbp)", vendor: "supplier name", category: "purpose", department: "directorate"}},
	{"ipswich", []string{"service area categorisation", "expenses type"},
		schemaFields{date: "date", amount: "amount", vendor: "supplier name", category: "service area categorisation", subcategory: "expenses type"}},
	{"manchester", []string{"service area", "net amount", "invoice payment date"},
		schemaFields{date: "invoice payment date", amount: "net amount", vendor: "supplier name", category: "service area"}},
	{"eden", []string{"expense area", "body name", "supplier name"},
		schemaFields{date: "date", amount: "amount", vendor: "supplier name", category: "expense area", department: "body name"}},
	{"generic_payee", []string{"department", "total (inc. vat)", "payee name", "payment date"},
		schemaFields{date: "payment date", amount: "total (inc. vat)", vendor: "payee name", category: "category", department: "department"}},
	{"generic_service", []string{"service", "value", "supplier", "date paid"},
		schemaFields{date: "date paid", amount: "value", vendor: "supplier", category: "service", subcategory: "description"}},
	{"generic_creditor", []string{"cost centre", "subjective", "net", "creditor name"},
		schemaFields{date: "posting date", amount: "net", vendor: "creditor name", category: "cost centre", subcategory: "subjective"}},
	{"nhs", []string{"budget code", "net amount", "invoice date"},
		schemaFields{date: "invoice date", amount: "net amount", vendor: "supplier", category: "budget code", subcategory: "description"}},
	{"proclass", []string{"proclass description", "total", "supplier name"},
		schemaFields{date: "date", amount: "total", vendor: "supplier name", category: "proclass description"}},
}

func normalizedHeaders(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.Join(strings.Fields(h), " "))
	}
	return out
}

// headerIndex finds name among headers, preferring an exact match over a
// header that merely contains it.
func headerIndex(headers []string, name string) int {
	if name == "" {
		return -1
	}
	name = strings.ToLower(strings.TrimSpace(name))
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	for i, h := range headers {
		if strings.Contains(h, name) {
			return i
		}
	}
	return -1
}

func matchKnownSchema(headers []string) (ColumnMap, bool) {
	for _, s := range knownSchemas {
		if !containsAll(headers, s.detect) {
			continue
		}
		m := fromFields(headers, s.fields)
		if !m.Complete() {
			continue
		}
		m.Schema = s.name
		return m, true
	}
	return ColumnMap{}, false
}

func containsAll(headers, fragments []string) bool {
	for _, f := range fragments {
		found := false
		for _, h := range headers {
			if strings.Contains(h, f) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func fromFields(headers []string, f schemaFields) ColumnMap {
	return ColumnMap{
		Date:        headerIndex(headers, f.date),
		Amount:      headerIndex(headers, f.amount),
		Vendor:      headerIndex(headers, f.vendor),
		Category:    headerIndex(headers, f.category),
		Subcategory: headerIndex(headers, f.subcategory),
		Department:  headerIndex(headers, f.department),
		Reference:   headerIndex(headers, f.reference),
	}
}

var fieldPatterns = []struct {
	re  *regexp.Regexp
	set func(*ColumnMap, int)
}{
	{regexp.MustCompile(`\b(payment|paid|transaction|invoice|posting|effective)?\s*date\b`),
		func(m *ColumnMap, i int) { m.Date = i }},
	{regexp.MustCompile(`\b(amount|value|net|total|gross|sum)\b`),
		func(m *ColumnMap, i int) { m.Amount = i }},
	{regexp.MustCompile(`\b(supplier|vendor|payee|creditor|beneficiary|merchant|recipient)\b`),
		func(m *ColumnMap, i int) { m.Vendor = i }},
	{regexp.MustCompile(`\b(expense area|service area|category|purpose|expenditure type|proclass|service)\b`),
		func(m *ColumnMap, i int) { m.Category = i }},
	{regexp.MustCompile(`\b(expense type|subjective|sub.?category|description|account)\b`),
		func(m *ColumnMap, i int) { m.Subcategory = i }},
	{regexp.MustCompile(`\b(department|directorate|body name|division|portfolio|cost centre)\b`),
		func(m *ColumnMap, i int) { m.Department = i }},
	{regexp.MustCompile(`\b(reference|ref|transaction (id|number|no)|invoice (number|no)|voucher)\b`),
		func(m *ColumnMap, i int) { m.Reference = i }},
}

// heuristicColumns assigns each field the first unclaimed header its pattern
// matches.
func heuristicColumns(headers []string) ColumnMap {
	m := emptyColumnMap()
	claimed := make(map[int]bool)
	for _, p := range fieldPatterns {
		for i, h := range headers {
			if claimed[i] || !p.re.MatchString(h) {
				continue
			}
			p.set(&m, i)
			claimed[i] = true
			break
		}
	}
	m.Schema = "heuristic"
	return m
}

const columnPrompt = `Map these CSV columns to a unified spending data schema.

CSV headers: %s
Sample rows:
%s

Map to these fields (use the exact CSV column name, or null if not found):
- date: column containing the payment/transaction date
- amount: column containing the payment amount in GBP
- vendor: column containing the supplier/payee name
- category: column containing the spend category, service area, or purpose
- subcategory: column with more specific categorization (or null)
- department: column with the council department or directorate (or null)
- reference: column with transaction/invoice number (or null)

Return ONLY valid JSON:
{ "date": "column_name", "amount": "column_name", "vendor": "column_name", "category": "column_name", "subcategory": null, "department": null, "reference": null }`

type aiColumns struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Vendor      string `json:"vendor"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Department  string `json:"department"`
	Reference   string `json:"reference"`
}

// Asker sends a single user prompt to the model and returns its text.
type Asker func(ctx context.Context, purpose, prompt string) (string, error)

// ColumnMapper maps spend file headers to fields: known layouts first, then
// header heuristics, then the model. Model answers, including failures, are
// cached per header set for the life of the mapper.
type ColumnMapper struct {
	ask Asker

	mu    sync.Mutex
	cache map[string]*schemaFields
}

// NewColumnMapper creates a mapper. ask may be nil, which disables the model
// fallback.
func NewColumnMapper(ask Asker) *ColumnMapper {
	return &ColumnMapper{ask: ask, cache: make(map[string]*schemaFields)}
}

// Map returns the column mapping for header. ok is false when date, amount
// and vendor cannot all be located.
func (c *ColumnMapper) Map(ctx context.Context, header []string, sample [][]string) (ColumnMap, bool) {
	headers := normalizedHeaders(header)
	if m, ok := matchKnownSchema(headers); ok {
		return m, true
	}
	if m := heuristicColumns(headers); m.Complete() {
		return m, true
	}
	if c.ask == nil {
		return ColumnMap{}, false
	}

	key := cacheKey(headers)
	c.mu.Lock()
	fields, hit := c.cache[key]
	c.mu.Unlock()
	if !hit {
		var err error
		fields, err = c.askModel(ctx, header, sample)
		if err != nil {
			zap.L().With(zap.String("component", "spend")).Warn("column mapping failed",
				zap.Strings("headers", header), zap.Error(err))
		}
		c.mu.Lock()
		c.cache[key] = fields
		c.mu.Unlock()
	}
	if fields == nil {
		return ColumnMap{}, false
	}
	m := fromFields(headers, *fields)
	if !m.Complete() {
		return ColumnMap{}, false
	}
	m.Schema = "ai"
	return m, true
}

// askModel returns the column names the model picked, or nil when it could
// not name date, amount and vendor.
func (c *ColumnMapper) askModel(ctx context.Context, header []string, sample [][]string) (*schemaFields, error) {
	rows := make([]string, 0, 3)
	for i, r := range sample {
		if i == 3 {
			break
		}
		rows = append(rows, strings.Join(r, " | "))
	}
	text, err := c.ask(ctx, "spend_columns", fmt.Sprintf(columnPrompt, strings.Join(header, ", "), strings.Join(rows, "\n")))
	if err != nil {
		return nil, err
	}
	raw, err := anthropic.ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	var ac aiColumns
	if err := json.Unmarshal([]byte(raw), &ac); err != nil {
		return nil, err
	}
	if ac.Date == "" || ac.Amount == "" || ac.Vendor == "" {
		return nil, nil
	}
	return &schemaFields{
		date: ac.Date, amount: ac.Amount, vendor: ac.Vendor, category: ac.Category,
		subcategory: ac.Subcategory, department: ac.Department, reference: ac.Reference,
	}, nil
}

func cacheKey(headers []string) string {
	sorted := append([]string(nil), headers...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
