package spend

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnMapper_KnownSchemas(t *testing.T) {
	tests := []struct {
		schema string
		header []string
		want   ColumnMap
	}{
		{
			schema: "devon",
			header: []string{"Body Name", "Date", "Expense Area", "Expense Type", "Supplier Name", "Amount", "Transaction Number"},
			want:   ColumnMap{Date: 1, Amount: 5, Vendor: 4, Category: 2, Subcategory: 3, Department: -1, Reference: -1, Schema: "devon"},
		},
		{
			schema: "rochdale",
			header: []string{"DIRECTORATE", "PURPOSE", "SUPPLIER NAME", "EFFECTIVE DATE", "AMOUNT (GBP)"},
			want:   ColumnMap{Date: 3, Amount: 4, Vendor: 2, Category: 1, Subcategory: -1, Department: 0, Reference: -1, Schema: "rochdale"},
		},
		{
			schema: "manchester",
			header: []string{"Supplier Name", "Service Area", "Invoice Payment Date", "Net Amount"},
			want:   ColumnMap{Date: 2, Amount: 3, Vendor: 0, Category: 1, Subcategory: -1, Department: -1, Reference: -1, Schema: "manchester"},
		},
		{
			schema: "nhs",
			header: []string{"Invoice Date", "Budget Code", "Description", "Supplier", "Net Amount"},
			want:   ColumnMap{Date: 0, Amount: 4, Vendor: 3, Category: 1, Subcategory: 2, Department: -1, Reference: -1, Schema: "nhs"},
		},
	}
	m := NewColumnMapper(nil)
	for _, tt := range tests {
		t.Run(tt.schema, func(t *testing.T) {
			got, ok := m.Map(context.Background(), tt.header, nil)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnMapper_Heuristic(t *testing.T) {
	m := NewColumnMapper(nil)
	got, ok := m.Map(context.Background(), []string{"Payee", "Transaction Date", "Gross Value", "Directorate", "Ref"}, nil)
	require.True(t, ok)
	assert.Equal(t, "heuristic", got.Schema)
	assert.Equal(t, 1, got.Date)
	assert.Equal(t, 2, got.Amount)
	assert.Equal(t, 0, got.Vendor)
	assert.Equal(t, 3, got.Department)
	assert.Equal(t, 4, got.Reference)
	assert.Equal(t, -1, got.Category)
}

func TestColumnMapper_ModelFallbackIsCached(t *testing.T) {
	var calls atomic.Int32
	ask := func(_ context.Context, purpose, prompt string) (string, error) {
		calls.Add(1)
		assert.Equal(t, "spend_columns", purpose)
		assert.Contains(t, prompt, "CSV headers: Whn, Hw Mch, Wh")
		assert.Contains(t, prompt, "01/04/2025 | 12.50 | Acme")
		return "```json\n{\"date\": \"Whn\", \"amount\": \"Hw Mch\", \"vendor\": \"Wh\", \"category\": null}\n```", nil
	}
	m := NewColumnMapper(ask)
	header := []string{"Whn", "Hw Mch", "Wh"}
	sample := [][]string{{"01/04/2025", "12.50", "Acme"}}

	got, ok := m.Map(context.Background(), header, sample)
	require.True(t, ok)
	assert.Equal(t, ColumnMap{Date: 0, Amount: 1, Vendor: 2, Category: -1, Subcategory: -1, Department: -1, Reference: -1, Schema: "ai"}, got)

	again, ok := m.Map(context.Background(), []string{"Wh", "Whn", "Hw Mch"}, sample)
	require.True(t, ok)
	assert.Equal(t, "ai", again.Schema)
	assert.Equal(t, int32(1), calls.Load(), "same header set is answered from cache")
}

func TestColumnMapper_ModelFailureIsCached(t *testing.T) {
	var calls atomic.Int32
	m := NewColumnMapper(func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "I cannot tell which column is which.", nil
	})
	for range 2 {
		_, ok := m.Map(context.Background(), []string{"A", "B", "C"}, nil)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestColumnMapper_NoModel(t *testing.T) {
	_, ok := NewColumnMapper(nil).Map(context.Background(), []string{"A", "B", "C"}, nil)
	assert.False(t, ok)
}

func TestCacheKeyIgnoresOrder(t *testing.T) {
	a := cacheKey(normalizedHeaders([]string{"Date", " Amount ", "Supplier"}))
	b := cacheKey(normalizedHeaders([]string{"supplier", "DATE", "amount"}))
	assert.Equal(t, a, b)
	assert.True(t, strings.Contains(a, "|"))
}
