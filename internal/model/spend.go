package model

import "time"

// DefaultCategory is used when a spend row has no category.
const DefaultCategory = "Other"

// SpendTransaction is a single payment line from a buyer's published spend
// file. (BuyerID, Date, Vendor, Amount, Reference) is the natural key.
type SpendTransaction struct {
	ID               string    `json:"id"`
	BuyerID          string    `json:"buyer_id"`
	Date             time.Time `json:"date"`
	Amount           float64   `json:"amount"`
	Vendor           string    `json:"vendor"`
	VendorNormalized string    `json:"vendor_normalized"`
	Category         string    `json:"category"`
	Subcategory      string    `json:"subcategory,omitempty"`
	Department       string    `json:"department,omitempty"`
	Reference        string    `json:"reference"`
	SourceFile       string    `json:"source_file"`
	CreatedAt        time.Time `json:"created_at"`
}

// DateRange spans the earliest and latest transaction dates.
type DateRange struct {
	Earliest *time.Time `json:"earliest,omitempty"`
	Latest   *time.Time `json:"latest,omitempty"`
}

// CategoryTotal is one row of the category breakdown.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// VendorTotal is one row of the vendor breakdown.
type VendorTotal struct {
	Vendor string  `json:"vendor"`
	Total  float64 `json:"total"`
	Count  int     `json:"count"`
}

// MonthlyTotal is spend for one calendar month.
type MonthlyTotal struct {
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Total float64 `json:"total"`
}

// SizeBucket aggregates vendors of one size class.
type SizeBucket struct {
	TotalSpend float64 `json:"total_spend"`
	Count      int     `json:"count"`
}

// VendorSizeBreakdown splits spend between SME and large vendors.
type VendorSizeBreakdown struct {
	SME   SizeBucket `json:"sme"`
	Large SizeBucket `json:"large"`
}

// YearlyVendorSet lists the normalized vendors paid in a year.
type YearlyVendorSet struct {
	Year    int      `json:"year"`
	Vendors []string `json:"vendors"`
}

// SpendSummary is the materialized per-buyer rollup, replaced wholesale on
// every recompute.
type SpendSummary struct {
	BuyerID              string              `json:"buyer_id"`
	TotalTransactions    int                 `json:"total_transactions"`
	TotalSpend           float64             `json:"total_spend"`
	DateRange            DateRange           `json:"date_range"`
	CategoryBreakdown    []CategoryTotal     `json:"category_breakdown"`
	VendorBreakdown      []VendorTotal       `json:"vendor_breakdown"`
	MonthlyTotals        []MonthlyTotal      `json:"monthly_totals"`
	VendorSizeBreakdown  VendorSizeBreakdown `json:"vendor_size_breakdown"`
	YearlyVendorSets     []YearlyVendorSet   `json:"yearly_vendor_sets"`
	SMEOpennessScore     int                 `json:"sme_openness_score"`
	VendorStabilityScore int                 `json:"vendor_stability_score"`
	CSVFilesProcessed    []string            `json:"csv_files_processed"`
	LastComputedAt       time.Time           `json:"last_computed_at"`
}
