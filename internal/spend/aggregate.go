package spend

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/store"
)

const (
	maxCategories = 30
	maxVendors    = 50

	largeVendorSpend = 500_000
	largeVendorCount = 50

	// smeBreadthBonus is added to the openness score when more than
	// smeBreadthVendors distinct SMEs are paid.
	smeBreadthBonus   = 10
	smeBreadthVendors = 20

	neutralStability = 50
)

// Vendor size classes.
const (
	SizeSME   = "sme"
	SizeLarge = "large"
)

// VendorSize classifies a vendor by its total spend and payment count.
func VendorSize(total float64, count int) string {
	if total > largeVendorSpend || count > largeVendorCount {
		return SizeLarge
	}
	return SizeSME
}

type vendorAgg struct {
	display string
	total   float64
	count   int
}

// Aggregate computes the spend summary of a buyer's transactions. It is
// pure: now only stamps LastComputedAt.
func Aggregate(buyerID string, txns []model.SpendTransaction, now time.Time) model.SpendSummary {
	s := model.SpendSummary{
		BuyerID:           buyerID,
		TotalTransactions: len(txns),
		CategoryBreakdown: []model.CategoryTotal{},
		VendorBreakdown:   []model.VendorTotal{},
		MonthlyTotals:     []model.MonthlyTotal{},
		YearlyVendorSets:  []model.YearlyVendorSet{},
		CSVFilesProcessed: []string{},
		LastComputedAt:    now.UTC(),
	}

	categories := make(map[string]*model.CategoryTotal)
	vendors := make(map[string]*vendorAgg)
	var vendorOrder []string
	months := make(map[[2]int]float64)
	years := make(map[int]map[string]bool)
	files := make(map[string]bool)

	for _, t := range txns {
		s.TotalSpend += t.Amount

		d := t.Date
		if s.DateRange.Earliest == nil || d.Before(*s.DateRange.Earliest) {
			s.DateRange.Earliest = &d
		}
		if s.DateRange.Latest == nil || d.After(*s.DateRange.Latest) {
			s.DateRange.Latest = &d
		}

		cat := t.Category
		if cat == "" {
			cat = model.DefaultCategory
		}
		c, ok := categories[cat]
		if !ok {
			c = &model.CategoryTotal{Category: cat}
			categories[cat] = c
		}
		c.Total += t.Amount
		c.Count++

		key := t.VendorNormalized
		if key == "" {
			key = NormalizeVendor(t.Vendor)
		}
		v, ok := vendors[key]
		if !ok {
			v = &vendorAgg{display: t.Vendor}
			vendors[key] = v
			vendorOrder = append(vendorOrder, key)
		}
		v.total += t.Amount
		v.count++

		months[[2]int{d.Year(), int(d.Month())}] += t.Amount

		if years[d.Year()] == nil {
			years[d.Year()] = make(map[string]bool)
		}
		years[d.Year()][key] = true

		if t.SourceFile != "" {
			files[t.SourceFile] = true
		}
	}

	for _, c := range categories {
		s.CategoryBreakdown = append(s.CategoryBreakdown, *c)
	}
	sort.Slice(s.CategoryBreakdown, func(i, j int) bool {
		a, b := s.CategoryBreakdown[i], s.CategoryBreakdown[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Category < b.Category
	})
	if len(s.CategoryBreakdown) > maxCategories {
		s.CategoryBreakdown = s.CategoryBreakdown[:maxCategories]
	}

	smeVendors := 0
	for _, key := range vendorOrder {
		v := vendors[key]
		s.VendorBreakdown = append(s.VendorBreakdown, model.VendorTotal{Vendor: v.display, Total: v.total, Count: v.count})
		if VendorSize(v.total, v.count) == SizeLarge {
			s.VendorSizeBreakdown.Large.TotalSpend += v.total
			s.VendorSizeBreakdown.Large.Count++
			continue
		}
		s.VendorSizeBreakdown.SME.TotalSpend += v.total
		s.VendorSizeBreakdown.SME.Count++
		smeVendors++
	}
	sort.SliceStable(s.VendorBreakdown, func(i, j int) bool {
		return s.VendorBreakdown[i].Total > s.VendorBreakdown[j].Total
	})
	if len(s.VendorBreakdown) > maxVendors {
		s.VendorBreakdown = s.VendorBreakdown[:maxVendors]
	}

	for k, total := range months {
		s.MonthlyTotals = append(s.MonthlyTotals, model.MonthlyTotal{Year: k[0], Month: k[1], Total: total})
	}
	sort.Slice(s.MonthlyTotals, func(i, j int) bool {
		a, b := s.MonthlyTotals[i], s.MonthlyTotals[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})

	for y, set := range years {
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		s.YearlyVendorSets = append(s.YearlyVendorSets, model.YearlyVendorSet{Year: y, Vendors: names})
	}
	sort.Slice(s.YearlyVendorSets, func(i, j int) bool { return s.YearlyVendorSets[i].Year < s.YearlyVendorSets[j].Year })

	for f := range files {
		s.CSVFilesProcessed = append(s.CSVFilesProcessed, f)
	}
	sort.Strings(s.CSVFilesProcessed)

	s.SMEOpennessScore = smeOpenness(s.VendorSizeBreakdown.SME.TotalSpend, s.TotalSpend, smeVendors)
	s.VendorStabilityScore = vendorStability(s.YearlyVendorSets)
	return s
}

func smeOpenness(smeSpend, total float64, smeVendors int) int {
	if total <= 0 {
		return 0
	}
	score := smeSpend / total * 100
	if smeVendors > smeBreadthVendors {
		score += smeBreadthBonus
	}
	return int(math.Min(100, math.Round(score)))
}

// vendorStability averages the Jaccard similarity of consecutive years'
// vendor sets, scaled to 0..100.
func vendorStability(years []model.YearlyVendorSet) int {
	if len(years) < 2 {
		return neutralStability
	}
	var sum float64
	for i := 0; i+1 < len(years); i++ {
		sum += jaccard(years[i].Vendors, years[i+1].Vendors)
	}
	return int(math.Round(sum / float64(len(years)-1) * 100))
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	inter := 0
	union := len(set)
	for _, v := range b {
		if set[v] {
			inter++
			continue
		}
		union++
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Recompute rebuilds and stores the buyer's spend summary from all of its
// transactions.
func Recompute(ctx context.Context, st store.Store, buyerID string, now time.Time) (model.SpendSummary, error) {
	txns, err := st.ListSpendTransactions(ctx, buyerID)
	if err != nil {
		return model.SpendSummary{}, eris.Wrapf(err, "spend: list transactions for %s", buyerID)
	}
	s := Aggregate(buyerID, txns, now)
	if err := st.UpsertSpendSummary(ctx, s); err != nil {
		return model.SpendSummary{}, eris.Wrapf(err, "spend: upsert summary for %s", buyerID)
	}
	return s, nil
}
