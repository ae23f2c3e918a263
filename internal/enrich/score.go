package enrich

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
)

// Score weights; they sum to 100.
const (
	weightOrgType       = 12
	weightWebsite       = 8
	weightLogo          = 5
	weightLinkedIn      = 5
	weightPortal        = 8
	weightBoardPapers   = 8
	weightDescription   = 5
	weightStaffCount    = 8
	weightAnnualBudget  = 8
	weightPersonnel     = 18
	weightDocuments     = 15
	personnelForFull    = 5
	documentsForFull    = 10
	highPriorityScore   = 70
	mediumPriorityScore = 40
)

// ComputeScore rates how much is known about a buyer, from 0 to 100.
func ComputeScore(b model.Buyer, personnel, documents int) int {
	score := 0.0
	add := func(present bool, w float64) {
		if present {
			score += w
		}
	}
	add(b.OrgType != "", weightOrgType)
	add(b.Website != "", weightWebsite)
	add(b.LogoURL != "", weightLogo)
	add(b.LinkedInURL != "", weightLinkedIn)
	add(b.DemocracyPortalURL != "", weightPortal)
	add(b.BoardPapersURL != "", weightBoardPapers)
	add(b.Description != "", weightDescription)
	add(b.StaffCount > 0, weightStaffCount)
	add(b.AnnualBudget > 0, weightAnnualBudget)
	score += float64(min(max(personnel, 0), personnelForFull)) / personnelForFull * weightPersonnel
	score += float64(min(max(documents, 0), documentsForFull)) / documentsForFull * weightDocuments

	return min(max(int(math.Round(score)), 0), 100)
}

// PriorityFor buckets a score.
func PriorityFor(score int) string {
	switch {
	case score >= highPriorityScore:
		return model.PriorityHigh
	case score >= mediumPriorityScore:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// Score recomputes the enrichment score of every buyer.
type Score struct {
	svc *Services
}

// NewScore creates the score stage.
func NewScore(svc *Services) *Score {
	svc.applyDefaults()
	return &Score{svc: svc}
}

// Name implements stage.Stage.
func (s *Score) Name() model.Stage { return model.StageScore }

// Filter implements stage.Stage.
func (s *Score) Filter() model.BuyerFilter { return model.BuyerFilter{} }

// CheckConfig implements stage.Stage.
func (s *Score) CheckConfig() error { return nil }

// Process implements stage.Stage.
func (s *Score) Process(ctx context.Context, b *model.Buyer) error {
	people, err := s.svc.Store.CountPersonnel(ctx, b.ID)
	if err != nil {
		return stage.Fatal(eris.Wrapf(err, "score: count personnel for %s", b.ID))
	}
	docs, err := s.svc.Store.CountBoardDocuments(ctx, b.ID)
	if err != nil {
		return stage.Fatal(eris.Wrapf(err, "score: count documents for %s", b.ID))
	}

	score := ComputeScore(*b, people, docs)
	version := b.EnrichmentVersion + 1
	patch := model.BuyerPatch{
		EnrichmentScore:    &score,
		EnrichmentPriority: strPtr(PriorityFor(score)),
		EnrichmentVersion:  &version,
	}
	return s.svc.commit(ctx, b, patch, "")
}
