package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

func TestComputeScore(t *testing.T) {
	full := model.Buyer{
		OrgType: "local_council_metropolitan", Website: "https://www.leeds.gov.uk",
		LogoURL: "https://img.logo.dev/leeds.gov.uk", LinkedInURL: "https://www.linkedin.com/company/leeds",
		DemocracyPortalURL: "https://democracy.leeds.gov.uk", BoardPapersURL: "https://democracy.leeds.gov.uk/papers",
		Description: "Leeds City Council", StaffCount: 14000, AnnualBudget: 2.1e9,
	}

	tests := []struct {
		name            string
		buyer           model.Buyer
		personnel, docs int
		want            int
	}{
		{"empty", model.Buyer{}, 0, 0, 0},
		{"fields only", full, 0, 0, 67},
		{"everything", full, 5, 10, 100},
		{"counts are capped", full, 40, 300, 100},
		{"partial counts", model.Buyer{OrgType: "nhs_trust_acute"}, 2, 3, 24},
		{"negative counts", model.Buyer{Website: "x"}, -3, -1, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeScore(tt.buyer, tt.personnel, tt.docs))
		})
	}
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, model.PriorityHigh, PriorityFor(100))
	assert.Equal(t, model.PriorityHigh, PriorityFor(70))
	assert.Equal(t, model.PriorityMedium, PriorityFor(69))
	assert.Equal(t, model.PriorityMedium, PriorityFor(40))
	assert.Equal(t, model.PriorityLow, PriorityFor(39))
	assert.Equal(t, model.PriorityLow, PriorityFor(0))
}

func TestScore_Process(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	b := seedBuyer(t, svc.Store, model.Buyer{ID: "b1", Name: "Leeds City Council"}, model.BuyerPatch{
		OrgType: strPtr("local_council_metropolitan"),
		Website: strPtr("https://www.leeds.gov.uk"),
	})
	_, err := svc.Store.UpsertPersonnel(ctx, []model.KeyPersonnel{
		{BuyerID: "b1", Name: "Tom Riordan", Role: model.RoleChiefExecutive, Confidence: 0.9},
	})
	require.NoError(t, err)

	s := NewScore(svc)
	require.NoError(t, s.CheckConfig())
	assert.Equal(t, model.StageScore, s.Name())
	assert.Equal(t, model.BuyerFilter{}, s.Filter())

	require.NoError(t, s.Process(ctx, b))

	got := reload(t, svc.Store, "b1")
	// 12 + 8 + 18/5
	assert.Equal(t, 24, got.EnrichmentScore)
	assert.Equal(t, model.PriorityLow, got.EnrichmentPriority)
	assert.Equal(t, 1, got.EnrichmentVersion)
	assert.Empty(t, got.EnrichmentSources)
	require.NotNil(t, got.LastEnrichedAt)

	require.NoError(t, s.Process(ctx, got))
	assert.Equal(t, 2, reload(t, svc.Store, "b1").EnrichmentVersion)
}
