package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/pkg/moderngov"
)

func TestMeetingDocuments(t *testing.T) {
	meetings := []moderngov.Meeting{
		{ID: 101, CommitteeName: "Cabinet", Date: "14/05/2025 10:00:00", Title: "Cabinet"},
		{ID: 0, CommitteeName: "Skipped"},
		{ID: 101, CommitteeName: "Cabinet"},
		{ID: 102, CommitteeName: "Planning Committee", Date: "soon"},
		{ID: 103},
	}

	docs := MeetingDocuments("b1", "https://democracy.leeds.gov.uk/", meetings)
	require.Len(t, docs, 3)

	assert.Equal(t, "https://democracy.leeds.gov.uk/mgConvert2PDF.aspx?ID=101", docs[0].SourceURL)
	assert.Equal(t, "Cabinet", docs[0].Title)
	assert.Equal(t, model.DocMinutes, docs[0].DocumentType)
	assert.Equal(t, model.ExtractionPending, docs[0].ExtractionStatus)
	require.NotNil(t, docs[0].MeetingDate)
	assert.Equal(t, time.Date(2025, 5, 14, 10, 0, 0, 0, time.UTC), *docs[0].MeetingDate)

	assert.Equal(t, "Planning Committee", docs[1].Title)
	assert.Nil(t, docs[1].MeetingDate)
	assert.Equal(t, "Meeting", docs[2].Title)
}

func TestModernGov_Process(t *testing.T) {
	svc := newTestServices(t)
	mg := &mockModernGovClient{}
	svc.ModernGov = mg
	base := "https://democracy.leeds.gov.uk"
	b := seedBuyer(t, svc.Store, model.Buyer{ID: "b1", Name: "Leeds City Council"}, model.BuyerPatch{
		DemocracyPortalURL: strPtr(base),
		DemocracyPlatform:  strPtr(model.PlatformModernGov),
	})

	mg.On("TestConnection", mock.Anything, base).Return(nil)
	mg.On("GetMeetings", mock.Anything, base, testNow.AddDate(-1, 0, 0), testNow).Return([]moderngov.Meeting{
		{ID: 1, CommitteeName: "Executive Board", Date: "2025-03-01T10:00:00"},
		{ID: 2, CommitteeName: "Scrutiny Board", Date: "2025-04-01"},
	}, nil)

	m := NewModernGov(svc)
	require.NoError(t, m.CheckConfig())
	assert.Equal(t, model.PlatformModernGov, m.Filter().Platform)
	require.NoError(t, m.Process(context.Background(), b))

	n, err := svc.Store.CountBoardDocuments(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{model.SourceModernGov}, reload(t, svc.Store, "b1").EnrichmentSources)
	mg.AssertExpectations(t)
}

func TestModernGov_Unreachable(t *testing.T) {
	svc := newTestServices(t)
	mg := &mockModernGovClient{}
	svc.ModernGov = mg
	b := seedBuyer(t, svc.Store, model.Buyer{ID: "b1", Name: "Leeds City Council"}, model.BuyerPatch{
		DemocracyPortalURL: strPtr("https://democracy.leeds.gov.uk"),
	})
	mg.On("TestConnection", mock.Anything, mock.Anything).
		Return(resilience.NewExternalError("moderngov", model.ErrNotFound, assert.AnError))

	err := NewModernGov(svc).Process(context.Background(), b)
	require.Error(t, err)
	assert.Equal(t, model.ErrNotFound, resilience.Typed(err))
	assert.Empty(t, reload(t, svc.Store, "b1").EnrichmentSources)
	mg.AssertNotCalled(t, "GetMeetings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestModernGov_CheckConfig(t *testing.T) {
	assert.True(t, resilience.IsConfig(NewModernGov(newTestServices(t)).CheckConfig()))
}
