package moderngov

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

func soapResponse(action, inner string) string {
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(inner)) //nolint:errcheck
	return `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <` + action + `Response xmlns="http://tempuri.org/">
      <` + action + `Result>` + escaped.String() + `</` + action + `Result>
    </` + action + `Response>
  </soap:Body>
</soap:Envelope>`
}

func TestGetMeetings(t *testing.T) {
	t.Parallel()

	inner := `<Meetings>
  <Meeting id="4521"><CommitteeId>12</CommitteeId><CommitteeName>Cabinet</CommitteeName><Date>15/01/2025 19:00:00</Date><Title>Cabinet</Title></Meeting>
  <Meeting><Id>4522</Id><CommitteeId>14</CommitteeId><CommitteeName>Audit Committee</CommitteeName><Date>2025-02-03T18:30:00</Date></Meeting>
</Meetings>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mgWebService.asmx", r.URL.Path)
		assert.Equal(t, "http://tempuri.org/GetMeetings", r.Header.Get("SOAPAction"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<sStartDate>01/01/2025</sStartDate>")
		assert.Contains(t, string(body), "<sEndDate>31/03/2025</sEndDate>")
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.Write([]byte(soapResponse("GetMeetings", inner))) //nolint:errcheck
	}))
	defer srv.Close()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	got, err := NewClient().GetMeetings(context.Background(), srv.URL+"/", from, to)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 4521, got[0].ID)
	assert.Equal(t, 12, got[0].CommitteeID)
	assert.Equal(t, "Cabinet", got[0].Title)
	assert.Equal(t, 4522, got[1].ID)
	assert.Equal(t, "Audit Committee", got[1].Title, "title falls back to committee name")

	d, ok := ParseMeetingDate(got[0].Date)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 15, 19, 0, 0, 0, time.UTC), d)
}

func TestGetMeetings_EmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(soapResponse("GetMeetings", ""))) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := NewClient().GetMeetings(context.Background(), srv.URL, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetMeetings_MalformedInner(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(soapResponse("GetMeetings", "<Meetings><Meeting>"))) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient().GetMeetings(context.Background(), srv.URL, time.Now(), time.Now())
	require.Error(t, err)
	assert.Equal(t, model.ErrParse, resilience.Typed(err))
}

func TestGetCommittees(t *testing.T) {
	t.Parallel()

	inner := `<Committees><Committee id="3"><Name>Full Council</Name><Type>Council</Type></Committee></Committees>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "http://tempuri.org/GetCommitteesByUser", r.Header.Get("SOAPAction"))
		w.Write([]byte(soapResponse("GetCommitteesByUser", inner))) //nolint:errcheck
	}))
	defer srv.Close()

	got, err := NewClient().GetCommittees(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Committee{ID: 3, Name: "Full Council", Type: "Council"}, got[0])
}

func TestTestConnection(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(soapResponse("GetCommitteesByUser", ""))) //nolint:errcheck
	}))
	defer ok.Close()
	require.NoError(t, NewClient().TestConnection(context.Background(), ok.URL))

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	err := NewClient().TestConnection(context.Background(), missing.URL)
	require.Error(t, err)
	assert.Equal(t, model.ErrNotFound, resilience.Typed(err))
}

func TestTestConnection_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(WithTimeouts(20*time.Millisecond, 0))
	err := c.TestConnection(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, model.ErrTimeout, resilience.Typed(err))
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://democracy.camden.gov.uk/mgWebService.asmx", Endpoint("https://democracy.camden.gov.uk/"))
	assert.Equal(t, "https://democracy.camden.gov.uk/mgConvert2PDF.aspx?ID=42", DocumentURL("https://democracy.camden.gov.uk", 42))
}

func TestParseMeetingDate(t *testing.T) {
	for _, s := range []string{"15/01/2025", "2025-01-15", "2025-01-15T00:00:00"} {
		d, ok := ParseMeetingDate(s)
		require.True(t, ok, s)
		assert.Equal(t, 2025, d.Year())
		assert.Equal(t, time.January, d.Month())
		assert.Equal(t, 15, d.Day())
	}
	_, ok := ParseMeetingDate("next tuesday")
	assert.False(t, ok)
}
