package apify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

type company struct {
	URL  string `json:"url"`
	Logo string `json:"logo"`
}

func TestRunSync(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/acts/curious_coder~linkedin-company-search/run-sync-get-dataset-items", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))

		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Leeds City Council", in["keyword"])

		w.Write([]byte(`[{"url":"https://www.linkedin.com/company/leeds-city-council","logo":"https://media.licdn.com/x.png"}]`)) //nolint:errcheck
	}))
	defer srv.Close()

	var got []company
	err := NewClient("tok", WithBaseURL(srv.URL)).RunSync(context.Background(),
		"curious_coder~linkedin-company-search", map[string]any{"keyword": "Leeds City Council"}, &got)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].URL, "linkedin.com/company/")
}

func TestRunSync_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var got []company
	err := NewClient("tok", WithBaseURL(srv.URL)).RunSync(context.Background(), "a~b", nil, &got)
	require.Error(t, err)
	assert.Equal(t, model.ErrRateLimited, resilience.Typed(err))
}

func TestRunSync_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"not":"an array"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	var got []company
	err := NewClient("tok", WithBaseURL(srv.URL)).RunSync(context.Background(), "a~b", nil, &got)
	require.Error(t, err)
	assert.Equal(t, model.ErrParse, resilience.Typed(err))
}
