package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
)

func TestLocalScraper_Scrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(councilHome)) //nolint:errcheck
	}))
	defer srv.Close()

	result, err := NewLocalScraper("test-agent").Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "local_http", result.Source)
	assert.Equal(t, "Bristol City Council", result.Page.Title)
	assert.Equal(t, http.StatusOK, result.Page.StatusCode)
	assert.Equal(t, srv.URL+"/images/logo.png", result.Page.OGImage)
}

func TestLocalScraper_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("cf-ray", "abc")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewLocalScraper("").Scrape(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestLocalScraper_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewLocalScraper("").Scrape(context.Background(), srv.URL+"/about")
	require.Error(t, err)
	assert.Equal(t, model.ErrNotFound, resilience.Typed(err))
}

func TestLocalScraper_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewLocalScraper("").Scrape(context.Background(), srv.URL)
	assert.Error(t, err)
}
