package scrape

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/pkg/jina"
)

func readResp(content string) *jina.ReadResponse {
	return &jina.ReadResponse{Code: 200, Data: jina.ReadData{Title: "Leeds City Council", Content: content}}
}

func TestJinaAdapter_Scrape(t *testing.T) {
	client := &mockJinaClient{}
	client.On("Read", mock.Anything, "https://www.leeds.gov.uk").
		Return(readResp(strings.Repeat("Council services and information. ", 10)), nil)

	result, err := NewJinaAdapter(client, nil).Scrape(context.Background(), "https://www.leeds.gov.uk")
	require.NoError(t, err)
	assert.Equal(t, "jina", result.Source)
	assert.Equal(t, "https://www.leeds.gov.uk", result.Page.URL)
	assert.Equal(t, "Leeds City Council", result.Page.Title)
	client.AssertExpectations(t)
}

func TestJinaAdapter_ChallengePageFallsBack(t *testing.T) {
	client := &mockJinaClient{}
	client.On("Read", mock.Anything, mock.Anything).
		Return(readResp("Just a moment... Checking your browser before accessing the site. "+strings.Repeat(".", 100)), nil)

	_, err := NewJinaAdapter(client, nil).Scrape(context.Background(), "https://www.leeds.gov.uk")
	assert.Error(t, err)
}

func TestJinaAdapter_BreakerOpensAfterFailures(t *testing.T) {
	client := &mockJinaClient{}
	client.On("Read", mock.Anything, mock.Anything).Return(nil, resilience.FromHTTPStatus("jina", 503, "unavailable"))

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	a := NewJinaAdapter(client, cb)
	assert.True(t, a.Supports("x"))

	for range 2 {
		_, err := a.Scrape(context.Background(), "https://www.leeds.gov.uk")
		require.Error(t, err)
	}
	assert.False(t, a.Supports("x"))
}

func TestNeedsFallback(t *testing.T) {
	assert.True(t, needsFallback(nil))
	assert.True(t, needsFallback(&jina.ReadResponse{Code: 451}))
	assert.True(t, needsFallback(readResp("short")))
	assert.False(t, needsFallback(readResp(strings.Repeat("a", 200))))
	assert.False(t, needsFallback(readResp("access denied "+strings.Repeat("a", 1200))))
}
