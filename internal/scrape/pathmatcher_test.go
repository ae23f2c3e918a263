package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMatcher_IsExcluded(t *testing.T) {
	t.Parallel()
	m := NewPathMatcher([]string{"/consultations/*", "/news/*", "/*.pdf", "/planning-applications/*"})

	tests := []struct {
		name     string
		url      string
		excluded bool
	}{
		{"consultation", "https://www.york.gov.uk/consultations/local-plan", true},
		{"consultations root", "https://www.york.gov.uk/consultations", true},
		{"consultation deep path", "https://www.york.gov.uk/consultations/2024/01/parking", true},
		{"news article", "https://www.york.gov.uk/news/article", true},
		{"planning application", "https://www.york.gov.uk/planning-applications/23-01234-FUL", true},
		{"root pdf", "https://www.york.gov.uk/statement-of-accounts.pdf", true},
		{"councillors", "https://www.york.gov.uk/councillors", false},
		{"spending", "https://www.york.gov.uk/spending-over-500", false},
		{"homepage", "https://www.york.gov.uk/", false},
		{"leadership", "https://www.york.gov.uk/leadership", false},
		{"nested pdf", "https://www.york.gov.uk/downloads/budget.pdf", false}, // /*.pdf only matches root-level
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.excluded, m.IsExcluded(tt.url))
		})
	}
}

func TestPathMatcher_DefaultPatterns(t *testing.T) {
	m := NewPathMatcher(nil)

	assert.True(t, m.IsExcluded("https://www.leeds.gov.uk/news/2024/budget"))
	assert.True(t, m.IsExcluded("https://www.leeds.gov.uk/events/summer"))
	assert.True(t, m.IsExcluded("https://www.leeds.gov.uk/vacancies/123"))
	assert.True(t, m.IsExcluded("https://www.leeds.gov.uk/annual-report.pdf"))
	assert.False(t, m.IsExcluded("https://www.leeds.gov.uk/about"))
	assert.False(t, m.IsExcluded("https://www.leeds.gov.uk/council/councillors"))
}

func TestPathMatcher_CaseInsensitive(t *testing.T) {
	m := NewPathMatcher([]string{"/News/*"})

	assert.True(t, m.IsExcluded("https://www.york.gov.uk/news/gritting"))
	assert.True(t, m.IsExcluded("https://www.york.gov.uk/NEWS/GRITTING"))
}

func TestPathMatcher_InvalidURL(t *testing.T) {
	m := NewPathMatcher([]string{"/news/*"})

	assert.True(t, m.IsExcluded("://invalid"))
}

func TestMatchSegmented(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern string
		urlPath string
		match   bool
	}{
		{"exact glob", "/committees/*", "/committees/planning", true},
		{"deep path", "/committees/*", "/committees/2024/01/cabinet", true},
		{"root match", "/committees/*", "/committees", true},
		{"no match", "/committees/*", "/about", false},
		{"pdf glob", "/*.pdf", "/budget.pdf", true},
		{"nested no match", "/*.pdf", "/docs/budget.pdf", false},
		{"root slash", "/committees/*", "/committees/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.match, matchSegmented(tt.pattern, tt.urlPath))
		})
	}
}

func TestPathMatcher_Patterns(t *testing.T) {
	patterns := []string{"/committees/*", "/news/*"}
	m := NewPathMatcher(patterns)
	assert.Equal(t, patterns, m.Patterns())
}
