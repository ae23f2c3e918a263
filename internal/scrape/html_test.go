package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const councilHome = `<!doctype html>
<html><head>
<title> Bristol City Council </title>
<meta name="description" content="Council services for Bristol residents.">
<meta property="og:image" content="/images/logo.png">
<script>var tracking = 1;</script>
</head>
<body>
<nav><a href="/menu">Menu</a></nav>
<h1>Welcome</h1>
<p>Find information about   council tax.</p>
<a href="/council-and-mayor/budgets-and-spending">Spending over &pound;500</a>
<a href="https://data.bristol.gov.uk/spend.csv">Download CSV</a>
<a href="#top">Top</a>
<a href="mailto:info@bristol.gov.uk">Email</a>
<a href="/council-and-mayor/budgets-and-spending">Duplicate</a>
<footer>Copyright</footer>
</body></html>`

func TestParseHTML(t *testing.T) {
	p, err := ParseHTML("https://www.bristol.gov.uk/", []byte(councilHome))
	require.NoError(t, err)

	assert.Equal(t, "Bristol City Council", p.Title)
	assert.Equal(t, "Council services for Bristol residents.", p.Description)
	assert.Equal(t, "https://www.bristol.gov.uk/images/logo.png", p.OGImage)

	require.Len(t, p.Links, 3)
	assert.Equal(t, "https://www.bristol.gov.uk/menu", p.Links[0].URL)
	assert.Equal(t, "https://www.bristol.gov.uk/council-and-mayor/budgets-and-spending", p.Links[1].URL)
	assert.Equal(t, "Spending over £500", p.Links[1].Text)
	assert.Equal(t, "https://data.bristol.gov.uk/spend.csv", p.Links[2].URL)

	assert.Contains(t, p.Content, "Find information about council tax.")
	assert.NotContains(t, p.Content, "tracking")
	assert.NotContains(t, p.Content, "Copyright")
}

func TestExtractOGImage_TruncatedHead(t *testing.T) {
	head := `<html><head><meta property="og:image" content="https://cdn.example.org/og.png"><meta name="x`
	assert.Equal(t, "https://cdn.example.org/og.png", ExtractOGImage("https://example.org", []byte(head)))
	assert.Equal(t, "", ExtractOGImage("https://example.org", []byte("<html></html>")))
}
