package spend

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/k1p1l0/tendhunt-sub005/internal/scrape"
)

type linkPattern struct {
	name   string
	re     *regexp.Regexp
	weight int
}

var linkPatterns = []linkPattern{
	{"file_extension", regexp.MustCompile(`(?i)\.(?:csv|xls|xlsx|ods)(?:\?[^"'\s]*)?$`), 10},
	{"download_export", regexp.MustCompile(`(?i)(?:download|export|attachment).*(?:csv|xls|xlsx|spending|payment)|(?:csv|xls|xlsx).*(?:download|export|attachment)`), 8},
	{"govuk_attachment", regexp.MustCompile(`(?i)/government/(?:publications|uploads)/`), 7},
	{"data_gov_uk", regexp.MustCompile(`(?i)data\.gov\.uk/dataset/`), 9},
	{"document_mgmt", regexp.MustCompile(`(?i)(?:Document\.ashx\?Id=|mgDocument\.aspx\?i=|mgConvert2PDF\.aspx|ieListDocuments\.aspx)`), 5},
	{"wp_uploads", regexp.MustCompile(`(?i)/wp-content/uploads/.*(?:spend|payment|expenditure|transparency|csv|xls)`), 7},
	{"drupal_files", regexp.MustCompile(`(?i)/sites/default/files/.*(?:spend|payment|expenditure|transparency|csv|xls)`), 7},
	{"period_named", regexp.MustCompile(`(?i)(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec|q[1-4]|quarter|20[12]\d).*\.(?:csv|xls|xlsx)`), 9},
	{"stream_download", regexp.MustCompile(`(?i)(?:streamfile|filedownload|getfile|openfile|documentdownload|filestream)`), 5},
	{"file_id", regexp.MustCompile(`(?i)[?&](?:file_?id|doc_?id|document_?id|attachment_?id|media_?id)=\d+`), 4},
	{"sharepoint", regexp.MustCompile(`(?i)/(?:Shared%20Documents|Documents|_layouts/15/download\.aspx)`), 5},
	{"content_download", regexp.MustCompile(`(?i)/download/(?:file|attachment|document)/\d+`), 6},
}

var anchorKeywords = []string{
	"spending", "expenditure", "payments over", "spend over", "transparency", "payment data",
	"csv", "download", "quarter", "monthly", "invoice", "creditor",
}

const anchorBonus = 3

// ScoredLink is a candidate spend file URL.
type ScoredLink struct {
	URL      string
	Anchor   string
	Score    int
	Patterns []string
}

// ScoreLink scores href against the download URL patterns. ok is false when
// no pattern matches; anchor text only adds a bonus to a matched link.
func ScoreLink(href, anchor string) (ScoredLink, bool) {
	l := ScoredLink{URL: href, Anchor: anchor}
	for _, p := range linkPatterns {
		if p.re.MatchString(href) {
			l.Score += p.weight
			l.Patterns = append(l.Patterns, p.name)
		}
	}
	if len(l.Patterns) == 0 {
		return ScoredLink{}, false
	}
	lower := strings.ToLower(anchor)
	for _, k := range anchorKeywords {
		if strings.Contains(lower, k) {
			l.Score += anchorBonus
			break
		}
	}
	return l, true
}

// SpendLinks scores the links of a parsed transparency page, rewrites
// Google Sheets and Drive links to direct downloads, and returns the
// matches highest score first.
func SpendLinks(links []scrape.Link) []ScoredLink {
	seen := make(map[string]bool)
	var out []ScoredLink
	for _, l := range links {
		if direct := googleDownloadURL(l.URL); direct != "" {
			if !seen[direct] {
				seen[direct] = true
				out = append(out, ScoredLink{URL: direct, Anchor: l.Text, Score: linkPatterns[0].weight, Patterns: []string{"google_export"}})
			}
			continue
		}
		s, ok := ScoreLink(l.URL, l.Text)
		if !ok || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

var (
	sheetsURL    = regexp.MustCompile(`docs\.google\.com/spreadsheets/d/([a-zA-Z0-9_-]+)`)
	driveFileURL = regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)`)
	driveOpenURL = regexp.MustCompile(`drive\.google\.com/open\?id=([a-zA-Z0-9_-]+)`)
)

// googleDownloadURL returns the CSV export URL for a Google Sheets link or
// the direct download URL for a Google Drive file, else "".
func googleDownloadURL(u string) string {
	if m := sheetsURL.FindStringSubmatch(u); m != nil {
		return "https://docs.google.com/spreadsheets/d/" + m[1] + "/export?format=csv"
	}
	if m := driveFileURL.FindStringSubmatch(u); m != nil {
		return "https://drive.google.com/uc?export=download&id=" + m[1]
	}
	if m := driveOpenURL.FindStringSubmatch(u); m != nil {
		return "https://drive.google.com/uc?export=download&id=" + m[1]
	}
	return ""
}

var pageKeywords = []string{
	"spending", "expenditure", "transparency", "payments over", "spend over",
	"invoices over", "payments to suppliers", "payment data", "spend data",
	"monthly spend", "financial transparency", "open data", "25,000", "£25", "£500",
}

// HasSpendKeywords reports whether page text mentions spend publication.
func HasSpendKeywords(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range pageKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

var navKeywords = []struct {
	keyword string
	weight  int
}{
	{"spending over", 6},
	{"payments over", 6},
	{"spend over", 6},
	{"invoices over", 5},
	{"spending", 4},
	{"expenditure", 4},
	{"transparency", 3},
	{"open data", 2},
}

// TransparencyLink picks the homepage link most likely to lead to the spend
// transparency page, scoring anchor text and URL path. ok is false when no
// link mentions spending.
func TransparencyLink(links []scrape.Link) (string, bool) {
	best, bestScore := "", 0
	for _, l := range links {
		text := strings.ToLower(l.Text + " " + linkPath(l.URL))
		score := 0
		for _, k := range navKeywords {
			if strings.Contains(text, k.keyword) || strings.Contains(text, strings.ReplaceAll(k.keyword, " ", "-")) {
				score += k.weight
			}
		}
		if score > bestScore {
			best, bestScore = l.URL, score
		}
	}
	return best, bestScore > 0
}

func linkPath(u string) string {
	p, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return p.Path
}

type pathGroup struct {
	orgType string
	paths   []string
}

// transparencyPaths lists well-known spend page locations per org type, in
// probe order.
var transparencyPaths = []pathGroup{
	{"local_council", []string{
		"/council/transparency/spending",
		"/transparency/spending",
		"/about-the-council/transparency/spending-and-procurement",
		"/council-and-mayor/council-spending-and-performance/spending-over-500",
		"/payments-over-500",
		"/spending-over-500",
		"/spending-over-250",
		"/your-council/budgets-and-spending",
		"/open-data/spending",
		"/transparency",
	}},
	{"nhs_trust", []string{
		"/about-us/freedom-of-information/spending-over-25000",
		"/about-us/spending-over-25-000",
		"/about-us/spending-over-25000",
		"/about-us/how-we-spend-our-money",
		"/about-us/spending",
		"/what-we-spend",
	}},
	{"nhs_icb", []string{
		"/about-us/how-we-spend-public-money",
		"/about-us/spending-reports",
		"/about-us/spending-over-25000",
		"/about-us/transparency",
	}},
	{"fire_rescue", []string{
		"/about-us/transparency",
		"/transparency/spending",
		"/about-us/what-we-spend",
	}},
	{"police_pcc", []string{
		"/transparency/spending",
		"/about-us/what-we-spend",
		"/transparency/payments-over-500",
	}},
	{"combined_authority", []string{
		"/transparency/spending",
		"/about-us/transparency",
	}},
}

// TransparencyPaths returns the probe paths for orgType, falling back to
// the parent type by dropping trailing segments, so local_council_london
// uses the local_council paths.
func TransparencyPaths(orgType string) []string {
	segments := strings.Split(orgType, "_")
	for i := len(segments); i >= 1; i-- {
		parent := strings.Join(segments[:i], "_")
		for _, g := range transparencyPaths {
			if g.orgType == parent {
				return g.paths
			}
		}
	}
	return nil
}

// linkList renders links for a model prompt, one per line.
func linkList(links []scrape.Link, limit int) string {
	var sb strings.Builder
	for i, l := range links {
		if i == limit {
			break
		}
		fmt.Fprintf(&sb, "- %s | %s\n", l.Text, l.URL)
	}
	return sb.String()
}
