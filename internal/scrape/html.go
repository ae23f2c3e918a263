package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

var spaceRe = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLinesRe = regexp.MustCompile(`\n\s*\n+`)

// ParseHTML extracts title, meta description, og:image, links and visible
// text from an HTML document fetched from base.
func ParseHTML(base string, body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, eris.Wrap(err, "scrape: parse html")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return Page{}, eris.Wrapf(err, "scrape: parse base url %q", base)
	}

	p := Page{
		URL:   base,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	p.Description = metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	if img := metaContent(doc, `meta[property="og:image"]`, `meta[name="og:image"]`, `meta[name="twitter:image"]`); img != "" {
		p.OGImage = resolve(baseURL, img)
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
			return
		}
		abs := resolve(baseURL, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		p.Links = append(p.Links, Link{URL: abs, Text: collapse(s.Text())})
	})

	doc.Find("script, style, noscript, nav, footer, header, svg").Remove()
	p.Content = collapseBlock(doc.Find("body").Text())
	if p.Content == "" {
		p.Content = collapseBlock(doc.Text())
	}
	return p, nil
}

// ExtractOGImage returns the absolute og:image URL of a (possibly
// truncated) HTML document, or "".
func ExtractOGImage(base string, head []byte) string {
	p, err := ParseHTML(base, head)
	if err != nil {
		return ""
	}
	return p.OGImage
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" && abs.Scheme != "ftp" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
}

func collapseBlock(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(s, "\n\n"))
}
