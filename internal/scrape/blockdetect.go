package scrape

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

var bodyMarkers = []struct {
	kind    BlockType
	markers []string
}{
	{BlockCloudflare, []string{"checking your browser", "cf-browser-verification"}},
	{BlockCaptcha, []string{"captcha"}}, // also covers recaptcha and hcaptcha
}

// DetectBlock reports whether a response is a bot challenge rather than the
// page. Council sites fronted by Cloudflare or Incapsula are common.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}
	for _, m := range bodyMarkers {
		for _, marker := range m.markers {
			if strings.Contains(lower, marker) {
				return true, m.kind
			}
		}
	}

	// A tiny page that only asks for JavaScript or refreshes elsewhere.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}
	return false, BlockNone
}
