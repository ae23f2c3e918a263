package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/resilience"
	"github.com/k1p1l0/tendhunt-sub005/internal/scrape"
)

// ogImagePrefixBytes is how much of a homepage is read looking for og:image.
const ogImagePrefixBytes = 50 << 10

// LogoLinkedIn fills logo and LinkedIn URLs: logo.dev first, then an Apify
// LinkedIn company search, then the homepage og:image.
type LogoLinkedIn struct {
	svc *Services
}

// NewLogoLinkedIn creates the logo/LinkedIn stage.
func NewLogoLinkedIn(svc *Services) *LogoLinkedIn {
	svc.applyDefaults()
	return &LogoLinkedIn{svc: svc}
}

// Name implements stage.Stage.
func (l *LogoLinkedIn) Name() model.Stage { return model.StageLogoLinkedIn }

// Filter implements stage.Stage.
func (l *LogoLinkedIn) Filter() model.BuyerFilter {
	return model.BuyerFilter{MissingLogoOrLinkedIn: true, HasWebsite: true}
}

// CheckConfig implements stage.Stage. logo.dev and Apify are optional; the
// og:image fallback only needs the web fetcher.
func (l *LogoLinkedIn) CheckConfig() error {
	if l.svc.Web == nil {
		return resilience.NewConfigError("logo_linkedin: web fetcher is not configured")
	}
	return nil
}

// linkedInHit is one company from the LinkedIn search actor. Field names
// vary between actor versions.
type linkedInHit struct {
	LinkedInProfileURL string `json:"linkedInProfileUrl"`
	URL                string `json:"url"`
	ProfileURL         string `json:"profileUrl"`
	Logo               string `json:"logo"`
	LogoURL            string `json:"logoUrl"`
	CompanyLogo        string `json:"companyLogo"`
}

func (h linkedInHit) companyURL() string {
	for _, u := range []string{h.LinkedInProfileURL, h.URL, h.ProfileURL} {
		if strings.Contains(u, "linkedin.com/company/") {
			return u
		}
	}
	return ""
}

func (h linkedInHit) logo() string {
	for _, u := range []string{h.Logo, h.LogoURL, h.CompanyLogo} {
		if strings.HasPrefix(u, "http") {
			return u
		}
	}
	return ""
}

// Process implements stage.Stage. Each source is tried independently; the
// item fails only when nothing was found and some source errored.
func (l *LogoLinkedIn) Process(ctx context.Context, b *model.Buyer) error {
	if b.Website == "" || (b.LogoURL != "" && b.LinkedInURL != "") {
		return nil
	}
	log := zap.L().With(zap.String("component", "logo_linkedin"), zap.String("buyer_id", b.ID))
	logo, linkedin := b.LogoURL, b.LinkedInURL
	var lastErr error

	if domain := b.Domain(); logo == "" && l.svc.LogoDevToken != "" && domain != "" {
		candidate := LogoDevURL(l.svc.LogoDevBaseURL, domain, l.svc.LogoDevToken)
		ok, err := call(ctx, l.svc, "logodev", func(ctx context.Context) (bool, error) {
			return l.svc.Web.Head(ctx, candidate)
		})
		switch {
		case err != nil:
			log.Debug("logo.dev check failed", zap.Error(err))
			lastErr = err
		case ok:
			logo = candidate
		}
	}

	if linkedin == "" && l.svc.Apify != nil {
		var hits []linkedInHit
		input := map[string]any{"keyword": b.Name, "location": "United Kingdom"}
		_, err := call(ctx, l.svc, "apify", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, l.svc.Apify.RunSync(ctx, l.svc.LinkedInActor, input, &hits)
		})
		if err != nil {
			log.Debug("linkedin search failed", zap.Error(err))
			lastErr = err
		}
		for _, h := range hits {
			if u := h.companyURL(); u != "" {
				linkedin = u
				if logo == "" {
					logo = h.logo()
				}
				break
			}
		}
	}

	if logo == "" {
		home := siteURL(b.Website)
		head, err := call(ctx, l.svc, "http", func(ctx context.Context) ([]byte, error) {
			return l.svc.Web.FetchPrefix(ctx, home, ogImagePrefixBytes)
		})
		if err != nil {
			log.Debug("homepage fetch failed", zap.Error(err))
			lastErr = err
		} else if img := scrape.ExtractOGImage(home, head); strings.HasPrefix(img, "http") {
			logo = img
		}
	}

	var patch model.BuyerPatch
	if logo != b.LogoURL {
		patch.LogoURL = strPtr(logo)
	}
	if linkedin != b.LinkedInURL {
		patch.LinkedInURL = strPtr(linkedin)
	}
	if patch.IsEmpty() {
		if lastErr != nil {
			return eris.Wrapf(lastErr, "logo_linkedin: %q", b.Name)
		}
		return nil
	}
	return l.svc.commit(ctx, b, patch, model.SourceLogoLinkedIn)
}

// LogoDevURL builds the logo.dev image URL for a domain.
func LogoDevURL(baseURL, domain, token string) string {
	return fmt.Sprintf("%s/%s?token=%s&size=128&format=png",
		strings.TrimRight(baseURL, "/"), domain, url.QueryEscape(token))
}

// siteURL adds a scheme to a bare website.
func siteURL(website string) string {
	website = strings.TrimSpace(website)
	if !strings.Contains(website, "://") {
		return "https://" + website
	}
	return website
}
