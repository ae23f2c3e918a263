package model

import (
	"net/url"
	"slices"
	"strings"
	"time"
)

// Enrichment source tags recorded on Buyer.EnrichmentSources.
const (
	SourceDataSource   = "data_source"
	SourceSearch       = "search"
	SourceLogoLinkedIn = "logo_linkedin"
	SourceModernGov    = "moderngov"
	SourceScrape       = "scrape"
	SourcePersonnel    = "personnel"
	SourceHeuristic    = "heuristic"
)

// Enrichment priority buckets derived from the enrichment score.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Discovery methods recorded on Buyer.DiscoveryMethod.
const (
	DiscoveryFailed  = "failed"
	DiscoverySearch  = "search"
	DiscoveryCatalog = "data_source"
)

// TransparencyNone marks a buyer whose transparency page could not be found.
const TransparencyNone = "none"

// Buyer is the enrichment target entity.
type Buyer struct {
	ID                  string     `json:"id"`
	OrgID               string     `json:"org_id"`
	Name                string     `json:"name"`
	Sector              string     `json:"sector,omitempty"`
	Region              string     `json:"region,omitempty"`
	OrgType             string     `json:"org_type,omitempty"`
	DataSourceID        string     `json:"data_source_id,omitempty"`
	Website             string     `json:"website,omitempty"`
	LogoURL             string     `json:"logo_url,omitempty"`
	LinkedInURL         string     `json:"linkedin_url,omitempty"`
	DemocracyPortalURL  string     `json:"democracy_portal_url,omitempty"`
	DemocracyPlatform   string     `json:"democracy_platform,omitempty"`
	BoardPapersURL      string     `json:"board_papers_url,omitempty"`
	Description         string     `json:"description,omitempty"`
	StaffCount          int        `json:"staff_count,omitempty"`
	AnnualBudget        float64    `json:"annual_budget,omitempty"`
	TransparencyPageURL string     `json:"transparency_page_url,omitempty"`
	SpendFileURLs       []string   `json:"spend_file_urls,omitempty"`
	DiscoveryMethod     string     `json:"discovery_method,omitempty"`
	EnrichmentSources   []string   `json:"enrichment_sources"`
	EnrichmentScore     int        `json:"enrichment_score"`
	EnrichmentPriority  string     `json:"enrichment_priority,omitempty"`
	EnrichmentVersion   int        `json:"enrichment_version"`
	LastEnrichedAt      *time.Time `json:"last_enriched_at,omitempty"`
	SpendDataIngested   bool       `json:"spend_data_ingested"`
	SpendDataAvailable  bool       `json:"spend_data_available"`
	LastSpendIngestAt   *time.Time `json:"last_spend_ingest_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasSource reports whether the buyer has been enriched by the given source.
func (b Buyer) HasSource(source string) bool {
	return slices.Contains(b.EnrichmentSources, source)
}

// Domain returns the bare host of the buyer website without "www.".
func (b Buyer) Domain() string {
	return DomainOf(b.Website)
}

// DomainOf extracts the host of a website URL, tolerating a missing scheme.
func DomainOf(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// WithSource returns sources with s appended once.
func WithSource(sources []string, s string) []string {
	if slices.Contains(sources, s) {
		return sources
	}
	out := append([]string(nil), sources...)
	return append(out, s)
}

// BuyerPatch is a partial update. Nil fields are left untouched, so each
// stage writes only the fields it owns.
type BuyerPatch struct {
	OrgType             *string
	Region              *string
	DataSourceID        *string
	Website             *string
	LogoURL             *string
	LinkedInURL         *string
	DemocracyPortalURL  *string
	DemocracyPlatform   *string
	BoardPapersURL      *string
	Description         *string
	StaffCount          *int
	AnnualBudget        *float64
	TransparencyPageURL *string
	SpendFileURLs       []string
	DiscoveryMethod     *string
	EnrichmentSources   []string
	EnrichmentScore     *int
	EnrichmentPriority  *string
	EnrichmentVersion   *int
	LastEnrichedAt      *time.Time
	SpendDataIngested   *bool
	SpendDataAvailable  *bool
	LastSpendIngestAt   *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p BuyerPatch) IsEmpty() bool {
	return p.OrgType == nil && p.Region == nil && p.DataSourceID == nil &&
		p.Website == nil && p.LogoURL == nil && p.LinkedInURL == nil &&
		p.DemocracyPortalURL == nil && p.DemocracyPlatform == nil &&
		p.BoardPapersURL == nil && p.Description == nil && p.StaffCount == nil &&
		p.AnnualBudget == nil && p.TransparencyPageURL == nil && p.SpendFileURLs == nil &&
		p.DiscoveryMethod == nil && p.EnrichmentSources == nil && p.EnrichmentScore == nil &&
		p.EnrichmentPriority == nil && p.EnrichmentVersion == nil && p.LastEnrichedAt == nil &&
		p.SpendDataIngested == nil && p.SpendDataAvailable == nil && p.LastSpendIngestAt == nil
}

// Apply copies the patch onto b, returning the updated buyer.
func (p BuyerPatch) Apply(b Buyer) Buyer {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&b.OrgType, p.OrgType)
	set(&b.Region, p.Region)
	set(&b.DataSourceID, p.DataSourceID)
	set(&b.Website, p.Website)
	set(&b.LogoURL, p.LogoURL)
	set(&b.LinkedInURL, p.LinkedInURL)
	set(&b.DemocracyPortalURL, p.DemocracyPortalURL)
	set(&b.DemocracyPlatform, p.DemocracyPlatform)
	set(&b.BoardPapersURL, p.BoardPapersURL)
	set(&b.Description, p.Description)
	set(&b.TransparencyPageURL, p.TransparencyPageURL)
	set(&b.DiscoveryMethod, p.DiscoveryMethod)
	set(&b.EnrichmentPriority, p.EnrichmentPriority)
	if p.StaffCount != nil {
		b.StaffCount = *p.StaffCount
	}
	if p.AnnualBudget != nil {
		b.AnnualBudget = *p.AnnualBudget
	}
	if p.SpendFileURLs != nil {
		b.SpendFileURLs = p.SpendFileURLs
	}
	if p.EnrichmentSources != nil {
		b.EnrichmentSources = p.EnrichmentSources
	}
	if p.EnrichmentScore != nil {
		b.EnrichmentScore = *p.EnrichmentScore
	}
	if p.EnrichmentVersion != nil {
		b.EnrichmentVersion = *p.EnrichmentVersion
	}
	if p.LastEnrichedAt != nil {
		b.LastEnrichedAt = p.LastEnrichedAt
	}
	if p.SpendDataIngested != nil {
		b.SpendDataIngested = *p.SpendDataIngested
	}
	if p.SpendDataAvailable != nil {
		b.SpendDataAvailable = *p.SpendDataAvailable
	}
	if p.LastSpendIngestAt != nil {
		b.LastSpendIngestAt = p.LastSpendIngestAt
	}
	return b
}

// BuyerFilter is a stage's membership predicate over buyers. Zero-valued
// fields impose no constraint; set fields are ANDed.
type BuyerFilter struct {
	MissingClassification bool   // org_type or data_source_id empty
	MissingWebsite        bool   // website empty
	HasWebsite            bool   // website set
	ExcludeDiscovery      string // discovery_method != value
	MissingLogoOrLinkedIn bool   // logo_url or linkedin_url empty
	HasDataSource         bool   // data_source_id set
	MissingPortal         bool   // democracy_portal_url empty
	HasPortal             bool   // democracy_portal_url set
	Platform              string // democracy_platform = value
	LacksSource           string // value not in enrichment_sources
	HasAnySource          []string
	SpendNotIngested      bool // spend_data_ingested false
}

// Matches evaluates the filter in memory. Stores translate the same
// predicate to SQL; this form backs run-buyer and tests.
func (f BuyerFilter) Matches(b Buyer) bool {
	if f.MissingClassification && b.OrgType != "" && b.DataSourceID != "" {
		return false
	}
	if f.MissingWebsite && b.Website != "" {
		return false
	}
	if f.HasWebsite && b.Website == "" {
		return false
	}
	if f.ExcludeDiscovery != "" && b.DiscoveryMethod == f.ExcludeDiscovery {
		return false
	}
	if f.MissingLogoOrLinkedIn && b.LogoURL != "" && b.LinkedInURL != "" {
		return false
	}
	if f.HasDataSource && b.DataSourceID == "" {
		return false
	}
	if f.MissingPortal && b.DemocracyPortalURL != "" {
		return false
	}
	if f.HasPortal && b.DemocracyPortalURL == "" {
		return false
	}
	if f.Platform != "" && b.DemocracyPlatform != f.Platform {
		return false
	}
	if f.LacksSource != "" && b.HasSource(f.LacksSource) {
		return false
	}
	if len(f.HasAnySource) > 0 {
		found := false
		for _, s := range f.HasAnySource {
			if b.HasSource(s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SpendNotIngested && b.SpendDataIngested {
		return false
	}
	return true
}
