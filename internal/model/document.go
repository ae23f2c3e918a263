package model

import "time"

// Board document types.
const (
	DocMinutes = "minutes"
	DocWebPage = "web_page"
)

// Extraction statuses.
const (
	ExtractionPending   = "pending"
	ExtractionExtracted = "extracted"
)

// PlatformModernGov is the democracy platform value served by the ModernGov stage.
const PlatformModernGov = "ModernGov"

// BoardDocument is a governance page or meeting record. (BuyerID, SourceURL)
// is the natural key.
type BoardDocument struct {
	ID               string     `json:"id"`
	BuyerID          string     `json:"buyer_id"`
	SourceURL        string     `json:"source_url"`
	Title            string     `json:"title"`
	DocumentType     string     `json:"document_type"`
	CommitteeName    string     `json:"committee_name,omitempty"`
	MeetingDate      *time.Time `json:"meeting_date,omitempty"`
	Content          string     `json:"content,omitempty"`
	ExtractionStatus string     `json:"extraction_status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DataSource is a reference catalog entry for a public-sector organization.
type DataSource struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	OrgType            string    `json:"org_type"`
	Region             string    `json:"region,omitempty"`
	Website            string    `json:"website,omitempty"`
	DemocracyPortalURL string    `json:"democracy_portal_url,omitempty"`
	DemocracyPlatform  string    `json:"democracy_platform,omitempty"`
	BoardPapersURL     string    `json:"board_papers_url,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}
