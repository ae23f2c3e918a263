package model

import "time"

// Contract sources.
const (
	SourceContractsFinder = "contracts_finder"
	SourceFindTender      = "find_tender"
)

// Contract is a published tender or award notice. (Source, ReleaseID) is the
// natural key.
type Contract struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	ReleaseID   string     `json:"release_id"`
	OCID        string     `json:"ocid"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	BuyerName   string     `json:"buyer_name"`
	BuyerOrgID  string     `json:"buyer_org_id"`
	Value       float64    `json:"value"`
	Currency    string     `json:"currency,omitempty"`
	Stage       string     `json:"stage"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
