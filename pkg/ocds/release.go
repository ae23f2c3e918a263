package ocds

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

// Release is the subset of an OCDS release the pipeline reads.
type Release struct {
	ID      string   `json:"id"`
	OCID    string   `json:"ocid"`
	Date    string   `json:"date"`
	Tag     []string `json:"tag"`
	Parties []Party  `json:"parties"`
	Buyer   *OrgRef  `json:"buyer"`
	Tender  *Tender  `json:"tender"`
	Awards  []Award  `json:"awards"`
}

// OrgRef references an organization by id and name.
type OrgRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Party is an organization involved in the release.
type Party struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Roles   []string `json:"roles"`
	Address *struct {
		Region string `json:"region"`
	} `json:"address"`
}

// Value is a monetary amount.
type Value struct {
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
}

// Classification is a CPV code.
type Classification struct {
	ID     string `json:"id"`
	Scheme string `json:"scheme"`
}

// Tender holds the notice body.
type Tender struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Value          *Value          `json:"value"`
	Classification *Classification `json:"classification"`
	Items          []struct {
		Classification *Classification `json:"classification"`
	} `json:"items"`
}

// Award is one award decision.
type Award struct {
	Date  string `json:"date"`
	Value *Value `json:"value"`
}

// Mapped is a release converted to a contract plus the buyer it names.
type Mapped struct {
	Contract model.Contract
	Buyer    model.Buyer
}

// cpvSectors maps the CPV division (first two digits) to a sector label.
var cpvSectors = map[string]string{
	"03": "Agriculture & Forestry",
	"09": "Energy",
	"14": "Mining",
	"15": "Food & Beverages",
	"18": "Clothing & Textiles",
	"22": "Publishing & Printing",
	"24": "Chemicals",
	"30": "IT Equipment",
	"31": "Electrical Equipment",
	"32": "Telecoms",
	"33": "Medical Equipment",
	"34": "Transport Equipment",
	"35": "Security & Defence",
	"37": "Musical & Sports Equipment",
	"38": "Laboratory Equipment",
	"39": "Furniture",
	"41": "Water",
	"42": "Industrial Machinery",
	"43": "Mining Machinery",
	"44": "Construction Materials",
	"45": "Construction",
	"48": "Software",
	"50": "Repair & Maintenance",
	"51": "Installation",
	"55": "Hospitality",
	"60": "Transport",
	"63": "Transport Support",
	"64": "Postal & Telecom",
	"65": "Utilities",
	"66": "Financial Services",
	"70": "Real Estate",
	"71": "Architecture & Engineering",
	"72": "IT Services",
	"73": "R&D",
	"75": "Public Administration",
	"76": "Oil & Gas",
	"77": "Agriculture Services",
	"79": "Business Services",
	"80": "Education",
	"85": "Health & Social",
	"90": "Environmental Services",
	"92": "Recreation & Culture",
	"98": "Other Services",
}

// SectorFromCPV returns the sector for a CPV code, or "" when unknown.
func SectorFromCPV(code string) string {
	if len(code) < 2 {
		return ""
	}
	return cpvSectors[code[:2]]
}

// StageOf maps release tags to planning, award or tender.
func StageOf(tags []string) string {
	joined := strings.ToLower(strings.Join(tags, ","))
	switch {
	case strings.Contains(joined, "planning"):
		return "planning"
	case strings.Contains(joined, "award"):
		return "award"
	default:
		return "tender"
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// AutoOrgID derives a stable org id for buyers published without one.
func AutoOrgID(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	return "auto-" + slug
}

// MapRelease converts r into a contract and its buyer.
func MapRelease(r Release, source string) (Mapped, error) {
	if r.ID == "" {
		return Mapped{}, eris.Errorf("ocds: release %q has no id", r.OCID)
	}

	var buyerParty *Party
	for i := range r.Parties {
		for _, role := range r.Parties[i].Roles {
			if strings.EqualFold(role, "buyer") {
				buyerParty = &r.Parties[i]
				break
			}
		}
		if buyerParty != nil {
			break
		}
	}

	name, orgID, region := "", "", ""
	if buyerParty != nil {
		name, orgID = buyerParty.Name, buyerParty.ID
		if buyerParty.Address != nil {
			region = buyerParty.Address.Region
		}
	}
	if name == "" && r.Buyer != nil {
		name = r.Buyer.Name
	}
	if orgID == "" && r.Buyer != nil {
		orgID = r.Buyer.ID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Unknown"
	}
	if orgID == "" {
		orgID = AutoOrgID(name)
	}

	c := model.Contract{
		Source:     source,
		ReleaseID:  r.ID,
		OCID:       r.OCID,
		Title:      "Untitled",
		BuyerName:  name,
		BuyerOrgID: orgID,
		Currency:   "GBP",
		Stage:      StageOf(r.Tag),
	}

	var cpv string
	if t := r.Tender; t != nil {
		if t.Title != "" {
			c.Title = t.Title
		}
		c.Description = t.Description
		if t.Value != nil {
			if t.Value.Amount != nil {
				c.Value = *t.Value.Amount
			}
			if t.Value.Currency != "" {
				c.Currency = t.Value.Currency
			}
		}
		if t.Classification != nil {
			cpv = t.Classification.ID
		}
		for _, it := range t.Items {
			if cpv != "" {
				break
			}
			if it.Classification != nil {
				cpv = it.Classification.ID
			}
		}
	}
	if c.Value == 0 && len(r.Awards) > 0 && r.Awards[0].Value != nil && r.Awards[0].Value.Amount != nil {
		c.Value = *r.Awards[0].Value.Amount
	}
	if r.Date != "" {
		if ts, err := time.Parse(time.RFC3339, r.Date); err == nil {
			ts = ts.UTC()
			c.PublishedAt = &ts
		}
	}

	b := model.Buyer{
		OrgID:  orgID,
		Name:   name,
		Sector: SectorFromCPV(cpv),
		Region: region,
	}
	return Mapped{Contract: c, Buyer: b}, nil
}
