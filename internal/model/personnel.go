package model

import (
	"sort"
	"strings"
	"time"
)

// Role is a ranked key-personnel role.
type Role string

const (
	RoleChiefExecutive  Role = "chief_executive"
	RoleCFO             Role = "cfo"
	RoleFinanceDirector Role = "finance_director"
	RoleDirector        Role = "director"
	RoleProcurementLead Role = "procurement_lead"
	RoleChair           Role = "chair"
	RoleBoardMember     Role = "board_member"
	RoleCommitteeChair  Role = "committee_chair"
	RoleCouncillor      Role = "councillor"
)

var rolePriority = map[Role]int{
	RoleChiefExecutive:  1,
	RoleCFO:             2,
	RoleFinanceDirector: 3,
	RoleDirector:        4,
	RoleProcurementLead: 5,
	RoleChair:           6,
	RoleBoardMember:     7,
	RoleCommitteeChair:  8,
	RoleCouncillor:      9,
}

const unknownRolePriority = 99

// Priority returns the display rank of a role; lower ranks first.
func (r Role) Priority() int {
	if p, ok := rolePriority[r]; ok {
		return p
	}
	return unknownRolePriority
}

// Known reports whether r is one of the ranked roles.
func (r Role) Known() bool {
	_, ok := rolePriority[r]
	return ok
}

// ExtractionClaudeHaiku marks personnel extracted by the AI stage.
const ExtractionClaudeHaiku = "claude_haiku"

// KeyPersonnel is a named decision-maker at a buyer. (BuyerID, Name) is the
// natural key.
type KeyPersonnel struct {
	ID               string    `json:"id"`
	BuyerID          string    `json:"buyer_id"`
	Name             string    `json:"name"`
	Title            string    `json:"title,omitempty"`
	Role             Role      `json:"role,omitempty"`
	Department       string    `json:"department,omitempty"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Confidence       float64   `json:"confidence"`
	ExtractionMethod string    `json:"extraction_method,omitempty"`
	SourceURL        string    `json:"source_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RankPersonnel sorts people by role priority then confidence descending and
// returns at most limit entries (limit <= 0 keeps all). The input is not
// modified.
func RankPersonnel(people []KeyPersonnel, limit int) []KeyPersonnel {
	out := append([]KeyPersonnel(nil), people...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Role.Priority(), out[j].Role.Priority()
		if pi != pj {
			return pi < pj
		}
		return out[i].Confidence > out[j].Confidence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// titleRoles maps job-title fragments to roles, most specific first.
var titleRoles = []struct {
	fragment string
	role     Role
}{
	{"chief executive", RoleChiefExecutive},
	{"managing director", RoleChiefExecutive},
	{"town clerk", RoleChiefExecutive},
	{"head of paid service", RoleChiefExecutive},
	{"chief financial officer", RoleCFO},
	{"section 151", RoleCFO},
	{"s151", RoleCFO},
	{"treasurer", RoleCFO},
	{"director of finance", RoleFinanceDirector},
	{"finance director", RoleFinanceDirector},
	{"procurement", RoleProcurementLead},
	{"commercial", RoleProcurementLead},
	{"committee chair", RoleCommitteeChair},
	{"chair of", RoleCommitteeChair},
	{"chair", RoleChair},
	{"director", RoleDirector},
	{"non-executive", RoleBoardMember},
	{"board member", RoleBoardMember},
	{"trustee", RoleBoardMember},
	{"governor", RoleBoardMember},
	{"councillor", RoleCouncillor},
	{"cllr", RoleCouncillor},
}

// NormalizeRole returns a known role for raw, falling back to a mapping of
// the job title. Unknown inputs return "".
func NormalizeRole(raw, title string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, " ", "_"))))
	if r.Known() {
		return r
	}
	t := strings.ToLower(title)
	if t == "" {
		return ""
	}
	if strings.Contains(t, "ceo") && !strings.Contains(t, "deputy") {
		return RoleChiefExecutive
	}
	if strings.Contains(t, "cfo") {
		return RoleCFO
	}
	for _, tr := range titleRoles {
		if strings.Contains(t, tr.fragment) {
			return tr.role
		}
	}
	return ""
}

// NormalizeConfidence maps a 0-100 or 0-1 confidence to 0-1.
func NormalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
