package enrich

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchThreshold is the minimum name similarity for a catalog match.
const MatchThreshold = 0.7

// minMatchChars is the shortest normalized name eligible for matching.
const minMatchChars = 3

// institutionalWords are stripped before matching. Longer phrases come first
// so "nhs trust" is removed before "nhs".
var institutionalWords = regexp.MustCompile(`\b(foundation trust|nhs trust|nhs|borough|council|city|royal|the|of|metropolitan|district|county|unitary|authority|authorities|combined)\b`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName folds accents, lowercases, strips institutional words and
// punctuation, and collapses spaces.
func NormalizeName(name string) string {
	s := strings.ToLower(foldAccents(name))
	s = institutionalWords.ReplaceAllString(s, " ")
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Similarity scores two normalized names in [0,1] by edit distance, also
// comparing them with tokens sorted so word order does not matter.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return max(editRatio(a, b), editRatio(sortTokens(a), sortTokens(b)))
}

func editRatio(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func sortTokens(s string) string {
	f := strings.Fields(s)
	slices.Sort(f)
	return strings.Join(f, " ")
}

// heuristicRules assign an org type when the catalog has no match. First
// match wins.
var heuristicRules = []struct {
	name    *regexp.Regexp
	also    *regexp.Regexp // optional second name pattern
	sector  string         // optional exact sector
	orgType string
}{
	{name: regexp.MustCompile(`(?i)\b(department for|department of|ministry of|hm treasury|cabinet office|home office|foreign|hmrc)\b`), orgType: "central_government"},
	{name: regexp.MustCompile(`(?i)\b(government digital|crown commercial|government property|government legal)\b`), orgType: "central_government"},
	{name: regexp.MustCompile(`(?i)\b(scottish government|welsh government|northern ireland|stormont)\b`), orgType: "devolved_government"},
	{name: regexp.MustCompile(`(?i)\bcouncil\b`), orgType: "local_council_other"},
	{name: regexp.MustCompile(`(?i)\bnhs\b`), orgType: "nhs_other"},
	{name: regexp.MustCompile(`(?i)\b(trust|hospital|health)\b`), sector: "Health & Social", orgType: "nhs_other"},
	{name: regexp.MustCompile(`(?i)\buniversity\b`), orgType: "university"},
	{name: regexp.MustCompile(`(?i)\b(academy|academies|trust|multi.?academy|mat)\b`), also: regexp.MustCompile(`(?i)\b(school|learning|education|academy)\b`), orgType: "mat"},
	{name: regexp.MustCompile(`(?i)\bcollege\b`), orgType: "fe_college"},
	{name: regexp.MustCompile(`(?i)\b(police|constabulary)\b`), orgType: "police_pcc"},
	{name: regexp.MustCompile(`(?i)\b(fire|rescue)\b`), orgType: "fire_rescue"},
	{name: regexp.MustCompile(`(?i)\b(housing|homes|habitation)\b`), orgType: "housing_association"},
	{name: regexp.MustCompile(`(?i)\b(ofsted|ofcom|ofgem|ofwat|cqc|fca|hmcts|hse|environment agency)\b`), orgType: "alb"},
	{name: regexp.MustCompile(`(?i)\b(transport for|network rail|highways|tfl)\b`), orgType: "alb"},
	{name: regexp.MustCompile(`(?i)\b(limited|ltd|plc|group|services|solutions)\b`), orgType: "private_company"},
}

// HeuristicOrgType classifies a buyer from name and sector keywords. It
// returns "" when no rule applies.
func HeuristicOrgType(name, sector string) string {
	for _, r := range heuristicRules {
		if r.sector != "" && r.sector != sector {
			continue
		}
		if !r.name.MatchString(name) {
			continue
		}
		if r.also != nil && !r.also.MatchString(name) {
			continue
		}
		return r.orgType
	}
	return ""
}
