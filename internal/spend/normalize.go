package spend

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
)

var (
	isoDate   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ][\d:.]+)?(?:Z|[+-]\d{2}:?\d{2})?$`)
	numDate   = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})(?: [\d:]+)?$`)
	dayMonthY = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?[\s\-/]([A-Za-z]+)[\s\-/,]+(\d{2,4})$`)
	monthDayY = regexp.MustCompile(`^([A-Za-z]+)\s+(\d{1,2}),?\s*(\d{4})$`)
)

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// ParseFlexibleDate parses the date formats found in UK spend files:
// ISO 8601, DD/MM/YYYY (also - and . separators, two-digit years), "12-Nov-25",
// "12 November 2025" and "Nov 12, 2025". A numeric date whose second part
// cannot be a month is read as MM/DD/YYYY. Dates are returned at UTC
// midnight.
func ParseFlexibleDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := numDate.FindStringSubmatch(s); m != nil {
		first, second, year := atoi(m[1]), atoi(m[2]), resolveYear(atoi(m[3]))
		if t, ok := makeDate(year, second, first); ok {
			return t, true
		}
		if first <= 12 && second > 12 {
			return makeDate(year, first, second)
		}
		return time.Time{}, false
	}
	if m := dayMonthY.FindStringSubmatch(s); m != nil {
		if mon, ok := monthNames[strings.ToLower(m[2])]; ok {
			return makeDate(resolveYear(atoi(m[3])), int(mon), atoi(m[1]))
		}
	}
	if m := monthDayY.FindStringSubmatch(s); m != nil {
		if mon, ok := monthNames[strings.ToLower(m[1])]; ok {
			return makeDate(atoi(m[3]), int(mon), atoi(m[2]))
		}
	}
	return time.Time{}, false
}

// makeDate rejects out-of-range parts instead of letting time.Date normalize
// them, so 31/02 is invalid rather than 3 March.
func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// resolveYear maps two-digit years: below 50 is 20xx, otherwise 19xx.
func resolveYear(y int) int {
	if y >= 100 {
		return y
	}
	if y < 50 {
		return 2000 + y
	}
	return 1900 + y
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var (
	parenNegative  = regexp.MustCompile(`^\((.+)\)$`)
	creditPrefix   = regexp.MustCompile(`(?i)^CR\b\s*`)
	debitPrefix    = regexp.MustCompile(`(?i)^DR\b\s*`)
	currencyTokens = regexp.MustCompile(`(?i)[£$€¥\s]|GBP`)
)

// ParseAmount parses a money value. Parentheses and a CR prefix mean a
// credit (negative), a DR prefix is dropped, currency symbols and thousands
// separators are ignored. Unparseable input returns 0.
func ParseAmount(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	negative := false
	if m := parenNegative.FindStringSubmatch(s); m != nil {
		negative = true
		s = strings.TrimSpace(m[1])
	}
	if creditPrefix.MatchString(s) {
		negative = true
		s = creditPrefix.ReplaceAllString(s, "")
	}
	s = debitPrefix.ReplaceAllString(s, "")
	s = currencyTokens.ReplaceAllString(s, "")
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	// Trailing minus, as some ledgers export credits.
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = s[:len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if negative {
		return -v
	}
	return v
}

var vendorSuffixes = []string{
	" limited", " ltd", " plc", " inc", " llp", " llc", " (uk)", " group", " corporation",
}

var trailingPunct = regexp.MustCompile(`[.,;:\-]+$`)

// NormalizeVendor lowercases a supplier name, collapses whitespace and strips
// company-form suffixes and trailing punctuation, so "Acme Solutions Ltd."
// and "ACME SOLUTIONS LIMITED" group together.
func NormalizeVendor(name string) string {
	s := strings.ToLower(strings.Join(strings.Fields(name), " "))
	for {
		before := s
		s = strings.TrimSpace(trailingPunct.ReplaceAllString(s, ""))
		for _, suffix := range vendorSuffixes {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
				break
			}
		}
		if s == before {
			return s
		}
	}
}

// categoryPatterns map raw category text to a high-level category, first
// match wins. Keywords match at word starts; short ones must be whole words.
var categoryPatterns = []struct {
	re       *regexp.Regexp
	category string
}{
	{categoryRe(`it\b`, `ict\b`, "computer", "software", "digital", "technology", "cyber", "cloud", "telecom"), "IT & Digital"},
	{categoryRe("professional service", "advisory", "audit", "accountancy"), "Professional Services"},
	{categoryRe("consultan", "consulting"), "Consultancy"},
	{categoryRe("facilities", "maintenance", "cleaning", "security guard", "pest control", "janitorial"), "Facilities & Maintenance"},
	{categoryRe("construction", "capital", "building work", "refurbishment", "civil engineering"), "Construction & Capital Works"},
	{categoryRe("transport", "fleet", "vehicle", "travel", "fuel", "highway", `roads?\b`), "Transport & Fleet"},
	{categoryRe("health", "social care", "care home", "domiciliary", "nursing", "clinical", "medical", "pharmac", "ambulance"), "Healthcare & Social Care"},
	{categoryRe("education", "training", "school", "learning", "apprentice", "tuition"), "Education & Training"},
	{categoryRe("energy", "utilit", "electric", `gas\b`, `water\b`), "Energy & Utilities"},
	{categoryRe("waste", "recycling", "refuse", "disposal"), "Waste Management"},
	{categoryRe("legal", "solicitor", "barrister", "litigation"), "Legal Services"},
	{categoryRe("financ", "banking", "treasury", "pension", "actuarial"), "Financial Services"},
	{categoryRe("human resource", "recruitment", "staffing", "agency staff", "temporary staff", "payroll"), "HR & Recruitment"},
	{categoryRe("communication", "marketing", "advertising", "public relation", `media\b`, "print"), "Communications & Marketing"},
	{categoryRe("environment", "ecology", "flood", "drainage", `parks?\b`, "green space"), "Environmental Services"},
	{categoryRe("housing", "homeless", "tenant", "sheltered", "accommodation"), "Housing"},
	{categoryRe("planning", "development", "regeneration", "urban"), "Planning & Development"},
	{categoryRe("culture", "cultural", "leisure", "librar", "museum", "sport", "recreation", `arts?\b`), "Cultural & Leisure"},
	{categoryRe("emergency", `fire\b`, "rescue", "police", "civil contingenc"), "Emergency Services"},
	{categoryRe("catering", "hospitality", `food\b`, `meals?\b`), "Catering & Hospitality"},
	{categoryRe("office supplies", "equipment", "stationery", "furniture", "uniform"), "Office Supplies & Equipment"},
	{categoryRe("insurance"), "Insurance"},
	{categoryRe("grant", "subsid", "funding", "contribution"), "Grants & Subsidies"},
	{categoryRe("property", "estate", `rents?\b`, "lease", "premises"), "Property & Estates"},
}

func categoryRe(keywords ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(keywords, "|") + `)`)
}

// NormalizeCategory maps a raw spend category to one of the high-level
// categories by keyword. Unknown or empty input is model.DefaultCategory.
func NormalizeCategory(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return model.DefaultCategory
	}
	for _, c := range categoryPatterns {
		if c.re.MatchString(s) {
			return c.category
		}
	}
	return model.DefaultCategory
}
