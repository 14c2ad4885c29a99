package enumchron

import (
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Capture group names a rule pattern may use.
var groupNames = map[string]bool{
	"vol": true, "vol2": true,
	"iss": true, "iss2": true,
	"part": true,
	"year": true, "year2": true,
	"mon": true, "mon2": true,
	"day": true,
}

// Rule is one entry of the cascade: an anchored, case-insensitive pattern
// whose named groups map onto Fields.
type Rule struct {
	name    string
	pattern string
	example string
	re      *regexp.Regexp

	// yearTrails marks patterns where the year follows a month range, so a
	// range wrapping past December ends in that year rather than starting in it.
	yearTrails bool
}

// NewRule compiles a rule. The pattern is anchored at both ends and matched
// case-insensitively; it must capture at least one of the known group names
// and no others.
func NewRule(name, pattern, example string, yearTrails bool) (*Rule, error) {
	if name == "" {
		return nil, errors.New("rule name is required")
	}
	re, err := regexp.Compile(`(?i)^(?:` + pattern + `)$`)
	if err != nil {
		return nil, errors.Wrapf(err, "rule %q", name)
	}
	captured := 0
	for _, g := range re.SubexpNames()[1:] {
		if g == "" {
			continue
		}
		if !groupNames[g] {
			return nil, errors.Errorf("rule %q: unknown capture group %q", name, g)
		}
		captured++
	}
	if captured == 0 {
		return nil, errors.Errorf("rule %q captures no fields", name)
	}
	return &Rule{
		name:       name,
		pattern:    pattern,
		example:    example,
		re:         re,
		yearTrails: yearTrails,
	}, nil
}

func mustRule(name, pattern, example string, yearTrails bool) *Rule {
	r, err := NewRule(name, pattern, example, yearTrails)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the rule name.
func (r *Rule) Name() string { return r.name }

// Example returns a description the rule is meant to match.
func (r *Rule) Example() string { return r.example }

// Pattern returns the unanchored source pattern.
func (r *Rule) Pattern() string { return r.pattern }

// Match applies the rule to an already normalized description.
func (r *Rule) Match(desc string) (Fields, bool) {
	m := r.re.FindStringSubmatch(desc)
	if m == nil {
		return Fields{}, false
	}
	group := func(name string) string {
		if i := r.re.SubexpIndex(name); i > 0 {
			return m[i]
		}
		return ""
	}

	var f Fields
	if v := group("vol"); v != "" {
		f.EnumA = numberRange(v, group("vol2"))
	}
	if v := group("iss"); v != "" {
		f.EnumB = numberRange(v, group("iss2"))
	}
	if v := group("part"); v != "" {
		f.EnumC = trimZeros(v)
	}

	var ok bool
	f.ChronI, f.ChronJ, f.ChronK, ok = chronology(
		group("year"), group("year2"), group("mon"), group("mon2"), group("day"), r.yearTrails)
	if !ok || f.IsZero() {
		return Fields{}, false
	}
	return f, true
}

// chronology turns captured date parts into chronology_i/j/k values. It
// rejects impossible dates so the cascade can fall through to later rules.
func chronology(year, year2, mon, mon2, day string, yearTrails bool) (i, j, k string, ok bool) {
	if year == "" {
		if mon != "" || day != "" {
			return "", "", "", false
		}
		return "", "", "", true
	}

	y1, err := strconv.Atoi(year)
	if err != nil {
		return "", "", "", false
	}
	y2 := 0
	if year2 != "" {
		y2, err = expandYear(y1, year2)
		if err != nil || y2 < y1 {
			return "", "", "", false
		}
		if y2 == y1 {
			y2 = 0
		}
	}

	m1, m2 := 0, 0
	if mon != "" {
		if m1 = monthCode(mon); m1 == 0 {
			return "", "", "", false
		}
	}
	if mon2 != "" {
		if m2 = monthCode(mon2); m2 == 0 {
			return "", "", "", false
		}
		if m2 == m1 && y2 == 0 {
			m2 = 0
		}
	}

	// A month range inside a single year that runs backwards crosses
	// December: "1995 Nov-Feb" is 1995-1996, "Nov-Feb 1996" is also 1995-1996.
	if m2 != 0 && m2 < m1 && y2 == 0 {
		if yearTrails {
			y1, y2 = y1-1, y1
		} else {
			y2 = y1 + 1
		}
	}

	i = strconv.Itoa(y1)
	if y2 != 0 {
		i += "-" + strconv.Itoa(y2)
	}
	if m1 != 0 {
		j = pad2(m1)
		if m2 != 0 {
			j += "-" + pad2(m2)
		}
	}
	if day != "" {
		d, err := strconv.Atoi(day)
		if err != nil || d < 1 || m1 == 0 || m1 > 12 {
			return "", "", "", false
		}
		// time.Date normalizes Feb 30 to Mar 2.
		if time.Date(y1, time.Month(m1), d, 0, 0, 0, 0, time.UTC).Day() != d {
			return "", "", "", false
		}
		k = pad2(d)
	}
	return i, j, k, true
}

const (
	volPattern  = `(?:volume|vol|v)\.?\s*(?P<vol>\d+)(?:\s*[-/]\s*(?P<vol2>\d+))?`
	issPattern  = `(?:issue|iss|nr|no|n)\.?\s*(?P<iss>\d+)(?:\s*[-/]\s*(?P<iss2>\d+))?`
	partPattern = `(?:part|pt)\.?\s*(?P<part>\d+)`
	sepPattern  = `(?:\s*[:,]\s*|\s+)`

	monthWord = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?|spring|summer|fall|autumn|winter)\.?`

	// joins an enumeration to a chronology: "v.1 1990", "v.1, 1990", "v.1 (1990)", "v.1(1990)".
	// Parentheses are optional on each side here; Cascade.Parse rejects unbalanced ones.
	joinPattern = `(?:` + sepPattern + `\(?|\()`
)

type fragment struct {
	name    string
	pattern string
	example string
}

type chronFragment struct {
	fragment
	yearTrails bool
}

// Enumeration shapes, most specific first.
var enumFragments = []fragment{
	{"vol-iss-part", volPattern + sepPattern + issPattern + sepPattern + partPattern, "v.12 no.3 pt.2"},
	{"vol-iss", volPattern + sepPattern + issPattern, "v.12 no.3"},
	{"vol-part", volPattern + sepPattern + partPattern, "v.12 pt.2"},
	{"vol", volPattern, "v.12"},
	{"iss", issPattern, "no.3"},
	{"part", partPattern, "pt.2"},
}

// Chronology shapes, most specific first. The two span shapes carry an
// explicit year on both ends of a month range.
var chronFragments = []chronFragment{
	{fragment{"month-year-span",
		`(?P<mon>` + monthWord + `)\s*(?P<year>\d{4})\s*[-/]\s*(?P<mon2>` + monthWord + `)\s*(?P<year2>\d{4})`,
		"Dec 1995-Jan 1996"}, true},
	{fragment{"year-month-span",
		`(?P<year>\d{4})[\s:]+(?P<mon>` + monthWord + `)\s*[-/]\s*(?P<year2>\d{4})[\s:]+(?P<mon2>` + monthWord + `)`,
		"1995 Dec-1996 Jan"}, false},
	{fragment{"month-day-year",
		`(?P<mon>` + monthWord + `)\s*(?P<day>\d{1,2}),?\s+(?P<year>\d{4})`,
		"Jan 15, 1995"}, true},
	{fragment{"year-month-day",
		`(?P<year>\d{4})[\s:]+(?P<mon>` + monthWord + `)\s*(?P<day>\d{1,2})`,
		"1995 Jan 15"}, false},
	{fragment{"years-months",
		`(?P<year>\d{4})\s*[-/]\s*(?P<year2>\d{4}|\d{2})[\s:]+(?P<mon>` + monthWord + `)(?:\s*[-/]\s*(?P<mon2>` + monthWord + `))?`,
		"1995-1996:Nov-Feb"}, false},
	{fragment{"months-years",
		`(?P<mon>` + monthWord + `)(?:\s*[-/]\s*(?P<mon2>` + monthWord + `))?,?\s*(?P<year>\d{4})\s*[-/]\s*(?P<year2>\d{4}|\d{2})`,
		"Winter 1995/96"}, true},
	{fragment{"year-months",
		`(?P<year>\d{4})[\s:]+(?P<mon>` + monthWord + `)(?:\s*[-/]\s*(?P<mon2>` + monthWord + `))?`,
		"1995 Nov-Feb"}, false},
	{fragment{"months-year",
		`(?P<mon>` + monthWord + `)(?:\s*[-/]\s*(?P<mon2>` + monthWord + `))?,?\s*(?P<year>\d{4})`,
		"Jan-Mar 1995"}, true},
	{fragment{"years",
		`(?P<year>\d{4})(?:\s*[-/]\s*(?P<year2>\d{4}|\d{2}))?`,
		"1995/96"}, false},
}

var defaultRules = buildDefaultRules()

// buildDefaultRules lays out the cascade: every enumeration shape followed by
// every chronology shape, then bare enumerations, then bare chronologies.
func buildDefaultRules() []*Rule {
	rules := make([]*Rule, 0, len(enumFragments)*(len(chronFragments)+1)+len(chronFragments))
	for _, e := range enumFragments {
		for _, c := range chronFragments {
			rules = append(rules, mustRule(
				e.name+"+"+c.name,
				e.pattern+joinPattern+c.pattern+`\)?`,
				e.example+" ("+c.example+")",
				c.yearTrails,
			))
		}
	}
	for _, e := range enumFragments {
		rules = append(rules, mustRule(e.name, e.pattern, e.example, false))
	}
	for _, c := range chronFragments {
		rules = append(rules, mustRule(c.name, `\(?`+c.pattern+`\)?`, c.example, c.yearTrails))
	}
	return rules
}
