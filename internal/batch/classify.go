package batch

import (
	"sort"

	"enumchron/internal/enumchron"
	"enumchron/internal/inventory"
)

// RuleCount is the number of rows one rule matched.
type RuleCount struct {
	Rule  string
	Count int
}

// Coverage reports how an export's descriptions fare against a cascade.
type Coverage struct {
	Total     int
	Matched   int
	Empty     int // rows without any description
	ByRule    []RuleCount
	Unmatched []*inventory.Row // first unmatched rows, up to the sample size
}

// Classify parses every row without touching the API.
func Classify(cascade *enumchron.Cascade, rows []*inventory.Row, samples int) Coverage {
	if cascade == nil {
		cascade = enumchron.DefaultCascade()
	}
	cov := Coverage{Total: len(rows)}
	counts := make(map[string]int)

	for _, row := range rows {
		if row.Description == "" {
			cov.Empty++
			continue
		}
		res, ok := cascade.Parse(row.Description)
		if !ok {
			if len(cov.Unmatched) < samples {
				cov.Unmatched = append(cov.Unmatched, row)
			}
			continue
		}
		cov.Matched++
		counts[res.Rule]++
	}

	// Most used rules first; ties keep cascade order.
	for _, rule := range cascade.Rules() {
		if n := counts[rule.Name()]; n > 0 {
			cov.ByRule = append(cov.ByRule, RuleCount{Rule: rule.Name(), Count: n})
		}
	}
	sort.SliceStable(cov.ByRule, func(i, j int) bool {
		return cov.ByRule[i].Count > cov.ByRule[j].Count
	})
	return cov
}
