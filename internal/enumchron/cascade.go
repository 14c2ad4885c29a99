package enumchron

// Result is the outcome of a successful parse.
type Result struct {
	Description string // normalized input
	Rule        string // name of the rule that matched
	Fields      Fields
}

// Cascade tries its rules in order and stops at the first match.
type Cascade struct {
	rules []*Rule
}

// NewCascade builds a cascade from rules in priority order.
func NewCascade(rules ...*Rule) *Cascade {
	return &Cascade{rules: append([]*Rule(nil), rules...)}
}

// DefaultCascade returns the built-in rules.
func DefaultCascade() *Cascade {
	return NewCascade(defaultRules...)
}

// Prepend returns a new cascade with rules ahead of the existing ones.
func (c *Cascade) Prepend(rules ...*Rule) *Cascade {
	all := make([]*Rule, 0, len(rules)+len(c.rules))
	all = append(all, rules...)
	all = append(all, c.rules...)
	return &Cascade{rules: all}
}

// Rules returns the rules in priority order.
func (c *Cascade) Rules() []*Rule {
	return append([]*Rule(nil), c.rules...)
}

// Parse normalizes desc and returns the fields of the first matching rule.
// Descriptions with unbalanced parentheses never match.
func (c *Cascade) Parse(desc string) (Result, bool) {
	norm := Normalize(desc)
	if norm == "" || !balancedParens(norm) {
		return Result{Description: norm}, false
	}
	for _, r := range c.rules {
		if f, ok := r.Match(norm); ok {
			return Result{Description: norm, Rule: r.name, Fields: f}, true
		}
	}
	return Result{Description: norm}, false
}
