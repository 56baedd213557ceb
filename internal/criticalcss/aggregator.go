package criticalcss

import (
	"strings"

	"github.com/xkilldash9x/critcss/internal/cssutil"
	"github.com/xkilldash9x/critcss/internal/mediaquery"
)

// CriticalRule is a rule kept in the critical stylesheet with the conditions it must be
// re-wrapped in.
type CriticalRule struct {
	Conditions []Condition
	Text       string
}

// Stylesheet is the ordered, deduplicated result of aggregation.
type Stylesheet struct {
	Rules []CriticalRule
}

// Len returns the number of distinct rules.
func (s Stylesheet) Len() int { return len(s.Rules) }

// Aggregate merges reports, in the order given, into one stylesheet. Errored reports,
// unused rules and rules whose media chain can never apply on screen are skipped; the
// remaining rules are kept once each, in first-seen order.
func Aggregate(reports []RuleUsageReport) Stylesheet {
	var sheet Stylesheet
	seen := make(map[string]bool)

	for _, report := range reports {
		if report.Err != nil {
			continue
		}
		for _, rule := range report.Rules {
			if !rule.UsedInViewport || !mediaquery.IsScreenRelevant(rule.MediaChain()) {
				continue
			}
			key := ruleKey(rule.Conditions, rule.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			sheet.Rules = append(sheet.Rules, CriticalRule{
				Conditions: rule.Conditions,
				Text:       strings.TrimSpace(rule.Text),
			})
		}
	}
	return sheet
}

// ruleKey identifies a rule by its normalised condition chain and text.
func ruleKey(conditions []Condition, text string) string {
	var b strings.Builder
	for _, c := range conditions {
		b.WriteString(conditionKey(c))
		b.WriteByte(0)
	}
	b.WriteByte(1)
	b.WriteString(cssutil.Normalize(text))
	return b.String()
}

func conditionKey(c Condition) string {
	return string(c.Kind) + ":" + cssutil.Normalize(c.Text)
}

// String renders the stylesheet. Each rule is re-wrapped in its condition chain; consecutive
// rules sharing the outer part of their chain share the enclosing blocks.
func (s Stylesheet) String() string {
	var b strings.Builder
	var open []Condition

	closeTo := func(depth int) {
		for len(open) > depth {
			open = open[:len(open)-1]
			b.WriteString(strings.Repeat("  ", len(open)))
			b.WriteString("}\n")
		}
	}

	for _, rule := range s.Rules {
		shared := commonPrefix(open, rule.Conditions)
		closeTo(shared)
		for _, c := range rule.Conditions[shared:] {
			b.WriteString(strings.Repeat("  ", len(open)))
			b.WriteString(c.prelude())
			b.WriteString(" {\n")
			open = append(open, c)
		}
		b.WriteString(strings.Repeat("  ", len(open)))
		b.WriteString(rule.Text)
		b.WriteByte('\n')
	}
	closeTo(0)

	return b.String()
}

func commonPrefix(a, b []Condition) int {
	n := 0
	for n < len(a) && n < len(b) && conditionKey(a[n]) == conditionKey(b[n]) {
		n++
	}
	return n
}
