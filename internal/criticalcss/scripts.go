package criticalcss

import (
	_ "embed"

	"github.com/xkilldash9x/critcss/internal/browser"
)

//go:embed js/collect_rules.js
var collectRulesSource string

//go:embed js/check_selectors.js
var checkSelectorsSource string

var (
	// collectRulesScript walks document.styleSheets and returns every rule with its
	// condition chain, plus the stylesheets it could not read.
	collectRulesScript = browser.Script{Name: "collectRules", Source: collectRulesSource}

	// checkSelectorsScript takes (selectors, viewport) and reports, per selector, whether it
	// matches a rendered element and whether one of those is inside the viewport. It also
	// lists font families in use and animation names used inside the viewport.
	checkSelectorsScript = browser.Script{Name: "checkSelectors", Source: checkSelectorsSource}
)

// collectRulesReply is the decoded reply of collectRulesScript.
type collectRulesReply struct {
	Rules   []RuleRecord        `json:"rules"`
	Skipped []SkippedStylesheet `json:"skipped"`
}

// selectorState is the per-selector part of checkSelectorsReply.
type selectorState struct {
	Matched    bool `json:"matched"`
	InViewport bool `json:"inViewport"`
	Invalid    bool `json:"invalid"`
}

// checkSelectorsReply is the decoded reply of checkSelectorsScript.
type checkSelectorsReply struct {
	Selectors  map[string]selectorState `json:"selectors"`
	Fonts      []string                 `json:"fonts"`
	Animations []string                 `json:"animations"`
}
