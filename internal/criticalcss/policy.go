package criticalcss

import (
	"strings"

	"github.com/xkilldash9x/critcss/internal/cssutil"
)

// usage is what a page reported about its rendered elements at one viewport.
type usage struct {
	selectors  map[string]selectorState
	fonts      map[string]bool
	animations map[string]bool
}

func newUsage(reply checkSelectorsReply) usage {
	u := usage{
		selectors:  reply.Selectors,
		fonts:      make(map[string]bool, len(reply.Fonts)),
		animations: make(map[string]bool, len(reply.Animations)),
	}
	if u.selectors == nil {
		u.selectors = map[string]selectorState{}
	}
	for _, f := range reply.Fonts {
		u.fonts[normalizeFamily(f)] = true
	}
	for _, a := range reply.Animations {
		u.animations[unquoteName(a)] = true
	}
	return u
}

// used decides whether a rule is critical at this viewport.
//
// Style rules need a selector whose element is in the viewport; under @supports any
// rendered match is enough. @font-face counts when its family is used by any rendered
// element and @keyframes when an in-viewport element runs the animation. @layer and
// @container blocks are transparent: the rules inside them are judged like any other.
// Layer order statements are always kept since they decide which layer wins. Every
// other at-rule is left to the full stylesheet.
func (u usage) used(rule RuleRecord) bool {
	switch rule.Kind {
	case RuleStyle:
		anyMatch := rule.underSupports()
		for _, sel := range simplifiedSelectors(rule.Selector) {
			state := u.selectors[sel]
			if state.InViewport || (anyMatch && state.Matched) {
				return true
			}
		}
		return false
	case RuleFontFace:
		return rule.Name != "" && u.fonts[normalizeFamily(rule.Name)]
	case RuleKeyframes:
		return rule.Name != "" && u.animations[unquoteName(rule.Name)]
	case RuleLayerOrder:
		return true
	default:
		return false
	}
}

// simplifiedSelectors splits a selector list and makes each entry matchable against the DOM.
func simplifiedSelectors(selectorText string) []string {
	parts := cssutil.SplitSelectorList(selectorText)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if simplified := cssutil.SimplifySelector(part); simplified != "" {
			out = append(out, simplified)
		}
	}
	return out
}

// selectorsToCheck returns the distinct simplified selectors of all style rules, in rule order.
func selectorsToCheck(rules []RuleRecord) []string {
	seen := make(map[string]bool)
	var selectors []string
	for _, rule := range rules {
		if rule.Kind != RuleStyle {
			continue
		}
		for _, sel := range simplifiedSelectors(rule.Selector) {
			if !seen[sel] {
				seen[sel] = true
				selectors = append(selectors, sel)
			}
		}
	}
	return selectors
}

func normalizeFamily(family string) string {
	return strings.ToLower(unquoteName(family))
}

func unquoteName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && (name[0] == '"' || name[0] == '\'') && name[len(name)-1] == name[0] {
		name = name[1 : len(name)-1]
	}
	return strings.TrimSpace(name)
}
