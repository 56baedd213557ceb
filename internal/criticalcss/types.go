// Package criticalcss extracts the CSS rules needed to render the above-the-fold content
// of a set of pages at a set of viewport sizes, and merges them into one stylesheet.
package criticalcss

import (
	"fmt"
	"strconv"
	"strings"
)

// Viewport is a layout viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// Valid reports whether both dimensions are positive.
func (v Viewport) Valid() bool {
	return v.Width > 0 && v.Height > 0
}

// ParseViewport parses a "WIDTHxHEIGHT" string such as "1280x800".
func ParseViewport(s string) (Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Viewport{}, fmt.Errorf("invalid viewport %q: expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Viewport{}, fmt.Errorf("invalid viewport width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Viewport{}, fmt.Errorf("invalid viewport height in %q: %w", s, err)
	}
	vp := Viewport{Width: width, Height: height}
	if !vp.Valid() {
		return Viewport{}, fmt.Errorf("invalid viewport %q: dimensions must be positive", s)
	}
	return vp, nil
}

// ParseViewports parses every entry with ParseViewport.
func ParseViewports(values []string) ([]Viewport, error) {
	viewports := make([]Viewport, 0, len(values))
	for _, value := range values {
		vp, err := ParseViewport(value)
		if err != nil {
			return nil, err
		}
		viewports = append(viewports, vp)
	}
	return viewports, nil
}

// ConditionKind identifies the conditional group rule a Condition came from.
type ConditionKind string

const (
	ConditionMedia     ConditionKind = "media"
	ConditionSupports  ConditionKind = "supports"
	ConditionContainer ConditionKind = "container"
	// ConditionLayer is a cascade layer block. Text is the layer name, empty for an
	// anonymous layer.
	ConditionLayer ConditionKind = "layer"
)

// Condition is one link of the chain of conditional group rules enclosing a rule.
// Media conditions also come from <link media> attributes and @import media lists.
type Condition struct {
	Kind ConditionKind `json:"kind"`
	Text string        `json:"text"`
}

// prelude renders the at-rule header, e.g. "@media screen and (min-width: 600px)".
func (c Condition) prelude() string {
	text := strings.TrimSpace(c.Text)
	switch {
	case c.Kind == ConditionMedia && text == "":
		text = "all"
	case text == "":
		return "@" + string(c.Kind)
	}
	return "@" + string(c.Kind) + " " + text
}

// RuleKind classifies a collected rule for the usage policy.
type RuleKind string

const (
	RuleStyle     RuleKind = "style"
	RuleFontFace  RuleKind = "font-face"
	RuleKeyframes RuleKind = "keyframes"
	// RuleLayerOrder is an "@layer a, b;" statement fixing the order of cascade layers.
	RuleLayerOrder RuleKind = "layer-order"
	RuleOther      RuleKind = "other"
)

// RuleRecord describes one rule found in the page's stylesheets.
type RuleRecord struct {
	// StylesheetIndex numbers stylesheets in depth-first order, imports included.
	StylesheetIndex int `json:"sheet"`
	// RuleIndex is the rule's position in its stylesheet's depth-first walk.
	RuleIndex int      `json:"index"`
	Kind      RuleKind `json:"kind"`
	// Conditions is the enclosing @media / @supports / @container / @layer chain,
	// outermost first.
	Conditions   []Condition `json:"conditions"`
	Selector     string      `json:"selector"`
	Declarations string      `json:"declarations"`
	Text         string      `json:"text"`
	// Name is the family of a @font-face rule or the name of a @keyframes rule.
	Name string `json:"name"`
	// Href is the URL relative references in the rule resolve against.
	Href string `json:"href"`

	UsedInViewport bool `json:"-"`
}

// MediaChain returns the media links of the condition chain, outermost first.
func (r RuleRecord) MediaChain() []string {
	var chain []string
	for _, c := range r.Conditions {
		if c.Kind == ConditionMedia {
			chain = append(chain, c.Text)
		}
	}
	return chain
}

func (r RuleRecord) underSupports() bool {
	for _, c := range r.Conditions {
		if c.Kind == ConditionSupports {
			return true
		}
	}
	return false
}

// SkippedStylesheet is a stylesheet whose rules the page would not expose,
// typically because it was served cross-origin without CORS.
type SkippedStylesheet struct {
	Index  int    `json:"index"`
	Href   string `json:"href"`
	Reason string `json:"reason"`
}

// RuleUsageReport is the result of extracting one page at one viewport.
type RuleUsageReport struct {
	URL      string
	Viewport Viewport
	Rules    []RuleRecord
	Skipped  []SkippedStylesheet
	// Err is set when the pair could not be processed; Rules is then empty.
	Err error
}

// WarningKind classifies a Warning.
type WarningKind string

const (
	WarningNavigation  WarningKind = "navigation"
	WarningViewport    WarningKind = "viewport"
	WarningEvaluation  WarningKind = "evaluation"
	WarningCrossOrigin WarningKind = "cross-origin-stylesheet"
)

// Warning is a non-fatal problem with one (url, viewport) pair, or with one stylesheet
// of a url.
type Warning struct {
	URL      string      `json:"url"`
	Viewport Viewport    `json:"viewport"`
	Kind     WarningKind `json:"kind"`
	Message  string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s", w.Kind, w.Message)
}
