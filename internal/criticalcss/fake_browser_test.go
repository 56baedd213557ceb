package criticalcss_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/critcss/internal/browser"
	"github.com/xkilldash9x/critcss/internal/criticalcss"
)

// fakeSheet is a stylesheet served by a fakePage. A non-empty Blocked reason makes the
// sheet unreadable, as cross-origin sheets are.
type fakeSheet struct {
	Href    string
	Media   string
	Rules   []fakeRule
	Blocked string
}

// fakeRule is a rule as the page would expose it through the CSSOM.
type fakeRule struct {
	Conditions []criticalcss.Condition
	Kind       criticalcss.RuleKind
	Selector   string
	Body       string
	Name       string
}

func styleRule(selector, body string, conditions ...criticalcss.Condition) fakeRule {
	return fakeRule{Kind: criticalcss.RuleStyle, Selector: selector, Body: body, Conditions: conditions}
}

func media(text string) criticalcss.Condition {
	return criticalcss.Condition{Kind: criticalcss.ConditionMedia, Text: text}
}

func supports(text string) criticalcss.Condition {
	return criticalcss.Condition{Kind: criticalcss.ConditionSupports, Text: text}
}

func layer(name string) criticalcss.Condition {
	return criticalcss.Condition{Kind: criticalcss.ConditionLayer, Text: name}
}

func container(text string) criticalcss.Condition {
	return criticalcss.Condition{Kind: criticalcss.ConditionContainer, Text: text}
}

func (r fakeRule) text() string {
	switch r.Kind {
	case criticalcss.RuleStyle:
		return fmt.Sprintf("%s { %s }", r.Selector, r.Body)
	case criticalcss.RuleFontFace:
		return fmt.Sprintf("@font-face { %s }", r.Body)
	case criticalcss.RuleKeyframes:
		return fmt.Sprintf("@keyframes %s { %s }", r.Name, r.Body)
	default:
		return r.Body
	}
}

// fakePage is a document whose layout is declared with data attributes:
// data-top, data-left, data-width and data-height give the border box (defaults 0, 0,
// 100, 20), data-hidden removes the element from rendering, data-font lists font
// families and data-animation lists running animations.
type fakePage struct {
	HTML   string
	Sheets []fakeSheet
}

// fakeBrowser is an in-memory browser.Interface. Selector matching is done by goquery,
// so the extractor's replies come from real selector semantics.
type fakeBrowser struct {
	t      *testing.T
	pages  map[string]fakePage
	pooled bool

	// Failure injection keyed by url, or by "url@WxH" for per-viewport failures.
	failGetPage  map[string]error
	failViewport map[string]error
	failEvaluate map[string]error

	mu       sync.Mutex
	current  map[string]criticalcss.Viewport
	released map[string]int
	opened   map[string]int
	inUse    map[string]bool
	overlap  bool
}

func newFakeBrowser(t *testing.T, pages map[string]fakePage) *fakeBrowser {
	return &fakeBrowser{
		t:            t,
		pages:        pages,
		failGetPage:  map[string]error{},
		failViewport: map[string]error{},
		failEvaluate: map[string]error{},
		current:      map[string]criticalcss.Viewport{},
		released:     map[string]int{},
		opened:       map[string]int{},
		inUse:        map[string]bool{},
	}
}

type fakeHandle struct {
	url   string
	owned bool
}

func (h *fakeHandle) ID() string  { return "fake:" + h.url }
func (h *fakeHandle) URL() string { return h.url }
func (h *fakeHandle) Owned() bool { return h.owned }

var _ browser.Interface = (*fakeBrowser)(nil)

func (b *fakeBrowser) GetPage(ctx context.Context, url string) (browser.PageHandle, error) {
	if err := b.failGetPage[url]; err != nil {
		return nil, &browser.NavigationError{URL: url, Err: err}
	}
	if _, ok := b.pages[url]; !ok {
		return nil, &browser.NavigationError{URL: url, Err: browser.ErrPageNotPooled}
	}
	b.mu.Lock()
	b.opened[url]++
	b.mu.Unlock()
	return &fakeHandle{url: url, owned: !b.pooled}, nil
}

func (b *fakeBrowser) SetViewport(ctx context.Context, page browser.PageHandle, width, height int) error {
	done := b.enter(page)
	defer done()

	vp := criticalcss.Viewport{Width: width, Height: height}
	if err := b.failViewport[page.URL()+"@"+vp.String()]; err != nil {
		return &browser.ViewportError{URL: page.URL(), Width: width, Height: height, Err: err}
	}
	b.mu.Lock()
	b.current[page.URL()] = vp
	b.mu.Unlock()
	return nil
}

func (b *fakeBrowser) Evaluate(ctx context.Context, page browser.PageHandle, script browser.Script, result any, args ...any) error {
	done := b.enter(page)
	defer done()

	b.mu.Lock()
	vp := b.current[page.URL()]
	b.mu.Unlock()

	if err := b.failEvaluate[page.URL()+"@"+vp.String()]; err != nil {
		return &browser.EvaluationError{URL: page.URL(), Script: script.Name, Err: err}
	}
	require.NotEmpty(b.t, script.Source, "script %s has no source", script.Name)

	fp := b.pages[page.URL()]
	var reply any
	switch script.Name {
	case "collectRules":
		reply = collectRules(page.URL(), fp)
	case "checkSelectors":
		// Arguments cross the boundary as JSON, as they do in a real page.
		encoded, err := json.Marshal(args)
		require.NoError(b.t, err)
		var decoded []json.RawMessage
		require.NoError(b.t, json.Unmarshal(encoded, &decoded))
		require.Len(b.t, decoded, 2)

		var selectors []string
		var viewport criticalcss.Viewport
		require.NoError(b.t, json.Unmarshal(decoded[0], &selectors))
		require.NoError(b.t, json.Unmarshal(decoded[1], &viewport))
		require.Equal(b.t, vp, viewport, "selectors checked at a viewport the page was not resized to")

		reply = checkSelectors(b.t, fp, selectors, viewport)
	default:
		return &browser.EvaluationError{URL: page.URL(), Script: script.Name, Err: fmt.Errorf("unknown script")}
	}

	raw, err := json.Marshal(reply)
	require.NoError(b.t, err)
	if err := json.Unmarshal(raw, result); err != nil {
		return &browser.EvaluationError{URL: page.URL(), Script: script.Name, Err: err}
	}
	return nil
}

func (b *fakeBrowser) ReleasePage(ctx context.Context, page browser.PageHandle) error {
	if !page.Owned() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released[page.URL()]++
	return nil
}

// enter records that a page is being manipulated and flags overlapping use.
func (b *fakeBrowser) enter(page browser.PageHandle) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse[page.URL()] {
		b.overlap = true
	}
	b.inUse[page.URL()] = true
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.inUse[page.URL()] = false
	}
}

func (b *fakeBrowser) releasedCount(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released[url]
}

func (b *fakeBrowser) openedCount(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened[url]
}

func collectRules(pageURL string, fp fakePage) map[string]any {
	rules := []map[string]any{}
	skipped := []map[string]any{}

	for sheetIndex, sheet := range fp.Sheets {
		if sheet.Blocked != "" {
			skipped = append(skipped, map[string]any{"index": sheetIndex, "href": sheet.Href, "reason": sheet.Blocked})
			continue
		}
		href := sheet.Href
		if href == "" {
			href = pageURL
		}
		for ruleIndex, rule := range sheet.Rules {
			conditions := []criticalcss.Condition{}
			if sheet.Media != "" {
				conditions = append(conditions, media(sheet.Media))
			}
			conditions = append(conditions, rule.Conditions...)
			rules = append(rules, map[string]any{
				"sheet":        sheetIndex,
				"index":        ruleIndex,
				"kind":         rule.Kind,
				"conditions":   conditions,
				"selector":     rule.Selector,
				"declarations": rule.Body,
				"text":         rule.text(),
				"name":         rule.Name,
				"href":         href,
			})
		}
	}
	return map[string]any{"rules": rules, "skipped": skipped}
}

type fakeBox struct {
	top, left, width, height float64
}

func boxOf(s *goquery.Selection) fakeBox {
	num := func(attr string, def float64) float64 {
		if v, ok := s.Attr(attr); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return def
	}
	return fakeBox{top: num("data-top", 0), left: num("data-left", 0), width: num("data-width", 100), height: num("data-height", 20)}
}

func rendered(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, hidden := n.Attr("data-hidden"); hidden {
			return false
		}
	}
	return true
}

func intersects(box fakeBox, vp criticalcss.Viewport) bool {
	return box.top < float64(vp.Height) && box.left < float64(vp.Width) &&
		box.top+box.height >= 0 && box.left+box.width >= 0
}

func checkSelectors(t *testing.T, fp fakePage, selectors []string, vp criticalcss.Viewport) map[string]any {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fp.HTML))
	require.NoError(t, err)

	results := map[string]map[string]bool{}
	for _, sel := range selectors {
		state := map[string]bool{"matched": false, "inViewport": false}
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !rendered(s) {
				return true
			}
			state["matched"] = true
			if intersects(boxOf(s), vp) {
				state["inViewport"] = true
				return false
			}
			return true
		})
		results[sel] = state
	}

	fonts := map[string]bool{}
	animations := map[string]bool{}
	doc.Find("body, body *").Each(func(_ int, s *goquery.Selection) {
		if !rendered(s) {
			return
		}
		if families, ok := s.Attr("data-font"); ok {
			for _, f := range strings.Split(families, ",") {
				fonts[strings.ToLower(strings.TrimSpace(f))] = true
			}
		}
		if names, ok := s.Attr("data-animation"); ok && intersects(boxOf(s), vp) {
			for _, a := range strings.Split(names, ",") {
				animations[strings.TrimSpace(a)] = true
			}
		}
	})

	return map[string]any{
		"selectors":  results,
		"fonts":      keys(fonts),
		"animations": keys(animations),
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
