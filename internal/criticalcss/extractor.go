package criticalcss

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/critcss/internal/browser"
	"github.com/xkilldash9x/critcss/internal/cssutil"
)

// Extractor produces the rule usage report of one loaded page at one viewport.
type Extractor struct {
	browser browser.Interface
	logger  *zap.Logger
}

// NewExtractor creates an Extractor that drives pages through b.
func NewExtractor(b browser.Interface, logger *zap.Logger) *Extractor {
	return &Extractor{browser: b, logger: logger.Named("extractor")}
}

// Extract resizes page to vp, collects its rules and marks the ones used above the fold.
// Failures to resize or to evaluate either script are returned in the report's Err;
// unreadable stylesheets are listed in Skipped instead.
func (e *Extractor) Extract(ctx context.Context, page browser.PageHandle, vp Viewport) RuleUsageReport {
	report := RuleUsageReport{URL: page.URL(), Viewport: vp}
	logger := e.logger.With(zap.String("url", report.URL), zap.Stringer("viewport", vp))

	if err := e.browser.SetViewport(ctx, page, vp.Width, vp.Height); err != nil {
		report.Err = err
		return report
	}

	var collected collectRulesReply
	if err := e.browser.Evaluate(ctx, page, collectRulesScript, &collected); err != nil {
		report.Err = err
		return report
	}
	report.Skipped = collected.Skipped

	var checked checkSelectorsReply
	selectors := selectorsToCheck(collected.Rules)
	if err := e.browser.Evaluate(ctx, page, checkSelectorsScript, &checked, nonNil(selectors), vp); err != nil {
		report.Err = err
		return report
	}

	u := newUsage(checked)
	rules := make([]RuleRecord, len(collected.Rules))
	used := 0
	for i, rule := range collected.Rules {
		rule.UsedInViewport = u.used(rule)
		if rule.UsedInViewport {
			rule.Text = cssutil.RebaseURLs(rule.Text, rule.Href)
			used++
		}
		rules[i] = rule
	}
	report.Rules = rules

	logger.Debug("Extracted rule usage.",
		zap.Int("rules", len(rules)),
		zap.Int("used", used),
		zap.Int("selectors", len(selectors)),
		zap.Int("skipped_stylesheets", len(report.Skipped)),
	)
	return report
}

// nonNil keeps an empty selector list encoded as [] rather than null.
func nonNil(selectors []string) []string {
	if selectors == nil {
		return []string{}
	}
	return selectors
}

// describeFailure renders a per-pair failure for a Warning message.
func describeFailure(url string, vp Viewport, err error) string {
	return fmt.Sprintf("could not extract critical CSS for %s at %s: %v", url, vp, err)
}
