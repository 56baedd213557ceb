package criticalcss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/critcss/internal/browser"
)

// ErrInvalidRequest is returned for requests that cannot be processed at all.
var ErrInvalidRequest = errors.New("invalid critical css request")

const defaultConcurrency = 4

// Request describes one generation run.
type Request struct {
	// URLs are processed in order; duplicates are dropped, first occurrence wins.
	URLs      []string
	Viewports []Viewport
	Browser   browser.Interface
}

// ProgressFunc is called after every (url, viewport) pair, successful or not.
type ProgressFunc func(done, total int)

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithConcurrency bounds how many URLs are processed at once.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithProgress registers a progress callback. Calls are serialised.
func WithProgress(fn ProgressFunc) Option {
	return func(g *Generator) { g.progress = fn }
}

// Generator runs extraction over every url and viewport and aggregates the results.
type Generator struct {
	logger      *zap.Logger
	concurrency int
	progress    ProgressFunc
}

// NewGenerator creates a Generator with the given options.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		logger:      zap.NewNop(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateCriticalCSS is a convenience wrapper around NewGenerator(opts...).Generate.
func GenerateCriticalCSS(ctx context.Context, req Request, opts ...Option) (string, []Warning, error) {
	return NewGenerator(opts...).Generate(ctx, req)
}

// urlResult collects everything produced for one url, in viewport order.
type urlResult struct {
	reports  []RuleUsageReport
	warnings []Warning
}

// Generate returns the critical CSS for req and a warning for every pair or stylesheet
// that could not be processed. Only a malformed request produces an error; individual
// failures never abort the run.
func (g *Generator) Generate(ctx context.Context, req Request) (string, []Warning, error) {
	if err := validate(req); err != nil {
		return "", nil, err
	}

	urls := dedupe(req.URLs)
	logger := g.logger.Named("generator").With(zap.String("run_id", uuid.NewString()))
	logger.Info("Starting critical CSS generation.",
		zap.Int("urls", len(urls)),
		zap.Int("viewports", len(req.Viewports)),
		zap.Int("concurrency", g.concurrency),
	)
	start := time.Now()

	extractor := NewExtractor(req.Browser, logger)
	tracker := &progressTracker{total: len(urls) * len(req.Viewports), fn: g.progress}
	results := make([]urlResult, len(urls))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, url := range urls {
		eg.Go(func() error {
			results[i] = g.processURL(ctx, req.Browser, extractor, url, req.Viewports, tracker, logger)
			return nil
		})
	}
	// Workers record failures as warnings and never return an error.
	_ = eg.Wait()

	var (
		reports  []RuleUsageReport
		warnings []Warning
	)
	for _, r := range results {
		reports = append(reports, r.reports...)
		warnings = append(warnings, r.warnings...)
	}

	sheet := Aggregate(reports)
	logger.Info("Critical CSS generation finished.",
		zap.Int("rules", sheet.Len()),
		zap.Int("successful_pairs", len(reports)),
		zap.Int("warnings", len(warnings)),
		zap.Duration("duration", time.Since(start)),
	)
	return sheet.String(), warnings, nil
}

// processURL loads url once and extracts it at every viewport in turn.
func (g *Generator) processURL(
	ctx context.Context,
	b browser.Interface,
	extractor *Extractor,
	url string,
	viewports []Viewport,
	tracker *progressTracker,
	logger *zap.Logger,
) urlResult {
	var result urlResult
	logger = logger.With(zap.String("url", url))

	page, err := b.GetPage(ctx, url)
	if err != nil {
		logger.Warn("Failed to load page.", zap.Error(err))
		for _, vp := range viewports {
			result.warnings = append(result.warnings, Warning{
				URL:      url,
				Viewport: vp,
				Kind:     WarningNavigation,
				Message:  describeFailure(url, vp, err),
			})
			tracker.step()
		}
		return result
	}
	if page.Owned() {
		defer func() {
			// The page must be released even when ctx was canceled.
			if err := b.ReleasePage(browser.Detach(ctx), page); err != nil {
				logger.Warn("Failed to release page.", zap.Error(err))
			}
		}()
	}

	reportedSheets := make(map[string]bool)
	for _, vp := range viewports {
		report := extractor.Extract(ctx, page, vp)
		tracker.step()

		if report.Err != nil {
			logger.Warn("Extraction failed.", zap.Stringer("viewport", vp), zap.Error(report.Err))
			result.warnings = append(result.warnings, Warning{
				URL:      url,
				Viewport: vp,
				Kind:     warningKind(report.Err),
				Message:  describeFailure(url, vp, report.Err),
			})
			continue
		}

		for _, sheet := range report.Skipped {
			key := sheet.Href
			if key == "" {
				key = fmt.Sprintf("#%d", sheet.Index)
			}
			if reportedSheets[key] {
				continue
			}
			reportedSheets[key] = true
			result.warnings = append(result.warnings, Warning{
				URL:      url,
				Viewport: vp,
				Kind:     WarningCrossOrigin,
				Message:  fmt.Sprintf("skipped stylesheet %s on %s: %s", key, url, sheet.Reason),
			})
		}
		result.reports = append(result.reports, report)
	}
	return result
}

func warningKind(err error) WarningKind {
	var (
		navErr *browser.NavigationError
		vpErr  *browser.ViewportError
	)
	switch {
	case errors.As(err, &navErr):
		return WarningNavigation
	case errors.As(err, &vpErr):
		return WarningViewport
	default:
		return WarningEvaluation
	}
}

func validate(req Request) error {
	switch {
	case len(req.URLs) == 0:
		return fmt.Errorf("%w: at least one url is required", ErrInvalidRequest)
	case len(req.Viewports) == 0:
		return fmt.Errorf("%w: at least one viewport is required", ErrInvalidRequest)
	case req.Browser == nil:
		return fmt.Errorf("%w: a browser is required", ErrInvalidRequest)
	}
	for _, vp := range req.Viewports {
		if !vp.Valid() {
			return fmt.Errorf("%w: viewport %s must have positive dimensions", ErrInvalidRequest, vp)
		}
	}
	for _, url := range req.URLs {
		if url == "" {
			return fmt.Errorf("%w: urls must not be empty", ErrInvalidRequest)
		}
	}
	return nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// progressTracker counts finished pairs and reports them in order.
type progressTracker struct {
	mu    sync.Mutex
	done  int
	total int
	fn    ProgressFunc
}

func (p *progressTracker) step() {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.fn(p.done, p.total)
}
