package browser

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/critcss/internal/config"
)

// Pool is the pooled Interface implementation. It serves pages that were opened and
// navigated by the caller, one chromedp tab context per URL, and never closes them.
type Pool struct {
	pageOps

	logger *zap.Logger
	pages  map[string]*page
}

var _ Interface = (*Pool)(nil)

// NewPool wraps caller-owned chromedp tab contexts keyed by the URL each tab has loaded.
func NewPool(tabs map[string]context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Pool {
	logger = logger.Named("browser_pool")

	pages := make(map[string]*page, len(tabs))
	for url, tabCtx := range tabs {
		pages[url] = &page{id: uuid.NewString(), url: url, ctx: tabCtx}
	}

	logger.Debug("Page pool created.", zap.Int("pages", len(pages)))
	return &Pool{
		pageOps: pageOps{logger: logger, evaluationTimeout: cfg.EvaluationTimeout},
		logger:  logger,
		pages:   pages,
	}
}

// GetPage returns the pooled page for url.
func (p *Pool) GetPage(ctx context.Context, url string) (PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NavigationError{URL: url, Err: err}
	}
	pg, ok := p.pages[url]
	if !ok {
		return nil, &NavigationError{URL: url, Err: ErrPageNotPooled}
	}
	return pg, nil
}

// ReleasePage is a no-op: pooled pages belong to whoever built the pool.
func (p *Pool) ReleasePage(ctx context.Context, handle PageHandle) error {
	return nil
}

// Len returns the number of pages held by the pool.
func (p *Pool) Len() int { return len(p.pages) }
