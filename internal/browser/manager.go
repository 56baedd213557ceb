package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/critcss/internal/config"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultConcurrency       = 4
	pageCloseTimeout         = 10 * time.Second
	shutdownGracePeriod      = 15 * time.Second
)

// Manager is the ephemeral Interface implementation. It launches a single Chrome on first
// use and opens every page in its own isolated browser context, which is disposed of
// when the page is released.
type Manager struct {
	pageOps

	cfg    config.BrowserConfig
	logger *zap.Logger

	// rootCtx bounds the browser process lifetime.
	rootCtx context.Context

	initOnce      sync.Once
	initErr       error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	slots   *semaphore.Weighted
	limiter *rate.Limiter

	mu     sync.Mutex
	pages  map[string]*page
	closed bool
	wg     sync.WaitGroup
}

var _ Interface = (*Manager)(nil)

// NewManager creates a browser manager. Chrome is not started until the first GetPage.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	logger = logger.Named("browser_manager")

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var limiter *rate.Limiter
	if cfg.NavigationRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.NavigationRate), 1)
	}

	m := &Manager{
		pageOps: pageOps{logger: logger, evaluationTimeout: cfg.EvaluationTimeout},
		cfg:     cfg,
		logger:  logger,
		rootCtx: ctx,
		slots:   semaphore.NewWeighted(int64(concurrency)),
		limiter: limiter,
		pages:   make(map[string]*page),
	}
	m.logger.Debug("Browser manager created (launch deferred).", zap.Int("max_pages", concurrency))
	return m
}

// allocatorOptions translates the browser configuration into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}

	// Extra flags may be given as "--name" or "--name=value".
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}

// initialize launches the browser process once.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))

		allocCtx, allocCancel := chromedp.NewExecAllocator(m.rootCtx, allocatorOptions(m.cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Debugf),
		)

		// The first Run allocates the browser; it must not carry a short deadline.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}

		m.allocCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

func (m *Manager) navigationTimeout() time.Duration {
	if m.cfg.NavigationTimeout <= 0 {
		return defaultNavigationTimeout
	}
	return m.cfg.NavigationTimeout
}

// GetPage opens url in a fresh browser context and waits for it to load.
func (m *Manager) GetPage(ctx context.Context, url string) (PageHandle, error) {
	if err := m.initialize(); err != nil {
		return nil, &NavigationError{URL: url, Err: err}
	}

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, &NavigationError{URL: url, Err: fmt.Errorf("waiting for a free page slot: %w", err)}
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.slots.Release(1)
			return nil, &NavigationError{URL: url, Err: fmt.Errorf("navigation throttle: %w", err)}
		}
	}

	p := &page{id: uuid.NewString(), url: url, owned: true}
	logger := m.logger.With(zap.String("page_id", p.id), zap.String("url", url))

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())
	p.ctx = tabCtx
	p.teardown = func() error {
		defer m.slots.Release(1)
		defer tabCancel()
		err := closeTab(tabCtx)
		m.mu.Lock()
		delete(m.pages, p.id)
		m.mu.Unlock()
		m.wg.Done()
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		tabCancel()
		m.slots.Release(1)
		return nil, &NavigationError{URL: url, Err: ErrManagerClosed}
	}
	m.pages[p.id] = p
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.load(ctx, p); err != nil {
		if releaseErr := p.release(); releaseErr != nil {
			logger.Debug("Failed to close tab after navigation error.", zap.Error(releaseErr))
		}
		return nil, &NavigationError{URL: url, Err: err}
	}

	logger.Debug("Page loaded.")
	return p, nil
}

// load allocates the tab and navigates it, bounded by the navigation timeout.
func (m *Manager) load(ctx context.Context, p *page) error {
	// Allocating the target uses the tab context directly; a derived context
	// would close the tab when it is canceled.
	if err := chromedp.Run(p.ctx); err != nil {
		return fmt.Errorf("opening tab: %w", err)
	}

	navCtx, navCancel := context.WithTimeout(ctx, m.navigationTimeout())
	defer navCancel()
	runCtx, cancel := CombineContext(p.ctx, navCtx)
	defer cancel()

	actions := []chromedp.Action{
		emulation.SetScrollbarsHidden(true),
		chromedp.Navigate(p.url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if m.cfg.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(m.cfg.PostLoadWait))
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("timed out after %s: %w", m.navigationTimeout(), navCtx.Err())
		}
		return err
	}
	return nil
}

// closeTab closes the target and waits for chromedp to dispose of its browser context.
func closeTab(tabCtx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(tabCtx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("closing tab: %w", err)
		}
		return nil
	case <-time.After(pageCloseTimeout):
		return fmt.Errorf("closing tab: timed out after %s", pageCloseTimeout)
	}
}

// ReleasePage closes an owned page and its browser context. Releasing twice is a no-op.
func (m *Manager) ReleasePage(ctx context.Context, handle PageHandle) error {
	if handle == nil || !handle.Owned() {
		return nil
	}
	p, ok := handle.(*page)
	if !ok {
		return ErrForeignHandle
	}
	if err := p.release(); err != nil {
		m.logger.Warn("Failed to release page cleanly.", zap.String("page_id", p.id), zap.Error(err))
		return err
	}
	m.logger.Debug("Page released.", zap.String("page_id", p.id), zap.String("url", p.url))
	return nil
}

// OpenPages returns the number of pages that have not been released.
func (m *Manager) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Shutdown releases every open page and stops the browser. GetPage fails afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Claims initialization if it never happened, so no browser is launched later.
	m.initOnce.Do(func() { m.initErr = ErrManagerClosed })

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*page, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.mu.Unlock()

	if len(open) > 0 {
		m.logger.Info("Closing open pages.", zap.Int("count", len(open)))
	}
	for _, p := range open {
		if err := p.release(); err != nil {
			m.logger.Warn("Error closing page during shutdown.", zap.String("page_id", p.id), zap.Error(err))
		}
	}

	waitDone := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for pages to close.")
	}

	if m.browserCtx == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.browserCtx) }()

	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-shutdownCtx.Done():
		err = fmt.Errorf("browser shutdown timed out: %w", shutdownCtx.Err())
	}

	m.browserCancel()
	m.allocCancel()
	m.logger.Info("Browser stopped.")
	return err
}
