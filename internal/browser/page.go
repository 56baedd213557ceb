package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultEvaluationTimeout = 30 * time.Second

// page is the chromedp-backed PageHandle shared by Manager and Pool.
type page struct {
	id    string
	url   string
	owned bool

	// ctx is the chromedp tab context the page lives in.
	ctx context.Context

	mu       sync.Mutex
	released bool
	// teardown closes the tab and frees its slot. Nil for pooled pages.
	teardown func() error
}

func (p *page) ID() string  { return p.id }
func (p *page) URL() string { return p.url }
func (p *page) Owned() bool { return p.owned }

func (p *page) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// release runs teardown once. Later calls are no-ops.
func (p *page) release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	teardown := p.teardown
	p.mu.Unlock()

	if teardown == nil {
		return nil
	}
	return teardown()
}

// pageOps implements the parts of Interface that only need a live tab: resizing and
// script evaluation. Manager and Pool embed it.
type pageOps struct {
	logger            *zap.Logger
	evaluationTimeout time.Duration
}

func (o pageOps) timeout() time.Duration {
	if o.evaluationTimeout <= 0 {
		return defaultEvaluationTimeout
	}
	return o.evaluationTimeout
}

// run executes actions in the page's tab, bounded by ctx and the evaluation timeout.
func (o pageOps) run(ctx context.Context, p *page, actions ...chromedp.Action) error {
	opCtx, opCancel := context.WithTimeout(ctx, o.timeout())
	defer opCancel()

	runCtx, cancel := CombineContext(p.ctx, opCtx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("timed out after %s: %w", o.timeout(), opCtx.Err())
	}
	return err
}

// SetViewport applies a device metrics override so layout uses width x height CSS pixels.
func (o pageOps) SetViewport(ctx context.Context, handle PageHandle, width, height int) error {
	p, err := asPage(handle)
	if err == nil && (width <= 0 || height <= 0) {
		err = fmt.Errorf("viewport dimensions must be positive")
	}
	if err != nil {
		return &ViewportError{URL: handleURL(handle), Width: width, Height: height, Err: err}
	}

	err = o.run(ctx, p,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
	)
	if err != nil {
		return &ViewportError{URL: p.url, Width: width, Height: height, Err: err}
	}
	o.logger.Debug("Viewport set.", zap.String("page_id", p.id), zap.Int("width", width), zap.Int("height", height))
	return nil
}

// Evaluate invokes script.Source with args embedded as JSON literals and decodes the reply.
func (o pageOps) Evaluate(ctx context.Context, handle PageHandle, script Script, result any, args ...any) error {
	p, err := asPage(handle)
	if err != nil {
		return &EvaluationError{URL: handleURL(handle), Script: script.Name, Err: err}
	}

	expression, err := buildExpression(script, args)
	if err != nil {
		return &EvaluationError{URL: p.url, Script: script.Name, Err: err}
	}

	start := time.Now()
	var raw []byte
	err = o.run(ctx, p,
		chromedp.Evaluate(expression, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithReturnByValue(true).WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return &EvaluationError{URL: p.url, Script: script.Name, Err: err}
	}

	o.logger.Debug("Script evaluated.",
		zap.String("page_id", p.id),
		zap.String("script", script.Name),
		zap.Int("reply_bytes", len(raw)),
		zap.Duration("duration", time.Since(start)),
	)

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &EvaluationError{URL: p.url, Script: script.Name, Err: fmt.Errorf("decoding reply: %w", err)}
	}
	return nil
}

// buildExpression produces "(<source>)(<arg0>, <arg1>, ...)".
func buildExpression(script Script, args []any) (string, error) {
	source := strings.TrimSpace(script.Source)
	if source == "" {
		return "", fmt.Errorf("script %q has no source", script.Name)
	}

	encoded := make([]string, 0, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d: %w", i, err)
		}
		encoded = append(encoded, string(b))
	}

	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(source)
	b.WriteString(")(")
	b.WriteString(strings.Join(encoded, ", "))
	b.WriteByte(')')
	return b.String(), nil
}

func asPage(handle PageHandle) (*page, error) {
	p, ok := handle.(*page)
	if !ok || p == nil {
		return nil, ErrForeignHandle
	}
	if p.isReleased() {
		return nil, ErrPageClosed
	}
	return p, nil
}

func handleURL(handle PageHandle) string {
	if p, ok := handle.(*page); handle == nil || (ok && p == nil) {
		return ""
	}
	return handle.URL()
}
