// Package browser defines the contract the critical CSS core uses to drive a rendering
// engine, along with chromedp-backed implementations of it.
package browser

import "context"

// PageHandle is an opaque reference to a loaded page.
type PageHandle interface {
	// ID uniquely identifies the handle for logging.
	ID() string
	// URL is the address the page was loaded from.
	URL() string
	// Owned reports whether the handle was opened for the caller and must be released by it.
	// Pooled handles are never owned.
	Owned() bool
}

// Script is a named in-page function. Source must be a JavaScript function expression;
// it is invoked with the JSON-encoded arguments passed to Evaluate and its (possibly
// promised) return value is sent back as JSON.
type Script struct {
	Name   string
	Source string
}

// Interface is the minimal browser contract required for critical CSS extraction.
type Interface interface {
	// GetPage returns a handle to a fully loaded page. Failures are *NavigationError.
	GetPage(ctx context.Context, url string) (PageHandle, error)
	// SetViewport resizes the page's layout viewport. Failures are *ViewportError.
	SetViewport(ctx context.Context, page PageHandle, width, height int) error
	// Evaluate runs script in the page with args and decodes its JSON reply into result,
	// which may be nil when the reply is not needed. Failures are *EvaluationError.
	Evaluate(ctx context.Context, page PageHandle, script Script, result any, args ...any) error
	// ReleasePage tears down an owned handle. It is a no-op for pooled handles.
	ReleasePage(ctx context.Context, page PageHandle) error
}
