package browser

import "context"

// CombineContext returns a context derived from pageCtx that is also canceled when opCtx is.
// Values, and therefore the chromedp target, come from pageCtx; opCtx carries the
// operation's deadline and the caller's cancellation.
func CombineContext(pageCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(pageCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return combinedCtx, func() {
		stop()
		cancel()
	}
}

// Detach returns a context that inherits values from ctx but is never canceled by it.
// Release paths use it so a canceled request still tears its page down.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
