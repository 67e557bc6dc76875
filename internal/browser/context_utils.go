// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext derives a context from tabCtx that is also canceled when
// opCtx is done. tabCtx carries the chromedp target, opCtx carries the
// step deadline; chromedp actions need the values of the first and the
// cancellation of both.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
