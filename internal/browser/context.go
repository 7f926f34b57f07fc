// internal/browser/context.go
package browser

import "context"

// CombineContext derives a context from primary that is also cancelled when
// secondary is. Values come from primary, so chromedp actions run on the
// result still find their target.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
