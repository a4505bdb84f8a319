// Package browser implements the rendered-page capability with headless
// Chrome via chromedp.
//
// The Renderer here backs resolve.Renderer: given a URL it returns the
// fully rendered HTML as an owned string, so callers never hold a live
// browser handle across their own asynchronous work.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// Renderer renders pages with a headless Chrome instance.
//
// Browser launches are serialized: concurrent Chromium instances fight
// over the profile SingletonLock, so at most one render runs at a time.
type Renderer struct {
	launches *semaphore.Weighted

	// settleDelay is how long to wait after navigation for scripts to
	// populate the DOM.
	settleDelay time.Duration
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		launches:    semaphore.NewWeighted(1),
		settleDelay: 3 * time.Second,
	}
}

// Render navigates to url in a fresh headless browser and returns the
// rendered document HTML. The context bounds the whole operation,
// including waiting for the launch slot.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	if err := r.launches.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.launches.Release(1)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(r.settleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", url, err)
	}

	return html, nil
}
