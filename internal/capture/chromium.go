package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"epd7in3f/internal/epd"
)

// Default capture parameters.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultSelector = "body"
	DefaultSettle   = 500 * time.Millisecond
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:3000/dashboard".
	URL string

	// Width and Height are the viewport dimensions in pixels. If zero, the
	// panel size is used.
	Width  int
	Height int

	// WaitSelector must be visible before the screenshot is taken. Pages
	// that load data asynchronously can expose e.g. `[data-ready="true"]`.
	WaitSelector string

	// Settle is an extra delay after WaitSelector appears, for final paints.
	Settle time.Duration

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = epd.Width
	}
	if o.Height <= 0 {
		o.Height = epd.Height
	}
	if o.WaitSelector == "" {
		o.WaitSelector = DefaultSelector
	}
	if o.Settle == 0 {
		o.Settle = DefaultSettle
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// CapturePNG renders opts.URL in headless Chromium via chromedp and returns
// a full-colour PNG screenshot. Conversion to panel colours is left to the
// caller.
func CapturePNG(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}
