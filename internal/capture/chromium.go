// Package capture renders the day timeline page to PNG in headless Chromium.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"dayplanner/internal/fsutil"
	"dayplanner/internal/model"
)

// Default capture parameters; a logical day at 80px/hour is 1920px tall.
const (
	DefaultWidth      = 480
	DefaultHeight     = 1920
	DefaultTimeoutSec = 30
)

// Options defines parameters for a day snapshot.
type Options struct {
	// BaseURL is the planner's HTTP root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Date selects the day; zero means the server's today.
	Date model.Date

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Username and Password are sent as HTTP basic auth when set.
	Username string
	Password string

	// Timeout bounds the entire capture operation. If zero,
	// DefaultTimeoutSec is used.
	Timeout time.Duration
}

// DayURL is the page DayPNG navigates to.
func (o Options) DayURL() (string, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("capture: invalid base URL %q", o.BaseURL)
	}
	u.Path = "/day"
	if !o.Date.IsZero() {
		u.RawQuery = url.Values{"date": {o.Date.String()}}.Encode()
	}
	return u.String(), nil
}

// DayPNG navigates to the /day page, waits until it signals
// data-ready="true" and returns a full-page PNG screenshot.
func DayPNG(parentCtx context.Context, opts Options) ([]byte, error) {
	target, err := opts.DayURL()
	if err != nil {
		return nil, err
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + cred}),
		)
	}
	tasks = append(tasks,
		chromedp.Navigate(target),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return png, nil
}

// WriteDayPNG captures the day page to path.
func WriteDayPNG(ctx context.Context, opts Options, path string) error {
	png, err := DayPNG(ctx, opts)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}
