package webfetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeFetcher renders pages in headless Chrome before extraction, for sites
// that build their content with JavaScript.
type ChromeFetcher struct {
	Timeout  time.Duration
	MaxChars int
}

func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if err := validURL(url); err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	html, err := renderHTML(ctx, url)
	if err != nil {
		return Page{URL: url, Status: 599}, fmt.Errorf("render %s: %w", url, err)
	}
	return extract(url, html, 200, f.MaxChars)
}

func renderHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
