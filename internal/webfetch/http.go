package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "deepresearch/1.0 (+https://github.com/mohammad-safakhou/deepresearch)"

// HTTPFetcher downloads pages with a plain HTTP client.
type HTTPFetcher struct {
	client   *http.Client
	maxChars int
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxChars int) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxChars: maxChars,
		maxBytes: 4 << 20,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if err := validURL(url); err != nil {
		return Page{}, err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{URL: url, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", url, err)
	}
	return extract(url, string(body), resp.StatusCode, f.maxChars)
}
