package webfetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// Page is the readable content extracted from a fetched URL.
type Page struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Status int    `json:"status"`
}

// Fetcher retrieves and extracts a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

type Type string

const (
	HTTPType     Type = "http"
	ChromedpType Type = "chromedp"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

// New builds a fetcher. Zero timeout and maxChars take defaults.
func New(t Type, timeout time.Duration, maxChars int) (Fetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	switch t {
	case HTTPType, "":
		return NewHTTPFetcher(timeout, maxChars), nil
	case ChromedpType:
		return &ChromeFetcher{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFetcher, t)
	}
}

// extract prefers readability's article text and falls back to the visible
// block text of the document when readability finds nothing.
func extract(rawURL, html string, status, maxChars int) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, fmt.Errorf("parse url: %w", err)
	}
	page := Page{URL: rawURL, Status: status}
	article, rerr := readability.FromReader(strings.NewReader(html), u)
	if rerr == nil {
		page.Title = strings.TrimSpace(article.Title)
		page.Text = strings.TrimSpace(article.TextContent)
	}
	if page.Text == "" {
		title, text, err := blockText(html)
		if err != nil {
			if rerr != nil {
				return Page{}, fmt.Errorf("readability: %w", rerr)
			}
			return Page{}, err
		}
		if page.Title == "" {
			page.Title = title
		}
		page.Text = text
	}
	if page.Text == "" {
		return Page{}, fmt.Errorf("no readable text at %s", rawURL)
	}
	page.Text = helpers.TruncateRunes(page.Text, maxChars)
	return page, nil
}

func blockText(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	var parts []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		if t := strings.Join(strings.Fields(doc.Find("body").Text()), " "); t != "" {
			parts = append(parts, t)
		}
	}
	return title, strings.Join(parts, "\n"), nil
}

func validURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("invalid url")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("invalid url %q", raw)
	}
	return nil
}
