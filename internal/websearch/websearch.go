package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result is one organic hit, in provider ranking order.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher discovers pages for a query.
type Searcher interface {
	Discover(ctx context.Context, q string, k int) ([]Result, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, q string, k int) ([]Result, error)

func (f SearcherFunc) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	return f(ctx, q, k)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// New builds the searcher for provider.
func New(provider Provider, apiKey string, timeout time.Duration) (Searcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: api key not configured", provider)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	switch provider {
	case SerperProvider:
		return &Serper{APIKey: apiKey, Client: client}, nil
	case BraveProvider:
		return &Brave{APIKey: apiKey, Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("search provider status %d: %s", resp.StatusCode, string(b))
}
