package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/webfetch"
	"github.com/mohammad-safakhou/deepresearch/internal/websearch"
)

const (
	MaxSummaryWords = 300
	MinSources      = 2
	MaxSources      = 5
)

const searchInstructions = `You are a research assistant. Given a search term and the web results found for it, produce JSON with (1) a <=300-word synthesis in "summary", and (2) 2-5 canonical source URLs in "sources", most relevant first, chosen from the results.
Prefer primary/official docs and high-quality outlets; dedupe mirrors.
Return only the JSON fields.`

// SearcherOptions tunes a Searcher.
type SearcherOptions struct {
	Model      ModelOptions
	MaxResults int
	// FetchPages is how many top results get their full text extracted.
	FetchPages int
	CacheSize  int
	CacheTTL   time.Duration
	Logger     *log.Logger
}

type cacheEntry struct {
	result   SearchResult
	storedAt time.Time
}

// Searcher runs a web search, optionally reads the top pages, and asks the
// model to summarize what it found.
type Searcher struct {
	web      websearch.Searcher
	fetcher  webfetch.Fetcher
	provider llm.Provider
	opts     SearcherOptions
	cache    *lru.Cache[string, cacheEntry]
	logger   *log.Logger
	now      func() time.Time
}

// NewSearcher wires a Searcher. fetcher may be nil to skip page extraction.
func NewSearcher(web websearch.Searcher, fetcher webfetch.Fetcher, provider llm.Provider, opts SearcherOptions) *Searcher {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 8
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	s := &Searcher{web: web, fetcher: fetcher, provider: provider, opts: opts, logger: logger, now: time.Now}
	if opts.CacheSize > 0 {
		if c, err := lru.New[string, cacheEntry](opts.CacheSize); err == nil {
			s.cache = c
		}
	}
	return s
}

func cacheKey(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func (s *Searcher) Invoke(ctx context.Context, query string) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, errors.New("search: empty query")
	}
	key := cacheKey(query)
	if s.cache != nil {
		if entry, ok := s.cache.Get(key); ok {
			if s.now().Sub(entry.storedAt) < s.opts.CacheTTL {
				return entry.result, nil
			}
			s.cache.Remove(key)
		}
	}

	hits, err := s.web.Discover(ctx, query, s.opts.MaxResults)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %q: %w", query, err)
	}
	if len(hits) == 0 {
		return SearchResult{}, fmt.Errorf("search %q: no results", query)
	}

	pages := s.readPages(ctx, hits)
	type summary struct {
		Summary string   `json:"summary"`
		Sources []string `json:"sources"`
	}
	out, err := llm.Generate[summary](ctx, s.provider, "searcher", s.opts.Model.request(searchInstructions, buildSearchPrompt(query, hits, pages)), searchSchema, s.opts.Model.Attempts)
	if err != nil {
		return SearchResult{}, err
	}

	result := SearchResult{
		Query:   query,
		Summary: helpers.TruncateWords(out.Summary, MaxSummaryWords),
		Sources: selectSources(out.Sources, hits),
	}
	if len(result.Sources) < MinSources {
		return SearchResult{}, fmt.Errorf("search %q: only %d usable sources", query, len(result.Sources))
	}
	if s.cache != nil {
		s.cache.Add(key, cacheEntry{result: result, storedAt: s.now()})
	}
	return result, nil
}

// readPages extracts the top results. Failures are logged and skipped; the
// snippets still reach the model.
func (s *Searcher) readPages(ctx context.Context, hits []websearch.Result) map[string]string {
	if s.fetcher == nil || s.opts.FetchPages <= 0 {
		return nil
	}
	pages := make(map[string]string)
	for i, h := range hits {
		if i >= s.opts.FetchPages {
			break
		}
		page, err := s.fetcher.Fetch(ctx, h.URL)
		if err != nil {
			if ctx.Err() != nil {
				return pages
			}
			s.logger.Printf("fetch %s: %v", h.URL, err)
			continue
		}
		if page.Text != "" {
			pages[h.URL] = page.Text
		}
	}
	return pages
}

func buildSearchPrompt(query string, hits []websearch.Result, pages map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search term: %s\n\nResults:\n", query)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   %s\n", i+1, helpers.PlainText(h.Title), h.URL, helpers.PlainText(h.Snippet))
		if text, ok := pages[h.URL]; ok {
			fmt.Fprintf(&b, "   Page text: %s\n", text)
		}
	}
	return b.String()
}

// selectSources keeps the model's ranking, canonicalised and deduped, capped
// at MaxSources. When the model names fewer than MinSources usable URLs the
// list is topped up from the search ranking.
func selectSources(fromModel []string, hits []websearch.Result) []string {
	sources := helpers.DedupeURLs(fromModel, MaxSources)
	if len(sources) >= MinSources {
		return sources
	}
	all := append([]string(nil), sources...)
	for _, h := range hits {
		all = append(all, h.URL)
	}
	return helpers.DedupeURLs(all, MaxSources)
}
