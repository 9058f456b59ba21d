package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// DefaultSearches is the plan size used when none is configured.
const DefaultSearches = 3

// Planner proposes web searches for a query.
type Planner struct {
	provider llm.Provider
	opts     ModelOptions
	n        int
}

func NewPlanner(provider llm.Provider, opts ModelOptions, n int) *Planner {
	if n <= 0 {
		n = DefaultSearches
	}
	return &Planner{provider: provider, opts: opts, n: n}
}

func (p *Planner) instructions() string {
	return fmt.Sprintf(`You are a helpful research assistant. Given a query, produce exactly %d web search items that, together, best answer the query.
Return JSON of the form {"searches": [{"reason": "why this search helps answer the query", "query": "the exact search term to run"}]}.`, p.n)
}

// Invoke returns the plan as produced by the model, minus empty items. The
// caller decides what to do with a plan of the wrong size.
func (p *Planner) Invoke(ctx context.Context, query string) ([]SearchPlanItem, error) {
	type plan struct {
		Searches []SearchPlanItem `json:"searches"`
	}
	out, err := llm.Generate[plan](ctx, p.provider, "planner", p.opts.request(p.instructions(), "QUERY: "+query), planSchema, p.opts.Attempts)
	if err != nil {
		return nil, err
	}
	items := make([]SearchPlanItem, 0, len(out.Searches))
	for _, it := range out.Searches {
		it.Query = strings.TrimSpace(it.Query)
		it.Reason = strings.TrimSpace(it.Reason)
		if it.Query == "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
