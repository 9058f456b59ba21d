package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

const clarifyInstructions = `You are a clarifier. Given a user query, ask exactly three concrete clarifying questions that would materially improve the quality of research and the final report.
Avoid meta-questions; focus on scope, constraints, target audience, timeframe, and success criteria.
Return JSON with the fields q1, q2 and q3 only.`

// Clarifier asks the model for three clarifying questions about a query.
type Clarifier struct {
	provider llm.Provider
	opts     ModelOptions
}

func NewClarifier(provider llm.Provider, opts ModelOptions) *Clarifier {
	return &Clarifier{provider: provider, opts: opts}
}

func (c *Clarifier) Invoke(ctx context.Context, query string) (Questions, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Questions{}, errors.New("clarify: empty query")
	}
	q, err := llm.Generate[Questions](ctx, c.provider, "clarifier", c.opts.request(clarifyInstructions, query), clarifySchema, c.opts.Attempts)
	if err != nil {
		return Questions{}, err
	}
	q.Q1, q.Q2, q.Q3 = strings.TrimSpace(q.Q1), strings.TrimSpace(q.Q2), strings.TrimSpace(q.Q3)
	for i, text := range q.List() {
		if text == "" {
			return Questions{}, &llm.OutputError{Capability: "clarifier", Err: fmt.Errorf("question %d is empty", i+1)}
		}
	}
	return q, nil
}
