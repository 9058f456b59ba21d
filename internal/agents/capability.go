// Package agents holds the model-backed capabilities the research manager
// sequences: clarifying, planning, searching and writing.
package agents

import (
	"context"
	_ "embed"

	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

// Capability is one structured operation with a typed input and output.
type Capability[In, Out any] interface {
	Invoke(ctx context.Context, in In) (Out, error)
}

// Func adapts a function to Capability.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f Func[In, Out]) Invoke(ctx context.Context, in In) (Out, error) { return f(ctx, in) }

// ModelOptions selects the model and sampling for a capability.
type ModelOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Attempts bounds re-asking the model after malformed output.
	Attempts int
}

func (o ModelOptions) request(system, prompt string) llm.Request {
	return llm.Request{
		Model:       o.Model,
		System:      system,
		Prompt:      prompt,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
	}
}

var (
	//go:embed schemas/clarify.json
	clarifySchemaJSON string
	//go:embed schemas/plan.json
	planSchemaJSON string
	//go:embed schemas/search.json
	searchSchemaJSON string
	//go:embed schemas/report.json
	reportSchemaJSON string
)

var (
	clarifySchema = llm.MustCompileSchema("clarify.json", clarifySchemaJSON)
	planSchema    = llm.MustCompileSchema("plan.json", planSchemaJSON)
	searchSchema  = llm.MustCompileSchema("search.json", searchSchemaJSON)
	reportSchema  = llm.MustCompileSchema("report.json", reportSchemaJSON)
)
