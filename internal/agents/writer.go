package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

const writeInstructions = `You are a senior researcher tasked with writing a cohesive report for a research query.
You will be provided with the original query, the user's clarifications and summarized research notes.
First, outline the structure and flow. Then generate the full report in markdown.
The report must be detailed (1000+ words; roughly 5-10 pages), well-structured, and readable, with these sections:
Executive Summary, Key Findings (with [#] citations referring to the numbered sources in the notes), Assumptions & Limitations, Open Questions, Next Steps.
Return JSON with the fields short_summary (2-3 sentences), markdown_report and follow_up_questions (array of topics to research further).`

// Writer turns research notes into a report draft.
type Writer struct {
	provider llm.Provider
	opts     ModelOptions
}

func NewWriter(provider llm.Provider, opts ModelOptions) *Writer {
	return &Writer{provider: provider, opts: opts}
}

func (w *Writer) Invoke(ctx context.Context, in WriteInput) (ReportDraft, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\n", in.Query)
	if in.Clarifications != "" {
		fmt.Fprintf(&b, "%s\n\n", in.Clarifications)
	}
	fmt.Fprintf(&b, "Summarized research notes:\n%s", in.Notes)
	if in.Guidance != "" {
		fmt.Fprintf(&b, "\n\nRevision guidance: %s", in.Guidance)
	}

	draft, err := llm.Generate[ReportDraft](ctx, w.provider, "writer", w.opts.request(writeInstructions, b.String()), reportSchema, w.opts.Attempts)
	if err != nil {
		return ReportDraft{}, err
	}
	draft.ShortSummary = strings.TrimSpace(draft.ShortSummary)
	draft.FollowUpQuestions = trimAll(draft.FollowUpQuestions)
	return draft, nil
}
