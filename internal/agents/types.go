package agents

import "strings"

// Questions are exactly three clarifying questions.
type Questions struct {
	Q1 string `json:"q1"`
	Q2 string `json:"q2"`
	Q3 string `json:"q3"`
}

// List returns the questions in order.
func (q Questions) List() []string { return []string{q.Q1, q.Q2, q.Q3} }

// SearchPlanItem is one planned web search.
type SearchPlanItem struct {
	Reason string `json:"reason"`
	Query  string `json:"query"`
}

// SearchResult is the synthesis of one search.
type SearchResult struct {
	Query   string   `json:"query"`
	Summary string   `json:"summary"`
	Sources []string `json:"sources"`
}

// WriteInput is everything the writer sees.
type WriteInput struct {
	Query          string
	Clarifications string
	Notes          string
	// Guidance is extra direction for a revision, empty on the first draft.
	Guidance       string
}

// ReportDraft is the writer's output.
type ReportDraft struct {
	ShortSummary      string   `json:"short_summary"`
	MarkdownReport    string   `json:"markdown_report"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Clarifier, Planner, Searcher and Writer signatures as seen by the manager.
type (
	ClarifyCapability = Capability[string, Questions]
	PlanCapability    = Capability[string, []SearchPlanItem]
	SearchCapability  = Capability[string, SearchResult]
	WriteCapability   = Capability[WriteInput, ReportDraft]
)

func trimAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
