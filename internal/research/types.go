package research

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/email"
)

// MaxClarifications bounds the question/answer pairs a run carries.
const MaxClarifications = 3

// Clarification is one question with an optional answer.
type Clarification struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// Request is what a caller submits to start a run.
type Request struct {
	Query              string          `json:"query"`
	RecipientEmail     string          `json:"recipient_email,omitempty"`
	Clarifications     []Clarification `json:"clarifications,omitempty"`
	SkipClarifications bool            `json:"skip_clarifications,omitempty"`
}

// ClarificationSet is the immutable clarification context of a run.
type ClarificationSet struct {
	pairs   []Clarification
	skipped bool
}

// NewClarificationSet keeps at most MaxClarifications pairs, trimmed.
func NewClarificationSet(pairs []Clarification, skipped bool) ClarificationSet {
	n := len(pairs)
	if n > MaxClarifications {
		n = MaxClarifications
	}
	out := make([]Clarification, n)
	for i := 0; i < n; i++ {
		out[i] = Clarification{
			Question: strings.TrimSpace(pairs[i].Question),
			Answer:   strings.TrimSpace(pairs[i].Answer),
		}
	}
	return ClarificationSet{pairs: out, skipped: skipped}
}

// Pairs returns a copy of the pairs.
func (c ClarificationSet) Pairs() []Clarification {
	return append([]Clarification(nil), c.pairs...)
}

// Skipped reports whether the user opted out of clarifications.
func (c ClarificationSet) Skipped() bool { return c.skipped }

// Provided reports whether any question or answer is non-empty.
func (c ClarificationSet) Provided() bool {
	for _, p := range c.pairs {
		if p.Question != "" || p.Answer != "" {
			return true
		}
	}
	return false
}

// Text renders the clarification block handed to the writer. Numbering
// follows the original position of each pair.
func (c ClarificationSet) Text() string {
	if c.skipped {
		return "USER_CLARIFICATIONS: (skipped by user)"
	}
	lines := []string{"USER_CLARIFICATIONS:"}
	for i, p := range c.pairs {
		if p.Question == "" && p.Answer == "" {
			continue
		}
		line := fmt.Sprintf("Q%d: %s", i+1, p.Question)
		if p.Answer != "" {
			line += fmt.Sprintf("\nA%d: %s", i+1, p.Answer)
		}
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return "USER_CLARIFICATIONS: (none provided)"
	}
	return strings.Join(lines, "\n")
}

// RunState is the working context of one run. The manager owns it for the
// duration of the run; nothing else writes to it.
type RunState struct {
	RunID          string
	Query          string
	Recipient      string
	Clarifications ClarificationSet
	StartedAt      time.Time

	Questions *agents.Questions
	Plan      []agents.SearchPlanItem
	Results   []agents.SearchResult
	Notes     string
	Draft     agents.ReportDraft
	HTML      string
	Email     *email.Result
}

// NewRunState builds the state for req.
func NewRunState(runID string, req Request) *RunState {
	return &RunState{
		RunID:          runID,
		Query:          strings.TrimSpace(req.Query),
		Recipient:      strings.TrimSpace(req.RecipientEmail),
		Clarifications: NewClarificationSet(req.Clarifications, req.SkipClarifications),
		StartedAt:      time.Now().UTC(),
	}
}

// Input is the framed message describing the run.
func (s *RunState) Input() string {
	recipient := s.Recipient
	if recipient == "" {
		recipient = "(none)"
	}
	return fmt.Sprintf("QUERY: %s\n%s\nRECIPIENT_EMAIL: %s", s.Query, s.Clarifications.Text(), recipient)
}

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeCompleted Outcome = "completed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeClarify   Outcome = "clarify"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Frame is one update of a streamed run. Status is the accumulated narration
// so far; HTML is empty until the final frame of a successful run.
type Frame struct {
	RunID     string   `json:"run_id"`
	Status    string   `json:"status"`
	HTML      string   `json:"html"`
	Final     bool     `json:"final"`
	Outcome   Outcome  `json:"outcome"`
	Flags     []string `json:"flags,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

// RunRecord is the persisted summary of a finished run.
type RunRecord struct {
	ID             string
	Query          string
	Recipient      string
	Outcome        Outcome
	Flags          []string
	Brief          string
	Error          string
	ShortSummary   string
	ReportMarkdown string
	ReportHTML     string
	FollowUp       []string
	Status         string
	StartedAt      time.Time
	FinishedAt     time.Time
}
