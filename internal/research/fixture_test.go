package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/email"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/render"
)

// fixture wires scripted capabilities and records every call in order.
type fixture struct {
	mu    sync.Mutex
	calls []string

	inputVerdict  guardrail.Verdict
	outputVerdict guardrail.Verdict
	gateErr       error
	policy        guardrail.Policy

	questions  agents.Questions
	clarifyErr error
	planSize   int
	searchWait func(i int) time.Duration
	searchErr  error
	reports    []string
	writes     []agents.WriteInput
	emailRes   email.Result
	emailed    []string
}

func newFixture() *fixture {
	return &fixture{
		inputVerdict:  guardrail.Verdict{OK: true},
		outputVerdict: guardrail.Verdict{OK: true},
		policy:        guardrail.DefaultPolicy(),
		questions:     agents.Questions{Q1: "Which region?", Q2: "Which time frame?", Q3: "What depth?"},
		planSize:      3,
		reports:       []string{"# Findings\n\nSolar output grew in every region we examined [1]."},
		emailRes:      email.Result{Status: email.StatusSent},
	}
}

func (f *fixture) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fixture) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fixture) count(prefix string) int {
	n := 0
	for _, c := range f.callLog() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fixture) deps() Deps {
	eval := guardrail.EvaluatorFunc(func(ctx context.Context, stage guardrail.Stage, text string) (guardrail.Verdict, error) {
		f.record("guardrail:" + string(stage))
		if f.gateErr != nil {
			return guardrail.Verdict{}, f.gateErr
		}
		if stage == guardrail.StageOutput {
			return f.outputVerdict, nil
		}
		return f.inputVerdict, nil
	})
	return Deps{
		Gate: guardrail.NewGate(eval, f.policy),
		Clarifier: agents.Func[string, agents.Questions](func(ctx context.Context, q string) (agents.Questions, error) {
			f.record("clarify")
			if f.clarifyErr != nil {
				return agents.Questions{}, f.clarifyErr
			}
			return f.questions, nil
		}),
		Planner: agents.Func[string, []agents.SearchPlanItem](func(ctx context.Context, q string) ([]agents.SearchPlanItem, error) {
			f.record("plan")
			items := make([]agents.SearchPlanItem, f.planSize)
			for i := range items {
				items[i] = agents.SearchPlanItem{Reason: fmt.Sprintf("angle %d", i+1), Query: fmt.Sprintf("q%d", i+1)}
			}
			return items, nil
		}),
		Searcher: agents.Func[string, agents.SearchResult](func(ctx context.Context, q string) (agents.SearchResult, error) {
			f.record("search:" + q)
			if f.searchWait != nil {
				var i int
				fmt.Sscanf(q, "q%d", &i)
				select {
				case <-time.After(f.searchWait(i)):
				case <-ctx.Done():
					return agents.SearchResult{}, ctx.Err()
				}
			}
			if f.searchErr != nil {
				return agents.SearchResult{}, f.searchErr
			}
			return agents.SearchResult{
				Query:   q,
				Summary: "summary of " + q,
				Sources: []string{"https://a.example/" + q, "https://b.example/" + q},
			}, nil
		}),
		Writer: agents.Func[agents.WriteInput, agents.ReportDraft](func(ctx context.Context, in agents.WriteInput) (agents.ReportDraft, error) {
			f.mu.Lock()
			f.calls = append(f.calls, "write")
			f.writes = append(f.writes, in)
			idx := len(f.writes) - 1
			if idx >= len(f.reports) {
				idx = len(f.reports) - 1
			}
			report := f.reports[idx]
			f.mu.Unlock()
			return agents.ReportDraft{ShortSummary: "short", MarkdownReport: report, FollowUpQuestions: []string{"next?"}}, nil
		}),
		Converter: render.Converter{},
		Emailer: email.SenderFunc(func(ctx context.Context, to, subject, html string) email.Result {
			f.record("email:" + to)
			f.mu.Lock()
			f.emailed = append(f.emailed, subject)
			f.mu.Unlock()
			return f.emailRes
		}),
	}
}

func (f *fixture) manager(cfg PipelineConfig) *Manager {
	m, err := NewManager(f.deps(), cfg, log.New(io.Discard, "", 0))
	if err != nil {
		panic(err)
	}
	return m
}

// recordingBus captures published narration.
type recordingBus struct {
	mu       sync.Mutex
	messages []string
}

func (b *recordingBus) Publish(_ context.Context, message string) error {
	b.mu.Lock()
	b.messages = append(b.messages, message)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

func (b *recordingBus) contains(sub string) bool {
	for _, m := range b.all() {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
