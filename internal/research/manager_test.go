package research

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/email"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewManagerRequiresDeps(t *testing.T) {
	t.Parallel()
	deps := newFixture().deps()
	deps.Writer = nil
	if _, err := NewManager(deps, PipelineConfig{}, nil); err == nil {
		t.Fatalf("expected error for missing writer")
	}
}

func TestManagerHappyPath(t *testing.T) {
	t.Parallel()
	f := newFixture()
	m := f.manager(PipelineConfig{})
	bus := &recordingBus{}
	st := NewRunState("run-1", Request{Query: "Solar adoption in 2024", RecipientEmail: "a@b.com"})

	html, err := m.Run(context.Background(), st, bus)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(html, "<h1") || !strings.Contains(html, "Findings") {
		t.Fatalf("unexpected html: %s", html)
	}
	want := []string{"guardrail:input", "clarify", "plan", "search:q1", "search:q2", "search:q3", "write", "email:a@b.com"}
	got := f.callLog()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if st.Email == nil || st.Email.Status != email.StatusSent {
		t.Fatalf("expected sent email result, got %+v", st.Email)
	}
	if f.emailed[0] != "Research Report: Solar adoption in 2024" {
		t.Fatalf("subject = %q", f.emailed[0])
	}
	msgs := bus.all()
	if msgs[0] != "Checking input guardrails" || msgs[len(msgs)-1] != "Done" {
		t.Fatalf("unexpected narration bounds: %v", msgs)
	}
	if !bus.contains("Clarifying questions:\n1) Which region?") {
		t.Fatalf("generated questions not narrated: %v", msgs)
	}
}

func TestManagerAbortsOnHardFlag(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.inputVerdict = guardrail.Verdict{OK: false, Flags: []string{"pii", "vague"}, Brief: "Contains a phone number."}
	m := f.manager(PipelineConfig{})

	_, err := m.Run(context.Background(), NewRunState("run", Request{Query: "find 555-1234"}), &recordingBus{})
	var trip *guardrail.TripwireError
	if !errors.As(err, &trip) {
		t.Fatalf("expected tripwire, got %v", err)
	}
	if trip.Soft {
		t.Fatalf("hard flag must not be soft")
	}
	if got := f.callLog(); len(got) != 1 || got[0] != "guardrail:input" {
		t.Fatalf("nothing may run after an input block, calls = %v", got)
	}
}

func TestManagerVagueContinuesByDefault(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.inputVerdict = guardrail.Verdict{OK: false, Flags: []string{"vague"}, Brief: "Too broad."}
	m := f.manager(PipelineConfig{})
	bus := &recordingBus{}

	if _, err := m.Run(context.Background(), NewRunState("run", Request{Query: "stuff", SkipClarifications: true}), bus); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bus.contains("vague") {
		t.Fatalf("expected vague narration: %v", bus.all())
	}
	if f.count("clarify") != 0 {
		t.Fatalf("clarifier must not run when skipped")
	}
}

func TestManagerVagueBlocksWhenPolicySaysSo(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.policy.BlockOnVague = true
	f.inputVerdict = guardrail.Verdict{OK: false, Flags: []string{"vague"}, Brief: "Too broad."}
	m := f.manager(PipelineConfig{})

	_, err := m.Run(context.Background(), NewRunState("run", Request{Query: "stuff"}), &recordingBus{})
	var trip *guardrail.TripwireError
	if !errors.As(err, &trip) || !trip.Soft {
		t.Fatalf("expected soft tripwire, got %v", err)
	}
}

func TestManagerEvaluatorErrorIsStepError(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.gateErr = errBoom
	m := f.manager(PipelineConfig{})

	_, err := m.Run(context.Background(), NewRunState("run", Request{Query: "x"}), &recordingBus{})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepInputGuardrail {
		t.Fatalf("expected input_guardrail step error, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestManagerUsesProvidedClarifications(t *testing.T) {
	t.Parallel()
	f := newFixture()
	m := f.manager(PipelineConfig{})
	req := Request{Query: "EV batteries", Clarifications: []Clarification{{Question: "Region?", Answer: "EU"}}}

	if _, err := m.Run(context.Background(), NewRunState("run", req), &recordingBus{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.count("clarify") != 0 {
		t.Fatalf("clarifier must not run when clarifications are provided")
	}
	if !strings.Contains(f.writes[0].Clarifications, "A1: EU") {
		t.Fatalf("writer did not see clarifications: %q", f.writes[0].Clarifications)
	}
}

func TestManagerPlanTruncatedAndTooShort(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.planSize = 5
	m := f.manager(PipelineConfig{NumSearches: 3})
	if _, err := m.Run(context.Background(), NewRunState("run", Request{Query: "x", SkipClarifications: true}), &recordingBus{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n := f.count("search:"); n != 3 {
		t.Fatalf("searches = %d, want 3", n)
	}

	short := newFixture()
	short.planSize = 2
	_, err := short.manager(PipelineConfig{NumSearches: 3}).Run(context.Background(), NewRunState("run", Request{Query: "x", SkipClarifications: true}), &recordingBus{})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepPlan {
		t.Fatalf("expected plan step error, got %v", err)
	}
	if short.count("search:") != 0 {
		t.Fatalf("no search may run after a short plan")
	}
}

func TestManagerParallelSearchesKeepPlanOrder(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.searchWait = func(i int) time.Duration { return time.Duration(4-i) * 20 * time.Millisecond }
	m := f.manager(PipelineConfig{ParallelSearches: true})
	st := NewRunState("run", Request{Query: "x", SkipClarifications: true})

	if _, err := m.Run(context.Background(), st, &recordingBus{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, res := range st.Results {
		if want := "q" + string(rune('1'+i)); res.Query != want {
			t.Fatalf("result %d = %q, want %q", i, res.Query, want)
		}
	}
	if idx := strings.Index(st.Notes, "Search 1: q1"); idx != 0 {
		t.Fatalf("notes must start with the first planned search: %q", st.Notes)
	}
	if !strings.Contains(st.Notes, "[6] https://b.example/q3") {
		t.Fatalf("citations not numbered across results: %q", st.Notes)
	}
}

func TestManagerSearchFailureStops(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.searchErr = errBoom
	_, err := f.manager(PipelineConfig{}).Run(context.Background(), NewRunState("run", Request{Query: "x", SkipClarifications: true}), &recordingBus{})
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepSearch {
		t.Fatalf("expected search step error, got %v", err)
	}
	if f.count("write") != 0 {
		t.Fatalf("writer must not run after a failed search")
	}
}

func TestManagerRevisesShortReports(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.reports = []string{"too short", strings.Repeat("word ", 40)}
	m := f.manager(PipelineConfig{MinReportWords: 30, WriteAttempts: 3})
	st := NewRunState("run", Request{Query: "x", SkipClarifications: true})

	if _, err := m.Run(context.Background(), st, &recordingBus{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(f.writes))
	}
	if f.writes[0].Guidance != "" || f.writes[1].Guidance == "" {
		t.Fatalf("guidance only on revisions: %+v", f.writes)
	}
}

func TestManagerOutputGuardrail(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.outputVerdict = guardrail.Verdict{OK: false, Flags: []string{"speculative"}, Brief: "Unsupported claims."}
	m := f.manager(PipelineConfig{OutputGuardrail: true})
	st := NewRunState("run", Request{Query: "x", RecipientEmail: "a@b.com", SkipClarifications: true})

	_, err := m.Run(context.Background(), st, &recordingBus{})
	var trip *guardrail.TripwireError
	if !errors.As(err, &trip) || trip.Stage != guardrail.StageOutput {
		t.Fatalf("expected output tripwire, got %v", err)
	}
	if st.HTML != "" || f.count("email:") != 0 {
		t.Fatalf("blocked output must not be converted or emailed")
	}

	off := newFixture()
	off.outputVerdict = f.outputVerdict
	if _, err := off.manager(PipelineConfig{}).Run(context.Background(), NewRunState("run", Request{Query: "x", SkipClarifications: true}), &recordingBus{}); err != nil {
		t.Fatalf("output guardrail is off by default: %v", err)
	}
	if off.count("guardrail:output") != 0 {
		t.Fatalf("output guardrail ran while disabled")
	}
}

func TestManagerEmailFailureKeepsReport(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.emailRes = email.Result{Status: email.StatusError, Reason: "HTTP 401"}
	bus := &recordingBus{}
	st := NewRunState("run", Request{Query: "x", RecipientEmail: "a@b.com", SkipClarifications: true})

	html, err := f.manager(PipelineConfig{}).Run(context.Background(), st, bus)
	if err != nil {
		t.Fatalf("email failure must not fail the run: %v", err)
	}
	if html == "" || !bus.contains("Email failed: HTTP 401") {
		t.Fatalf("expected html and failure narration, got %v", bus.all())
	}
}

func TestManagerNoRecipientSkipsEmail(t *testing.T) {
	t.Parallel()
	f := newFixture()
	bus := &recordingBus{}
	if _, err := f.manager(PipelineConfig{}).Run(context.Background(), NewRunState("run", Request{Query: "x", SkipClarifications: true}), bus); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.count("email:") != 0 || !bus.contains("No recipient email") {
		t.Fatalf("email should be skipped without a recipient")
	}
}

func TestManagerSubjectTruncatesQuery(t *testing.T) {
	t.Parallel()
	m := newFixture().manager(PipelineConfig{})
	q := strings.Repeat("é", 100)
	if got := m.Subject(q); got != "Research Report: "+strings.Repeat("é", 80) {
		t.Fatalf("subject = %q", got)
	}
}

func TestAggregateNotesEmpty(t *testing.T) {
	t.Parallel()
	if got := AggregateNotes(nil, nil); got != "" {
		t.Fatalf("expected empty notes, got %q", got)
	}
	notes := AggregateNotes([]agents.SearchPlanItem{{Reason: "why", Query: "q"}}, []agents.SearchResult{{Query: "q", Summary: "s", Sources: []string{"https://x.example"}}})
	if notes != "Search 1: q\nReason: why\nSummary: s\nSources:\n[1] https://x.example" {
		t.Fatalf("notes = %q", notes)
	}
}

func TestManagerTracesEveryStep(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	m := newFixture().manager(PipelineConfig{})
	m.tracer = tp.Tracer("test")
	if _, err := m.Run(context.Background(), NewRunState("run-1", Request{Query: "Solar", SkipClarifications: true}), &recordingBus{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	seen := map[string]bool{}
	for _, s := range sr.Ended() {
		seen[s.Name()] = true
	}
	for _, step := range []Step{StepInputGuardrail, StepPlan, StepSearch, StepAggregate, StepWrite, StepConvert} {
		if !seen["research."+string(step)] {
			t.Fatalf("no span for step %s; got %v", step, seen)
		}
	}
}
