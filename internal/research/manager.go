package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/email"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/status"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Gatekeeper checks text against the guardrail policy.
type Gatekeeper interface {
	Check(ctx context.Context, stage guardrail.Stage, text string) (guardrail.Verdict, error)
}

// Converter renders markdown to an HTML document.
type Converter interface {
	Convert(markdown, title string) (string, error)
}

// Deps are the capabilities the manager sequences.
type Deps struct {
	Gate      Gatekeeper
	Clarifier agents.ClarifyCapability
	Planner   agents.PlanCapability
	Searcher  agents.SearchCapability
	Writer    agents.WriteCapability
	Converter Converter
	Emailer   email.Sender
}

func (d Deps) validate() error {
	switch {
	case d.Gate == nil:
		return errors.New("guardrail gate is required")
	case d.Clarifier == nil:
		return errors.New("clarifier is required")
	case d.Planner == nil:
		return errors.New("planner is required")
	case d.Searcher == nil:
		return errors.New("searcher is required")
	case d.Writer == nil:
		return errors.New("writer is required")
	case d.Converter == nil:
		return errors.New("converter is required")
	case d.Emailer == nil:
		return errors.New("emailer is required")
	}
	return nil
}

// PipelineConfig tunes the manager.
type PipelineConfig struct {
	NumSearches      int
	ParallelSearches bool
	MaxParallel      int
	MinReportWords   int
	WriteAttempts    int
	OutputGuardrail  bool
	ReportTitle      string
	SubjectPrefix    string
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.NumSearches <= 0 {
		c.NumSearches = agents.DefaultSearches
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = c.NumSearches
	}
	if c.MinReportWords < 0 {
		c.MinReportWords = 0
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = 1
	}
	if strings.TrimSpace(c.ReportTitle) == "" {
		c.ReportTitle = "Research Report"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "Research Report: "
	}
	return c
}

const subjectQueryRunes = 80

// Manager runs the research pipeline for one RunState at a time per call:
// input guardrail, clarify, plan, search, aggregate, write, optional output
// guardrail, convert, email. Each transition is narrated before the next
// step starts.
type Manager struct {
	deps   Deps
	cfg    PipelineConfig
	logger *log.Logger
	tracer trace.Tracer
}

func NewManager(deps Deps, cfg PipelineConfig, logger *log.Logger) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[MANAGER] ", log.LstdFlags)
	}
	return &Manager{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		tracer: otel.Tracer("deepresearch/internal/research"),
	}, nil
}

// Clarifier exposes the clarifier for out-of-band question generation.
func (m *Manager) Clarifier() agents.ClarifyCapability { return m.deps.Clarifier }

// Config returns the effective pipeline settings.
func (m *Manager) Config() PipelineConfig { return m.cfg }

// Run executes the pipeline and returns the report HTML. Guardrail aborts are
// returned as *guardrail.TripwireError and capability failures as *StepError.
func (m *Manager) Run(ctx context.Context, state *RunState, bus status.Publisher) (string, error) {
	if state == nil || strings.TrimSpace(state.Query) == "" {
		return "", ErrEmptyQuery
	}
	if bus == nil {
		bus = status.Discard
	}
	ctx, span := m.tracer.Start(ctx, "research.Run", trace.WithAttributes(attribute.String("run.id", state.RunID)))
	defer span.End()

	html, err := m.run(ctx, state, bus)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "completed")
	return html, nil
}

func (m *Manager) run(ctx context.Context, st *RunState, bus status.Publisher) (string, error) {
	if err := m.inputGuardrail(ctx, st, bus); err != nil {
		return "", err
	}
	if err := m.clarify(ctx, st, bus); err != nil {
		return "", err
	}
	if err := m.plan(ctx, st, bus); err != nil {
		return "", err
	}
	if err := m.search(ctx, st, bus); err != nil {
		return "", err
	}
	if err := m.aggregate(ctx, st, bus); err != nil {
		return "", err
	}
	if err := m.write(ctx, st, bus); err != nil {
		return "", err
	}
	if m.cfg.OutputGuardrail {
		if err := m.outputGuardrail(ctx, st, bus); err != nil {
			return "", err
		}
	}
	if err := m.convert(ctx, st, bus); err != nil {
		return "", err
	}
	m.email(ctx, st, bus)
	m.say(ctx, bus, "Done")
	return st.HTML, nil
}

func (m *Manager) say(ctx context.Context, bus status.Publisher, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if err := bus.Publish(ctx, msg); err != nil {
		m.logger.Printf("publish status: %v", err)
	}
}

// step wraps a stage in a span and a duration observation.
func (m *Manager) step(ctx context.Context, name Step, fn func(ctx context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "research."+string(name))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	telemetry.RecordStep(ctx, string(name), time.Since(start), err != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (m *Manager) fail(step Step, err error) error {
	var trip *guardrail.TripwireError
	if errors.As(err, &trip) {
		return err
	}
	m.logger.Printf("step %s: %v", step, err)
	return &StepError{Step: step, Err: err}
}

func (m *Manager) inputGuardrail(ctx context.Context, st *RunState, bus status.Publisher) error {
	m.say(ctx, bus, "Checking input guardrails")
	return m.step(ctx, StepInputGuardrail, func(ctx context.Context) error {
		v, err := m.deps.Gate.Check(ctx, guardrail.StageInput, st.Input())
		if err != nil {
			var trip *guardrail.TripwireError
			if errors.As(err, &trip) {
				telemetry.RecordGuardrailTrip(ctx, string(trip.Stage), trip.Soft)
				m.say(ctx, bus, "Input guardrail tripped (flags: %s)", trip.FlagList())
				return err
			}
			return m.fail(StepInputGuardrail, err)
		}
		if v.Has("vague") {
			m.say(ctx, bus, "Input flagged as vague (%s); proceeding with research", v.Brief)
			return nil
		}
		m.say(ctx, bus, "Input guardrail passed")
		return nil
	})
}

func (m *Manager) clarify(ctx context.Context, st *RunState, bus status.Publisher) error {
	switch {
	case st.Clarifications.Skipped():
		m.say(ctx, bus, "Clarifications skipped by user")
		return nil
	case st.Clarifications.Provided():
		m.say(ctx, bus, "Using %d user clarifications", len(st.Clarifications.Pairs()))
		return nil
	}
	m.say(ctx, bus, "Generating clarifying questions")
	return m.step(ctx, StepClarify, func(ctx context.Context) error {
		q, err := m.deps.Clarifier.Invoke(ctx, st.Query)
		if err != nil {
			return m.fail(StepClarify, err)
		}
		st.Questions = &q
		pairs := make([]Clarification, 0, 3)
		for _, question := range q.List() {
			pairs = append(pairs, Clarification{Question: question})
		}
		st.Clarifications = NewClarificationSet(pairs, false)
		m.say(ctx, bus, "Clarifying questions:\n1) %s\n2) %s\n3) %s", q.Q1, q.Q2, q.Q3)
		return nil
	})
}

func (m *Manager) plan(ctx context.Context, st *RunState, bus status.Publisher) error {
	m.say(ctx, bus, "Planning %d searches", m.cfg.NumSearches)
	return m.step(ctx, StepPlan, func(ctx context.Context) error {
		items, err := m.deps.Planner.Invoke(ctx, st.Query)
		if err != nil {
			return m.fail(StepPlan, err)
		}
		if len(items) < m.cfg.NumSearches {
			return m.fail(StepPlan, fmt.Errorf("planner returned %d searches, need %d", len(items), m.cfg.NumSearches))
		}
		st.Plan = append([]agents.SearchPlanItem(nil), items[:m.cfg.NumSearches]...)
		m.say(ctx, bus, "Planning complete")
		return nil
	})
}

func (m *Manager) search(ctx context.Context, st *RunState, bus status.Publisher) error {
	return m.step(ctx, StepSearch, func(ctx context.Context) error {
		n := len(st.Plan)
		results := make([]agents.SearchResult, n)
		if !m.cfg.ParallelSearches || n == 1 {
			for i, item := range st.Plan {
				m.say(ctx, bus, "Searching %d/%d: %s", i+1, n, item.Query)
				res, err := m.deps.Searcher.Invoke(ctx, item.Query)
				if err != nil {
					return m.fail(StepSearch, fmt.Errorf("search %d/%d: %w", i+1, n, err))
				}
				results[i] = normalizeResult(item.Query, res)
				m.say(ctx, bus, "Search %d/%d complete", i+1, n)
			}
			st.Results = results
			return nil
		}

		m.say(ctx, bus, "Running %d searches, up to %d at a time", n, m.cfg.MaxParallel)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.cfg.MaxParallel)
		for i, item := range st.Plan {
			i, item := i, item
			g.Go(func() error {
				res, err := m.deps.Searcher.Invoke(gctx, item.Query)
				if err != nil {
					return fmt.Errorf("search %d/%d: %w", i+1, n, err)
				}
				results[i] = normalizeResult(item.Query, res)
				m.say(ctx, bus, "Search %d/%d complete", i+1, n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return m.fail(StepSearch, err)
		}
		st.Results = results
		return nil
	})
}

func normalizeResult(query string, res agents.SearchResult) agents.SearchResult {
	if res.Query == "" {
		res.Query = query
	}
	res.Summary = helpers.TruncateWords(res.Summary, agents.MaxSummaryWords)
	res.Sources = helpers.DedupeURLs(res.Sources, agents.MaxSources)
	return res
}

func (m *Manager) aggregate(ctx context.Context, st *RunState, bus status.Publisher) error {
	m.say(ctx, bus, "Aggregating research notes")
	return m.step(ctx, StepAggregate, func(ctx context.Context) error {
		st.Notes = AggregateNotes(st.Plan, st.Results)
		return nil
	})
}

// AggregateNotes concatenates results in plan order. Sources are numbered
// across the whole set so the writer can cite them as [n].
func AggregateNotes(plan []agents.SearchPlanItem, results []agents.SearchResult) string {
	var b strings.Builder
	cite := 1
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Search %d: %s\n", i+1, res.Query)
		if i < len(plan) && plan[i].Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", plan[i].Reason)
		}
		fmt.Fprintf(&b, "Summary: %s\n", res.Summary)
		b.WriteString("Sources:")
		for _, src := range res.Sources {
			fmt.Fprintf(&b, "\n[%d] %s", cite, src)
			cite++
		}
	}
	return b.String()
}

func (m *Manager) write(ctx context.Context, st *RunState, bus status.Publisher) error {
	m.say(ctx, bus, "Writing report")
	return m.step(ctx, StepWrite, func(ctx context.Context) error {
		in := agents.WriteInput{Query: st.Query, Clarifications: st.Clarifications.Text(), Notes: st.Notes}
		for attempt := 1; attempt <= m.cfg.WriteAttempts; attempt++ {
			draft, err := m.deps.Writer.Invoke(ctx, in)
			if err != nil {
				return m.fail(StepWrite, err)
			}
			if strings.TrimSpace(draft.MarkdownReport) == "" {
				return m.fail(StepWrite, errors.New("writer returned an empty report"))
			}
			st.Draft = draft
			words := helpers.WordCount(draft.MarkdownReport)
			if words >= m.cfg.MinReportWords {
				m.say(ctx, bus, "Report drafted (%d words)", words)
				return nil
			}
			if attempt < m.cfg.WriteAttempts {
				m.say(ctx, bus, "Report has %d words, under the %d minimum; revising", words, m.cfg.MinReportWords)
				in.Guidance = fmt.Sprintf("The previous draft had only %d words. Expand every section so the report exceeds %d words.", words, m.cfg.MinReportWords)
				continue
			}
			m.say(ctx, bus, "Report drafted (%d words, below the %d minimum)", words, m.cfg.MinReportWords)
		}
		return nil
	})
}

func (m *Manager) outputGuardrail(ctx context.Context, st *RunState, bus status.Publisher) error {
	m.say(ctx, bus, "Checking output guardrails")
	return m.step(ctx, StepOutputGuardrail, func(ctx context.Context) error {
		_, err := m.deps.Gate.Check(ctx, guardrail.StageOutput, st.Draft.MarkdownReport)
		if err != nil {
			var trip *guardrail.TripwireError
			if errors.As(err, &trip) {
				telemetry.RecordGuardrailTrip(ctx, string(trip.Stage), trip.Soft)
				st.Draft = agents.ReportDraft{}
				m.say(ctx, bus, "Output guardrail tripped (flags: %s)", trip.FlagList())
				return err
			}
			return m.fail(StepOutputGuardrail, err)
		}
		m.say(ctx, bus, "Output guardrail passed")
		return nil
	})
}

func (m *Manager) convert(ctx context.Context, st *RunState, bus status.Publisher) error {
	m.say(ctx, bus, "Converting report to HTML")
	return m.step(ctx, StepConvert, func(ctx context.Context) error {
		html, err := m.deps.Converter.Convert(st.Draft.MarkdownReport, m.cfg.ReportTitle)
		if err != nil {
			return m.fail(StepConvert, err)
		}
		if strings.TrimSpace(html) == "" {
			return m.fail(StepConvert, errors.New("converter returned empty html"))
		}
		st.HTML = html
		m.say(ctx, bus, "HTML ready")
		return nil
	})
}

// email never fails the run.
func (m *Manager) email(ctx context.Context, st *RunState, bus status.Publisher) {
	if st.Recipient == "" {
		m.say(ctx, bus, "No recipient email; skipping email")
		return
	}
	m.say(ctx, bus, "Sending email to %s", st.Recipient)
	_ = m.step(ctx, StepEmail, func(ctx context.Context) error {
		res := m.deps.Emailer.Send(ctx, st.Recipient, m.Subject(st.Query), st.HTML)
		st.Email = &res
		telemetry.RecordEmail(ctx, res.Status)
		switch res.Status {
		case email.StatusSent:
			m.say(ctx, bus, "Email sent")
			return nil
		case email.StatusSkipped:
			m.say(ctx, bus, "Email skipped: %s", res.Reason)
			return nil
		default:
			m.logger.Printf("run %s: email failed: %s", st.RunID, res.Reason)
			m.say(ctx, bus, "Email failed: %s", res.Reason)
			return errors.New(res.Reason)
		}
	})
}

// Subject builds the email subject for query.
func (m *Manager) Subject(query string) string {
	return m.cfg.SubjectPrefix + helpers.TruncateRunes(strings.TrimSpace(query), subjectQueryRunes)
}
