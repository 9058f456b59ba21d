package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/guardrail"
	"github.com/mohammad-safakhou/deepresearch/internal/status"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Pipeline executes one run and publishes narration to bus.
type Pipeline interface {
	Run(ctx context.Context, state *RunState, bus status.Publisher) (string, error)
}

// Recorder persists finished runs.
type Recorder interface {
	SaveRun(ctx context.Context, rec RunRecord) error
}

type Options struct {
	PollInterval  time.Duration
	DrainTimeout  time.Duration
	DrainAttempts int
	Logger        *log.Logger
	Recorder      Recorder
	NewID         func() string
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 300 * time.Millisecond
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 50 * time.Millisecond
	}
	if o.DrainAttempts <= 0 {
		o.DrainAttempts = 5
	}
	if o.Logger == nil {
		o.Logger = log.New(log.Writer(), "[RUNNER] ", log.LstdFlags)
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Runner drives a pipeline in the background and turns its narration into a
// stream of frames for a caller.
type Runner struct {
	pipeline  Pipeline
	clarifier agents.ClarifyCapability
	buses     status.Factory
	opts      Options
}

func NewRunner(p Pipeline, clarifier agents.ClarifyCapability, buses status.Factory, opts Options) *Runner {
	if buses == nil {
		buses = status.MemoryFactory
	}
	return &Runner{pipeline: p, clarifier: clarifier, buses: buses, opts: opts.withDefaults()}
}

// stream accumulates narration and emits frames.
type stream struct {
	ctx   context.Context
	out   chan<- Frame
	runID string
	lines []string
}

func (s *stream) add(msg string) {
	s.lines = append(s.lines, "• "+msg)
}

func (s *stream) text() string { return strings.Join(s.lines, "\n") }

// send delivers f unless the consumer is gone. Once the context is done the
// frame is offered without blocking.
func (s *stream) send(f Frame) {
	f.RunID = s.runID
	if s.ctx.Err() != nil {
		select {
		case s.out <- f:
		default:
		}
		return
	}
	select {
	case s.out <- f:
	case <-s.ctx.Done():
	}
}

// Stream starts a run and returns its frames. Every frame before the last
// carries Final=false and no HTML. The channel is closed after the final
// frame.
func (r *Runner) Stream(ctx context.Context, req Request) <-chan Frame {
	out := make(chan Frame, 16)
	runID := r.opts.NewID()
	go r.stream(ctx, runID, req, out)
	return out
}

func (r *Runner) stream(ctx context.Context, runID string, req Request, out chan Frame) {
	defer close(out)
	s := &stream{ctx: ctx, out: out, runID: runID}
	state := NewRunState(runID, req)

	if state.Query == "" {
		s.send(Frame{Final: true, Outcome: OutcomeFailed, Status: "Error: " + ErrEmptyQuery.Error()})
		telemetry.RecordRun(ctx, string(OutcomeFailed))
		return
	}

	bus, err := r.buses(runID)
	if err != nil {
		r.opts.Logger.Printf("run %s: open status bus: %v", runID, err)
		s.send(Frame{Final: true, Outcome: OutcomeFailed, Status: fmt.Sprintf("Error: %v", err)})
		telemetry.RecordRun(ctx, string(OutcomeFailed))
		return
	}
	defer func() {
		if err := bus.Close(); err != nil {
			r.opts.Logger.Printf("run %s: close status bus: %v", runID, err)
		}
	}()

	if err := bus.Publish(ctx, fmt.Sprintf("Run %s started", runID)); err != nil {
		r.opts.Logger.Printf("run %s: publish: %v", runID, err)
	}

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		html, err := r.pipeline.Run(ctx, state, bus)
		done <- result{html: html, err: err}
	}()

	var res result
	finished := false
	for !finished {
		ev, ok, err := bus.Poll(ctx, r.opts.PollInterval)
		switch {
		case err != nil:
			// The bus is unusable or the caller left; wait for the pipeline.
			res = <-done
			finished = true
		case ok:
			s.add(ev.Message)
			s.send(Frame{Status: s.text(), Outcome: OutcomeRunning})
		default:
			select {
			case res = <-done:
				finished = true
			default:
			}
		}
	}

	r.drain(ctx, bus, s)

	final := r.finalFrame(ctx, state, s, res.html, res.err)
	r.record(ctx, state, final, res.err)
	telemetry.RecordRun(ctx, string(final.Outcome))
	s.send(final)
}

// drain collects narration published after the pipeline finished.
func (r *Runner) drain(ctx context.Context, bus status.Bus, s *stream) {
	dctx := context.WithoutCancel(ctx)
	for i := 0; i < r.opts.DrainAttempts; i++ {
		ev, ok, err := bus.Poll(dctx, r.opts.DrainTimeout)
		if err != nil || !ok {
			return
		}
		s.add(ev.Message)
	}
}

func (r *Runner) finalFrame(ctx context.Context, state *RunState, s *stream, html string, err error) Frame {
	if err == nil {
		return Frame{Final: true, Outcome: OutcomeCompleted, Status: s.text(), HTML: html}
	}

	var trip *guardrail.TripwireError
	if errors.As(err, &trip) {
		if trip.Soft {
			questions, qerr := r.questions(ctx, state)
			if qerr != nil {
				r.opts.Logger.Printf("run %s: clarify after soft block: %v", state.RunID, qerr)
				s.add(fmt.Sprintf("Error: %v", &StepError{Step: StepClarify, Err: qerr}))
				return Frame{Final: true, Outcome: OutcomeFailed, Status: s.text(), Flags: trip.Flags}
			}
			s.add(formatQuestions(questions))
			return Frame{Final: true, Outcome: OutcomeClarify, Status: s.text(), Flags: trip.Flags, Questions: questions.List()}
		}
		label := "Input blocked by guardrails."
		if trip.Stage == guardrail.StageOutput {
			label = "Output blocked by guardrails."
		}
		s.add(fmt.Sprintf("%s\nReason: %s\nFlags: %s", label, trip.Brief, trip.FlagList()))
		return Frame{Final: true, Outcome: OutcomeBlocked, Status: s.text(), Flags: trip.Flags}
	}

	switch cause := stopCause(ctx, err); {
	case errors.Is(cause, context.DeadlineExceeded):
		s.add("Run timed out")
		return Frame{Final: true, Outcome: OutcomeCanceled, Status: s.text()}
	case errors.Is(cause, context.Canceled):
		s.add("Run canceled")
		return Frame{Final: true, Outcome: OutcomeCanceled, Status: s.text()}
	}
	s.add(fmt.Sprintf("Error: %v", err))
	return Frame{Final: true, Outcome: OutcomeFailed, Status: s.text()}
}

// stopCause returns the context error that ended the run, if any. The
// caller's context wins over whatever the failing step wrapped.
func stopCause(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	var stepErr *StepError
	if (errors.As(err, &stepErr) && stepErr.Canceled()) || errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return nil
}

// questions reuses what the clarify step produced, otherwise asks the
// clarifier directly.
func (r *Runner) questions(ctx context.Context, state *RunState) (agents.Questions, error) {
	if state.Questions != nil {
		return *state.Questions, nil
	}
	if r.clarifier == nil {
		return agents.Questions{}, errors.New("no clarifier configured")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	return r.clarifier.Invoke(ctx, state.Query)
}

func formatQuestions(q agents.Questions) string {
	return fmt.Sprintf("Clarifying questions:\n1) %s\n2) %s\n3) %s", q.Q1, q.Q2, q.Q3)
}

func (r *Runner) record(ctx context.Context, state *RunState, final Frame, runErr error) {
	if r.opts.Recorder == nil {
		return
	}
	rec := RunRecord{
		ID:             state.RunID,
		Query:          state.Query,
		Recipient:      state.Recipient,
		Outcome:        final.Outcome,
		Flags:          final.Flags,
		ShortSummary:   state.Draft.ShortSummary,
		ReportMarkdown: state.Draft.MarkdownReport,
		ReportHTML:     final.HTML,
		FollowUp:       state.Draft.FollowUpQuestions,
		Status:         final.Status,
		StartedAt:      state.StartedAt,
		FinishedAt:     time.Now().UTC(),
	}
	var trip *guardrail.TripwireError
	if errors.As(runErr, &trip) {
		rec.Brief = trip.Brief
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.opts.Recorder.SaveRun(sctx, rec); err != nil {
		r.opts.Logger.Printf("run %s: save record: %v", state.RunID, err)
	}
}

// Clarify produces three questions for query without starting a run.
func (r *Runner) Clarify(ctx context.Context, query string) (agents.Questions, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return agents.Questions{}, ErrEmptyQuery
	}
	if r.clarifier == nil {
		return agents.Questions{}, errors.New("no clarifier configured")
	}
	return r.clarifier.Invoke(ctx, query)
}
