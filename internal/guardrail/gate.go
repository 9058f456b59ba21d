package guardrail

import (
	"context"
	"fmt"
	"strings"
)

// Evaluator classifies text for a stage.
type Evaluator interface {
	Evaluate(ctx context.Context, stage Stage, text string) (Verdict, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, stage Stage, text string) (Verdict, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, stage Stage, text string) (Verdict, error) {
	return f(ctx, stage, text)
}

// Gate applies a Policy to an Evaluator's verdicts.
type Gate struct {
	eval   Evaluator
	policy Policy
}

func NewGate(eval Evaluator, policy Policy) *Gate {
	return &Gate{eval: eval, policy: policy.normalize()}
}

// Policy returns the active policy.
func (g *Gate) Policy() Policy { return g.policy }

// Check evaluates text and returns the normalized verdict. A *TripwireError is
// returned when the verdict aborts the stage. Evaluator failures are returned
// as plain errors and must be treated as pipeline errors by the caller.
func (g *Gate) Check(ctx context.Context, stage Stage, text string) (Verdict, error) {
	if stage == StageInput {
		text = ExtractQuery(text)
	}
	v, err := g.eval.Evaluate(ctx, stage, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("%s guardrail evaluation: %w", stage, err)
	}
	v = v.Normalize()
	if v.Brief == "" {
		v.Brief = defaultBrief
	}

	if hits := g.policy.HardHits(stage, v); len(hits) > 0 {
		return v, &TripwireError{Stage: stage, Flags: v.Flags, Hits: hits, Brief: v.Brief}
	}
	if stage == StageOutput && !v.OK && len(v.Flags) == 0 {
		return v, &TripwireError{Stage: stage, Brief: v.Brief}
	}
	if stage == StageInput && g.policy.BlockOnVague {
		if soft := g.policy.SoftHits(v); len(soft) > 0 {
			return v, &TripwireError{Stage: stage, Flags: v.Flags, Hits: soft, Brief: v.Brief, Soft: true}
		}
	}
	return v, nil
}

const queryMarker = "QUERY:"

// ExtractQuery returns the raw user intent from a framed pipeline message:
// the rest of the line following "QUERY:", or the whole trimmed text when no
// marker is present.
func ExtractQuery(message string) string {
	if _, tail, ok := strings.Cut(message, queryMarker); ok {
		line, _, _ := strings.Cut(tail, "\n")
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(message)
}
