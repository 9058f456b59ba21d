package research

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyQuery = errors.New("query is required")

// Step names a pipeline stage.
type Step string

const (
	StepInputGuardrail  Step = "input_guardrail"
	StepClarify         Step = "clarify"
	StepPlan            Step = "plan"
	StepSearch          Step = "search"
	StepAggregate       Step = "aggregate"
	StepWrite           Step = "write"
	StepOutputGuardrail Step = "output_guardrail"
	StepConvert         Step = "convert"
	StepEmail           Step = "email"
)

// StepError is a fatal capability failure at a named step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Canceled reports whether the step stopped because its context was canceled.
func (e *StepError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}
