package guardrail

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/internal/llm"
)

const inputInstructions = `You are an input gate for a research system. Decide only whether the user query is safe and actionable.
Return JSON with fields ok (boolean), flags (array of strings) and brief (string).

Rules:
- Block: illegal/unsafe content, PII requests, adult-only content, or requests for private/live/inaccessible data.
  Use the flags "illegal", "unsafe", "pii", "adult" or "private_data" accordingly and set ok=false.
- If vague/underspecified, set ok=true and add "vague" in flags; use brief to suggest 1-2 clarifications.
- If safe and specific enough to research, ok=true with no flags.
Keep brief concise; no extra text beyond the JSON.`

const outputInstructions = `You are an output gate for research reports. Decide only whether the draft report is safe, factual-sounding, and properly structured.
Return JSON with fields ok (boolean), flags (array of strings) and brief (string).

Rules:
- Require: Executive summary, key findings, limitations, next steps (or equivalents). If missing, add "structure_missing".
- If content seems speculative without sources, add "speculative" and set ok=false.
- If privacy/safety concerns appear, add "unsafe" and set ok=false.
- Otherwise ok=true.
Keep brief concise; no extra text beyond the JSON.`

var verdictSchema = llm.MustCompileSchema("guardrail_verdict.json", `{
  "type": "object",
  "required": ["ok"],
  "properties": {
    "ok": {"type": "boolean"},
    "flags": {"type": "array", "items": {"type": "string"}},
    "brief": {"type": ["string", "null"]}
  }
}`)

// LLMEvaluator asks a model to classify text with stage-specific rules.
type LLMEvaluator struct {
	provider    llm.Provider
	model       string
	temperature float64
	attempts    int
}

func NewLLMEvaluator(provider llm.Provider, model string) *LLMEvaluator {
	return &LLMEvaluator{provider: provider, model: model, attempts: 2}
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, stage Stage, text string) (Verdict, error) {
	system := inputInstructions
	if stage == StageOutput {
		system = outputInstructions
	}
	return llm.Generate[Verdict](ctx, e.provider, "guardrail_"+string(stage), llm.Request{
		Model:       e.model,
		System:      system,
		Prompt:      text,
		Temperature: e.temperature,
	}, verdictSchema, e.attempts)
}
