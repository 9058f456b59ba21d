package guardrail

import (
	"fmt"
	"sort"
	"strings"
)

// Stage identifies where in the pipeline a text is gated.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
)

const defaultBrief = "No reason provided by the guardrail agent."

// Verdict is the evaluator's classification of a single text.
type Verdict struct {
	OK    bool     `json:"ok"`
	Flags []string `json:"flags"`
	Brief string   `json:"brief,omitempty"`
}

// Normalize lowercases, trims and dedupes flags, keeping first-seen order.
func (v Verdict) Normalize() Verdict {
	seen := make(map[string]struct{}, len(v.Flags))
	flags := make([]string, 0, len(v.Flags))
	for _, f := range v.Flags {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		flags = append(flags, f)
	}
	v.Flags = flags
	v.Brief = strings.TrimSpace(v.Brief)
	return v
}

// Has reports whether flag is present.
func (v Verdict) Has(flag string) bool {
	for _, f := range v.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// TripwireError is raised when a verdict aborts the pipeline. Soft trips are
// recoverable by asking the user clarifying questions.
type TripwireError struct {
	Stage Stage
	Flags []string
	Hits  []string
	Brief string
	Soft  bool
}

func (e *TripwireError) Error() string {
	kind := "blocked"
	if e.Soft {
		kind = "needs clarification"
	}
	return fmt.Sprintf("%s guardrail %s: %s (flags: %s)", e.Stage, kind, e.Brief, e.FlagList())
}

// FlagList renders the flags for display, "unspecified" when there are none.
func (e *TripwireError) FlagList() string {
	if len(e.Flags) == 0 {
		return "unspecified"
	}
	flags := append([]string(nil), e.Flags...)
	if e.Stage == StageInput {
		sort.Strings(flags)
	}
	return strings.Join(flags, ", ")
}
