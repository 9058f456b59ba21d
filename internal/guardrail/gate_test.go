package guardrail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fixed(v Verdict) EvaluatorFunc {
	return func(context.Context, Stage, string) (Verdict, error) { return v, nil }
}

func TestExtractQuery(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"QUERY: QWERTY history\nUSER_CLARIFICATIONS: (none provided)\nRECIPIENT_EMAIL: a@b.c", "QWERTY history"},
		{"  plain question  ", "plain question"},
		{"prefix QUERY:   spaced  \nrest", "spaced"},
	}
	for _, tc := range cases {
		if got := ExtractQuery(tc.in); got != tc.want {
			t.Fatalf("ExtractQuery(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestGateEvaluatesOnlyRawQuery(t *testing.T) {
	t.Parallel()
	var seen string
	g := NewGate(EvaluatorFunc(func(_ context.Context, _ Stage, text string) (Verdict, error) {
		seen = text
		return Verdict{OK: true}, nil
	}), DefaultPolicy())
	if _, err := g.Check(context.Background(), StageInput, "QUERY: solar panels\nRECIPIENT_EMAIL: me@example.com"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if seen != "solar panels" {
		t.Fatalf("evaluator saw %q", seen)
	}
}

func TestGateInputDecisions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		verdict  Verdict
		policy   func(*Policy)
		wantTrip bool
		wantSoft bool
	}{
		{name: "clean", verdict: Verdict{OK: true}},
		{name: "pii blocks", verdict: Verdict{OK: false, Flags: []string{"PII"}, Brief: "asks for an address"}, wantTrip: true},
		{name: "vague continues", verdict: Verdict{OK: true, Flags: []string{"vague"}}},
		{name: "vague with block policy", verdict: Verdict{OK: true, Flags: []string{"vague"}}, policy: func(p *Policy) { p.BlockOnVague = true }, wantTrip: true, wantSoft: true},
		{name: "hard wins over soft", verdict: Verdict{Flags: []string{"vague", "illegal"}}, policy: func(p *Policy) { p.BlockOnVague = true }, wantTrip: true},
		{name: "speculative is not an input flag", verdict: Verdict{OK: true, Flags: []string{"speculative"}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			if tc.policy != nil {
				tc.policy(&p)
			}
			_, err := NewGate(fixed(tc.verdict), p).Check(context.Background(), StageInput, "QUERY: x")
			var trip *TripwireError
			if got := errors.As(err, &trip); got != tc.wantTrip {
				t.Fatalf("trip=%v want %v (err=%v)", got, tc.wantTrip, err)
			}
			if tc.wantTrip && trip.Soft != tc.wantSoft {
				t.Fatalf("soft=%v want %v", trip.Soft, tc.wantSoft)
			}
		})
	}
}

func TestGateOutputBlocksSpeculative(t *testing.T) {
	t.Parallel()
	g := NewGate(fixed(Verdict{OK: false, Flags: []string{"speculative", "structure_missing"}}), DefaultPolicy())
	_, err := g.Check(context.Background(), StageOutput, "# draft")
	var trip *TripwireError
	if !errors.As(err, &trip) {
		t.Fatalf("expected tripwire, got %v", err)
	}
	if trip.Brief != defaultBrief {
		t.Fatalf("brief default not applied: %q", trip.Brief)
	}
	if trip.FlagList() != "speculative, structure_missing" {
		t.Fatalf("flag list: %q", trip.FlagList())
	}
}

func TestGateOutputUnspecifiedRejection(t *testing.T) {
	t.Parallel()
	g := NewGate(fixed(Verdict{OK: false}), DefaultPolicy())
	_, err := g.Check(context.Background(), StageOutput, "draft")
	var trip *TripwireError
	if !errors.As(err, &trip) || trip.FlagList() != "unspecified" {
		t.Fatalf("expected unspecified trip, got %v", err)
	}
}

func TestGateEvaluatorFailureIsError(t *testing.T) {
	t.Parallel()
	boom := errors.New("model unavailable")
	g := NewGate(EvaluatorFunc(func(context.Context, Stage, string) (Verdict, error) {
		return Verdict{}, boom
	}), DefaultPolicy())
	_, err := g.Check(context.Background(), StageInput, "QUERY: x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped evaluator error, got %v", err)
	}
	var trip *TripwireError
	if errors.As(err, &trip) {
		t.Fatalf("evaluator failure must not look like a verdict")
	}
}

func TestInputFlagListSorted(t *testing.T) {
	t.Parallel()
	e := &TripwireError{Stage: StageInput, Flags: []string{"pii", "adult"}}
	if e.FlagList() != "adult, pii" {
		t.Fatalf("got %q", e.FlagList())
	}
	if !strings.Contains(e.Error(), "blocked") {
		t.Fatalf("error text: %q", e.Error())
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "guardrail.yaml")
	doc := "input_hard_flags: [Unsafe, weapons]\nblock_on_vague: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.InputHardFlags) != 2 || p.InputHardFlags[0] != "unsafe" || p.InputHardFlags[1] != "weapons" {
		t.Fatalf("input flags: %v", p.InputHardFlags)
	}
	if !p.BlockOnVague {
		t.Fatalf("block_on_vague not read")
	}
	if len(p.OutputHardFlags) != 6 || len(p.SoftFlags) != 1 {
		t.Fatalf("defaults not kept: %+v", p)
	}
	if _, err := LoadPolicy(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
