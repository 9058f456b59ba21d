package main

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

func TestBuildRequestPairsAnswers(t *testing.T) {
	t.Parallel()
	req, err := buildRequest("ev batteries", "a@b.com", false, []string{"Region?"}, []string{"EU", "2024"})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if len(req.Clarifications) != 2 {
		t.Fatalf("clarifications = %+v", req.Clarifications)
	}
	if req.Clarifications[0] != (research.Clarification{Question: "Region?", Answer: "EU"}) {
		t.Fatalf("first pair = %+v", req.Clarifications[0])
	}
	if req.Clarifications[1].Question != "Clarification 2" || req.Clarifications[1].Answer != "2024" {
		t.Fatalf("second pair = %+v", req.Clarifications[1])
	}
	if _, err := buildRequest("q", "", false, nil, []string{"1", "2", "3", "4"}); err == nil {
		t.Fatalf("expected error for too many answers")
	}
}

func TestPrintFramesStreamsNewLines(t *testing.T) {
	t.Parallel()
	frames := make(chan research.Frame, 3)
	frames <- research.Frame{Status: "• a"}
	frames <- research.Frame{Status: "• a\n• b"}
	frames <- research.Frame{Status: "• a\n• b\n• c", Final: true, Outcome: research.OutcomeCompleted}
	close(frames)

	var stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetErr(&stderr)
	final, err := printFrames(cmd, frames)
	if err != nil {
		t.Fatalf("printFrames: %v", err)
	}
	if final.Outcome != research.OutcomeCompleted {
		t.Fatalf("final = %+v", final)
	}
	if got := stderr.String(); got != "• a\n• b\n• c\n" {
		t.Fatalf("stderr = %q", got)
	}
}

func TestPrintFramesRequiresFinal(t *testing.T) {
	t.Parallel()
	frames := make(chan research.Frame, 1)
	frames <- research.Frame{Status: "• a"}
	close(frames)
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})
	if _, err := printFrames(cmd, frames); err == nil {
		t.Fatalf("expected error without a final frame")
	}
}
