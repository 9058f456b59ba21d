package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/app"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var recipient string
	var skip bool
	var answers []string
	var questions []string
	var outPath string
	var run = &cobra.Command{
		Use:   "run <query>",
		Short: "Run one research request and write the HTML report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			req, err := buildRequest(strings.Join(args, " "), recipient, skip, questions, answers)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.General.RunTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.General.RunTimeout)
				defer cancel()
			}

			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			final, err := printFrames(cmd, a.Runner.Stream(ctx, req))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %s\n", final.RunID, outcomeLabel(final.Outcome))
			if final.Outcome != research.OutcomeCompleted {
				return fmt.Errorf("run %s ended %s", final.RunID, final.Outcome)
			}
			if outPath == "" {
				outPath = final.RunID + ".html"
			}
			if err := os.WriteFile(outPath, []byte(final.HTML), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", outPath)
			return nil
		},
	}
	run.Flags().StringVar(&recipient, "email", "", "recipient email address")
	run.Flags().BoolVar(&skip, "skip-clarifications", false, "do not ask or use clarifying questions")
	run.Flags().StringArrayVar(&questions, "question", nil, "clarifying question (repeatable, pairs with --answer)")
	run.Flags().StringArrayVar(&answers, "answer", nil, "answer to a clarifying question (repeatable)")
	run.Flags().StringVarP(&outPath, "out", "o", "", "report output path (default <run id>.html)")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

var (
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func outcomeLabel(o research.Outcome) string {
	switch o {
	case research.OutcomeCompleted:
		return green(string(o))
	case research.OutcomeClarify, research.OutcomeCanceled:
		return yellow(string(o))
	default:
		return red(string(o))
	}
}

// buildRequest pairs answers with questions by position. Answers without a
// question are numbered so the writer still sees them.
func buildRequest(query, recipient string, skip bool, questions, answers []string) (research.Request, error) {
	if len(questions) > research.MaxClarifications || len(answers) > research.MaxClarifications {
		return research.Request{}, fmt.Errorf("at most %d clarifications are accepted", research.MaxClarifications)
	}
	req := research.Request{Query: query, RecipientEmail: recipient, SkipClarifications: skip}
	n := len(questions)
	if len(answers) > n {
		n = len(answers)
	}
	for i := 0; i < n; i++ {
		var c research.Clarification
		if i < len(questions) {
			c.Question = questions[i]
		} else {
			c.Question = fmt.Sprintf("Clarification %d", i+1)
		}
		if i < len(answers) {
			c.Answer = answers[i]
		}
		req.Clarifications = append(req.Clarifications, c)
	}
	return req, nil
}

// printFrames writes each new status line as it arrives and returns the
// final frame.
func printFrames(cmd *cobra.Command, frames <-chan research.Frame) (research.Frame, error) {
	var last research.Frame
	printed := 0
	for fr := range frames {
		if len(fr.Status) > printed {
			fmt.Fprint(cmd.ErrOrStderr(), strings.TrimPrefix(fr.Status[printed:], "\n")+"\n")
			printed = len(fr.Status)
		}
		last = fr
	}
	if !last.Final {
		return last, fmt.Errorf("stream ended without a final frame")
	}
	return last, nil
}
