package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/ElderMedic/FAIRiAgent-sub001/engine"
	"github.com/spf13/cobra"
)

func newProcessCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "process FILE...",
		Short: "Process documents through the pipeline",
		Long: `Process one or more plain text or markdown documents. Each document runs
in its own session; up to --workers sessions run concurrently.

Interrupting the command stops every session at its next stage boundary.
Stopped sessions are resumed with "fairiagent resume".

Examples:
  # Process two papers
  fairiagent process paper1.md paper2.md

  # Process under a fixed session id, resuming it if it already exists
  fairiagent process --session-id paper-1 paper1.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID != "" && len(args) > 1 {
				return fmt.Errorf("--session-id can only be used with a single file")
			}

			jobs := make([]engine.Job, 0, len(args))
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read file %s: %w", path, err)
				}
				jobs = append(jobs, engine.Job{
					SessionID: sessionID,
					Document:  fairiagent.Document{Reference: path, Content: string(content)},
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes := engine.NewPool(a.controller, workers).Process(ctx, jobs)
			if err := printOutcomes(cmd.OutOrStdout(), outcomes, root.jsonOutput); err != nil {
				return err
			}

			failed := 0
			for _, o := range outcomes {
				if o.Err != nil && !errors.Is(o.Err, fairiagent.ErrCancelled) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d %w", failed, len(outcomes), errSessionsFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id for a single document")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent sessions (defaults to controller.workers)")
	return cmd
}

type outcomeView struct {
	Reference string             `json:"reference"`
	SessionID string             `json:"session_id,omitempty"`
	Status    string             `json:"status"`
	Code      string             `json:"code,omitempty"`
	Error     string             `json:"error,omitempty"`
	Result    *fairiagent.Result `json:"result,omitempty"`
}

func viewOf(o engine.Outcome) outcomeView {
	v := outcomeView{Reference: o.Job.Document.Reference, SessionID: o.Job.SessionID, Result: o.Result}
	if o.Result != nil {
		v.SessionID = o.Result.SessionID
		v.Status = o.Result.Status.String()
	}
	if o.Err != nil {
		v.Code = fairiagent.ErrorCode(o.Err)
		v.Error = o.Err.Error()
		if v.Status == "" {
			v.Status = "error"
		}
	}
	return v
}

func printOutcomes(w io.Writer, outcomes []engine.Outcome, asJSON bool) error {
	views := make([]outcomeView, len(outcomes))
	for i, o := range outcomes {
		views[i] = viewOf(o)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSESSION\tSTATUS\tDETAIL")
	for _, v := range views {
		detail := v.Error
		if v.Code == fairiagent.ErrCodeCancelled {
			detail = "interrupted, resume with: fairiagent resume " + v.SessionID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Reference, v.SessionID, v.Status, detail)
	}
	return tw.Flush()
}

func printResult(w io.Writer, result *fairiagent.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(w, "Session: %s\n", result.SessionID)
	fmt.Fprintf(w, "Status:  %s\n", result.Status)
	if result.Error != nil {
		fmt.Fprintf(w, "Error:   [%s] %s (stage: %s)\n", result.Error.Code, result.Error.Message, result.Error.Stage)
	}
	printHistory(w, result.History)
	return nil
}

func printHistory(w io.Writer, history []fairiagent.Transition) {
	if len(history) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSEQ\tSTAGE\tATTEMPT\tDECISION\tSCORE\tREASON")
	for _, t := range history {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%.2f\t%s\n", t.Seq, t.Stage, t.Attempt, t.Decision, t.Score, t.Reason)
	}
	tw.Flush()
}

// runOne executes fn and prints its result. A failed or interrupted session
// still prints before the error is returned.
func runOne(ctx context.Context, cmd *cobra.Command, root *rootOptions, fn func(ctx context.Context, c *engine.Controller) (*fairiagent.Result, error)) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := fn(ctx, a.controller)
	if result != nil {
		if perr := printResult(cmd.OutOrStdout(), result, root.jsonOutput); perr != nil {
			return perr
		}
	}
	return err
}
